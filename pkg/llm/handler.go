package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codemother/codemother/pkg/workflow"
)

// HistoryWriter records chat messages of an app.
type HistoryWriter interface {
	Append(ctx context.Context, appID int64, role, text string) error
}

// ChunkSource is a finished-or-running stream of encoded messages.
type ChunkSource interface {
	C() <-chan string
	Err() error
}

// MessageStreamHandler turns encoded stream messages into client chunks of
// the form {"d": text} and records the assistant reply in chat history when
// the stream ends.
type MessageStreamHandler struct {
	history HistoryWriter
	logger  zerolog.Logger
}

// NewMessageStreamHandler creates a handler. history may be nil.
func NewMessageStreamHandler(history HistoryWriter) *MessageStreamHandler {
	return &MessageStreamHandler{
		history: history,
		logger:  log.With().Str("component", "llm.handler").Logger(),
	}
}

// ClientChunk is what a client receives.
type ClientChunk struct {
	D       string `json:"d"`
	MsgType string `json:"msgType,omitempty"`
}

// ErrorChunk reports whether chunk is the terminal error chunk of a failed
// run, and returns its message.
func ErrorChunk(chunk string) (string, bool) {
	var c ClientChunk
	if err := json.Unmarshal([]byte(chunk), &c); err != nil || c.MsgType != workflow.MsgTypeError {
		return "", false
	}
	return c.D, true
}

// Handle consumes src until it closes. A run that failed ends with one
// chunk of msgType "error" after the last successful chunk. The returned
// channel is closed after history was written.
func (h *MessageStreamHandler) Handle(ctx context.Context, src ChunkSource, appID int64) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		var reply strings.Builder
		seen := map[string]bool{}
		send := func(text string) {
			select {
			case out <- text:
			case <-ctx.Done():
			}
		}

		for chunk := range src.C() {
			if text := h.translate(chunk, &reply, seen); text != "" {
				send(text)
			}
		}
		runErr := src.Err()
		if runErr != nil {
			send(encodeChunk(ClientChunk{D: runErr.Error(), MsgType: workflow.MsgTypeError}))
		}

		if h.history == nil {
			return
		}
		record := reply.String()
		if runErr != nil {
			record = "AI reply failed: " + runErr.Error()
		}
		if err := h.history.Append(context.WithoutCancel(ctx), appID, "ai", record); err != nil {
			h.logger.Error().Err(err).Int64("app_id", appID).Msg("failed to save ai reply")
		}
	}()
	return out
}

func encodeChunk(c ClientChunk) string {
	b, _ := json.Marshal(c)
	return string(b)
}

func (h *MessageStreamHandler) translate(chunk string, reply *strings.Builder, seen map[string]bool) string {
	switch workflow.Decode(chunk) {
	case workflow.MessageAIResponse:
		var msg workflow.AIResponseMessage
		if err := json.Unmarshal([]byte(chunk), &msg); err != nil {
			return ""
		}
		if msg.MsgType != workflow.MsgTypeLog {
			reply.WriteString(msg.Data)
		}
		return encodeChunk(ClientChunk{D: msg.Data, MsgType: msg.MsgType})

	case workflow.MessageToolRequest:
		var msg workflow.ToolRequestMessage
		if err := json.Unmarshal([]byte(chunk), &msg); err != nil || msg.ID == "" || seen[msg.ID] {
			return ""
		}
		seen[msg.ID] = true
		switch msg.Name {
		case ToolWriteFile:
			return encodeChunk(ClientChunk{D: fmt.Sprintf("\n📝 Writing `%s`...\n", msg.FilePath)})
		case ToolModifyFile:
			return encodeChunk(ClientChunk{D: fmt.Sprintf("\n📝 Modifying `%s`...\n", msg.FilePath)})
		}
		return encodeChunk(ClientChunk{D: fmt.Sprintf("\n[tool] %s\n", msg.Name)})

	case workflow.MessageToolExecuted:
		var msg workflow.ToolExecutedMessage
		if err := json.Unmarshal([]byte(chunk), &msg); err != nil {
			return ""
		}
		result := executedSummary(msg)
		reply.WriteString(result)
		return encodeChunk(ClientChunk{D: "\n" + result + "\n"})

	case workflow.MessageToolStreaming:
		// Deltas are for rich clients subscribed to raw messages.
		return ""
	}

	h.logger.Debug().Str("chunk", truncate(chunk, 80)).Msg("ignoring unknown message")
	return ""
}

// executedSummary renders a finished tool call for chat history.
func executedSummary(msg workflow.ToolExecutedMessage) string {
	var args fileArgs
	_ = json.Unmarshal([]byte(msg.Arguments), &args)

	switch msg.Name {
	case ToolWriteFile:
		lang := strings.TrimPrefix(filepath.Ext(args.RelativeFilePath), ".")
		return fmt.Sprintf("[tool] wrote %s\n```%s\n%s\n```", args.RelativeFilePath, lang, args.Content)
	case ToolModifyFile:
		return fmt.Sprintf("[tool] modified %s", args.RelativeFilePath)
	case ToolReadFile:
		return fmt.Sprintf("[tool] read %s", args.RelativeFilePath)
	case ToolReadDir:
		dir := args.RelativeDirPath
		if dir == "" {
			dir = "."
		}
		return fmt.Sprintf("[tool] listed %s", dir)
	case ToolDeleteFile:
		return fmt.Sprintf("[tool] deleted %s", args.RelativeFilePath)
	}
	return fmt.Sprintf("[tool] %s", msg.Name)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
