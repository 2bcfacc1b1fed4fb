package llm

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/codemother/codemother/pkg/workflow"
)

// toolArgConfig names the parameter that identifies a tool call's target and
// the parameters whose values are streamed as they arrive.
type toolArgConfig struct {
	trigger   string
	streaming []string
	action    string
}

var toolArgConfigs = map[string]toolArgConfig{
	ToolWriteFile:              {trigger: "relativeFilePath", streaming: []string{"content"}, action: "write"},
	ToolModifyFile:             {trigger: "relativeFilePath", streaming: []string{"oldContent", "newContent"}, action: "modify"},
	ToolReadFile:               {trigger: "relativeFilePath", action: "read"},
	ToolReadDir:                {trigger: "relativeDirPath", action: "read"},
	ToolDeleteFile:             {trigger: "relativeFilePath", action: "delete"},
	ToolSearchContentImages:    {trigger: "query", action: "search"},
	ToolSearchIllustrations:    {trigger: "query", action: "search"},
	ToolGenerateLogos:          {trigger: "description", action: "generate"},
	ToolGenerateMermaidDiagram: {trigger: "mermaidCode", action: "generate"},
}

// IsStreamingTool reports whether the tool streams file content.
func IsStreamingTool(name string) bool {
	cfg, ok := toolArgConfigs[name]
	return ok && len(cfg.streaming) > 0
}

type extractorState int

const (
	extractInit extractorState = iota
	extractTrigger
	extractStreaming
	extractDone
)

// ToolArgumentsExtractor incrementally parses the JSON arguments of one tool
// call as the model streams them. It emits a tool_request message once the
// trigger parameter is complete and tool_streaming deltas for the streamed
// parameters, unescaped.
type ToolArgumentsExtractor struct {
	id     string
	name   string
	cfg    toolArgConfig
	known  bool
	state  extractorState
	raw    strings.Builder
	pos    int
	target string

	current  string
	sent     int
	finished map[string]bool
}

// NewToolArgumentsExtractor creates an extractor for the tool call id of tool
// name. Unknown tools produce no messages.
func NewToolArgumentsExtractor(id, name string) *ToolArgumentsExtractor {
	cfg, ok := toolArgConfigs[name]
	return &ToolArgumentsExtractor{
		id:       id,
		name:     name,
		cfg:      cfg,
		known:    ok,
		finished: make(map[string]bool),
	}
}

// Target returns the trigger parameter value once parsed.
func (e *ToolArgumentsExtractor) Target() string {
	return e.target
}

// Raw returns the accumulated argument JSON.
func (e *ToolArgumentsExtractor) Raw() string {
	return e.raw.String()
}

// Done reports whether every configured parameter was parsed.
func (e *ToolArgumentsExtractor) Done() bool {
	return e.state == extractDone
}

// Process consumes one fragment and returns the messages it completes.
func (e *ToolArgumentsExtractor) Process(delta string) []interface{} {
	if delta == "" || !e.known {
		return nil
	}
	e.raw.WriteString(delta)
	raw := e.raw.String()

	var out []interface{}
	switch e.state {
	case extractInit:
		e.processInit(raw, &out)
	case extractTrigger:
		e.processTrigger(raw, &out)
	case extractStreaming:
		e.processStreaming(raw, &out)
	}
	return out
}

// valueStart finds the opening quote of key's string value at or after from.
func valueStart(raw, key string, from int) int {
	search := `"` + key + `"`
	idx := strings.Index(raw[from:], search)
	if idx < 0 {
		return -1
	}
	idx += from + len(search)
	colon := strings.IndexByte(raw[idx:], ':')
	if colon < 0 {
		return -1
	}
	idx += colon + 1
	quote := strings.IndexByte(raw[idx:], '"')
	if quote < 0 {
		return -1
	}
	return idx + quote + 1
}

func (e *ToolArgumentsExtractor) processInit(raw string, out *[]interface{}) {
	start := valueStart(raw, e.cfg.trigger, 0)
	if start < 0 {
		return
	}
	e.state = extractTrigger
	e.pos = start
	e.processTrigger(raw, out)
}

func (e *ToolArgumentsExtractor) processTrigger(raw string, out *[]interface{}) {
	end := findStringEnd(raw, e.pos)
	if end < 0 {
		return
	}
	e.target = unescapeJSON(raw[e.pos:end])
	e.pos = end + 1
	*out = append(*out, workflow.NewToolRequest(e.id, e.name, e.target, e.cfg.action))

	if len(e.cfg.streaming) == 0 {
		e.state = extractDone
		return
	}
	e.state = extractStreaming
	e.processStreaming(raw, out)
}

// processStreaming searches from the start of the buffer: some models send
// the content before the file path.
func (e *ToolArgumentsExtractor) processStreaming(raw string, out *[]interface{}) {
	for {
		if e.current == "" {
			for _, param := range e.cfg.streaming {
				if e.finished[param] {
					continue
				}
				if start := valueStart(raw, param, 0); start >= 0 {
					e.current = param
					e.sent = start
					break
				}
			}
		}
		if e.current == "" {
			return
		}
		if !e.streamCurrent(raw, out) {
			return
		}
		if len(e.finished) == len(e.cfg.streaming) {
			e.state = extractDone
			return
		}
	}
}

// streamCurrent emits what is available of the current parameter and reports
// whether its closing quote was reached. An escape split across fragments is
// left for the next call.
func (e *ToolArgumentsExtractor) streamCurrent(raw string, out *[]interface{}) bool {
	var sb strings.Builder
	pos := e.sent
	closed := false

loop:
	for pos < len(raw) {
		c := raw[pos]
		switch {
		case c == '"':
			closed = true
			pos++
			break loop
		case c == '\\':
			r, n, ok := decodeEscape(raw, pos)
			if !ok {
				break loop
			}
			sb.WriteRune(r)
			pos += n
		case c >= utf8.RuneSelf:
			if !utf8.FullRuneInString(raw[pos:]) {
				break loop
			}
			_, n := utf8.DecodeRuneInString(raw[pos:])
			sb.WriteString(raw[pos : pos+n])
			pos += n
		default:
			sb.WriteByte(c)
			pos++
		}
	}

	if sb.Len() > 0 {
		*out = append(*out, workflow.NewToolStreaming(e.id, e.current, sb.String()))
	}
	e.sent = pos
	if closed {
		e.finished[e.current] = true
		e.current = ""
	}
	return closed
}

// findStringEnd returns the index of the quote closing the string starting at
// start, or -1 if it has not arrived yet.
func findStringEnd(raw string, start int) int {
	pos := start
	for pos < len(raw) {
		switch raw[pos] {
		case '"':
			return pos
		case '\\':
			_, n, ok := decodeEscape(raw, pos)
			if !ok {
				return -1
			}
			pos += n
		default:
			pos++
		}
	}
	return -1
}

// decodeEscape decodes the escape sequence at raw[pos] (a backslash). ok is
// false when the sequence is incomplete.
func decodeEscape(raw string, pos int) (r rune, n int, ok bool) {
	if pos+1 >= len(raw) {
		return 0, 0, false
	}
	next := raw[pos+1]
	if next != 'u' {
		switch next {
		case 'n':
			return '\n', 2, true
		case 't':
			return '\t', 2, true
		case 'r':
			return '\r', 2, true
		case 'b':
			return '\b', 2, true
		case 'f':
			return '\f', 2, true
		default:
			return rune(next), 2, true
		}
	}

	if pos+6 > len(raw) {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(raw[pos+2:pos+6], 16, 16)
	if err != nil {
		return '\\', 1, true
	}
	r1 := rune(v)
	if !utf16.IsSurrogate(r1) {
		return r1, 6, true
	}
	// Surrogate pair: need the low half too.
	if pos+12 > len(raw) {
		if pos+6 < len(raw) && raw[pos+6] != '\\' {
			return utf8.RuneError, 6, true
		}
		return 0, 0, false
	}
	if raw[pos+6] != '\\' || raw[pos+7] != 'u' {
		return utf8.RuneError, 6, true
	}
	v2, err := strconv.ParseUint(raw[pos+8:pos+12], 16, 16)
	if err != nil {
		return utf8.RuneError, 6, true
	}
	return utf16.DecodeRune(r1, rune(v2)), 12, true
}

func unescapeJSON(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for pos := 0; pos < len(s); {
		if s[pos] == '\\' {
			r, n, ok := decodeEscape(s, pos)
			if !ok {
				sb.WriteString(s[pos:])
				break
			}
			sb.WriteRune(r)
			pos += n
			continue
		}
		sb.WriteByte(s[pos])
		pos++
	}
	return sb.String()
}
