package workflow

import (
	"encoding/json"
	"fmt"
)

// MessageType is the stable tag of every streamed JSON message. Consumers
// ignore tags they do not know.
type MessageType string

const (
	MessageAIResponse    MessageType = "ai_response"
	MessageToolRequest   MessageType = "tool_request"
	MessageToolStreaming MessageType = "tool_streaming"
	MessageToolExecuted  MessageType = "tool_executed"
)

// AIResponseMessage carries assistant or workflow text.
type AIResponseMessage struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`

	// MsgType is MsgTypeLog for workflow narration, empty for model output.
	MsgType string `json:"msgType,omitempty"`
}

const (
	// MsgTypeLog marks narration that is shown but not kept in chat history.
	MsgTypeLog = "log"
	// MsgTypeError marks the final chunk of a run the engine aborted.
	MsgTypeError = "error"
)

// NewLogMessage builds an ai_response carrying workflow narration.
func NewLogMessage(data string) AIResponseMessage {
	return AIResponseMessage{Type: MessageAIResponse, Data: data, MsgType: MsgTypeLog}
}

// ToolRequestMessage announces a tool call once its target is known.
type ToolRequestMessage struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	FilePath  string      `json:"filePath,omitempty"`
	Action    string      `json:"action,omitempty"`
	Arguments string      `json:"arguments,omitempty"`
}

// ToolStreamingMessage carries a fragment of a streamed tool parameter.
type ToolStreamingMessage struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	ParamName string      `json:"paramName"`
	Delta     string      `json:"delta"`
}

// ToolExecutedMessage reports a finished tool call.
type ToolExecutedMessage struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	Name      string      `json:"name"`
	Arguments string      `json:"arguments"`
	Result    string      `json:"result,omitempty"`
}

// NewAIResponse builds an ai_response message.
func NewAIResponse(data string) AIResponseMessage {
	return AIResponseMessage{Type: MessageAIResponse, Data: data}
}

// NewToolRequest builds a tool_request message.
func NewToolRequest(id, name, filePath, action string) ToolRequestMessage {
	return ToolRequestMessage{Type: MessageToolRequest, ID: id, Name: name, FilePath: filePath, Action: action}
}

// NewToolStreaming builds a tool_streaming message.
func NewToolStreaming(id, param, delta string) ToolStreamingMessage {
	return ToolStreamingMessage{Type: MessageToolStreaming, ID: id, ParamName: param, Delta: delta}
}

// NewToolExecuted builds a tool_executed message.
func NewToolExecuted(id, name, arguments, result string) ToolExecutedMessage {
	return ToolExecutedMessage{Type: MessageToolExecuted, ID: id, Name: name, Arguments: arguments, Result: result}
}

// Encode marshals a stream message. The message types above always marshal.
func Encode(msg interface{}) string {
	b, err := json.Marshal(msg)
	if err != nil {
		fallback, _ := json.Marshal(NewAIResponse(fmt.Sprintf("unencodable message: %v", err)))
		return string(fallback)
	}
	return string(b)
}

// Envelope peeks at the tag of an encoded message.
type Envelope struct {
	Type MessageType `json:"type"`
}

// Decode reads the tag of an encoded message. Plain text yields an empty tag.
func Decode(raw string) MessageType {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return ""
	}
	return env.Type
}

// Emit pushes a raw chunk to this execution's sink. Without a sink it is a
// no-op.
func (c *Context) Emit(raw string) {
	c.Registry().Emit(c.ExecutionID, raw)
}

// EmitMessage encodes msg and emits it.
func (c *Context) EmitMessage(msg interface{}) {
	c.Emit(Encode(msg))
}

// EmitText emits text as an ai_response message.
func (c *Context) EmitText(text string) {
	c.EmitMessage(NewAIResponse(text))
}

// EmitLog emits workflow narration.
func (c *Context) EmitLog(text string) {
	c.EmitMessage(NewLogMessage(text))
}

// EmitNodeMessage emits "[node] msg" as narration.
func (c *Context) EmitNodeMessage(node, msg string) {
	c.EmitLog(fmt.Sprintf("[%s] %s", node, msg))
}

// EmitNodeStart announces a node.
func (c *Context) EmitNodeStart(node string) {
	c.EmitNodeMessage(node, "started\n")
}

// EmitNodeComplete closes a node.
func (c *Context) EmitNodeComplete(node string) {
	c.EmitNodeMessage(node, "completed\n")
}

// EmitNodeError reports a node failure.
func (c *Context) EmitNodeError(node, errMsg string) {
	c.EmitNodeMessage(node, "failed: "+errMsg+"\n")
}
