package protocol

import (
	"encoding/json"
	"fmt"
)

// WireMessage is one entry of the conversational context replayed to the
// agent on each turn.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Outbound is the client→server frame submitted over the chat socket.
// AgentInstanceID routes the turn to a specific agent when the gateway
// hosts several.
type Outbound struct {
	Messages        []WireMessage `json:"messages"`
	Stream          bool          `json:"stream"`
	ChatID          string        `json:"chat_id"`
	AgentInstanceID string        `json:"agent_instance_id,omitempty"`
}

// ServerFrame is implemented by every frame shape the gateway pushes to the
// client. Decode tolerates looser historical variants; these structs are the
// canonical current shapes, and what the bundled devserver emits.
type ServerFrame interface {
	serverFrame()
}

// DeltaFrame carries one incremental fragment of assistant text.
type DeltaFrame struct {
	Delta DeltaBody `json:"delta"`
}

type DeltaBody struct {
	Content string `json:"content"`
}

// MessageFrame carries a complete assistant message in one piece.
type MessageFrame struct {
	Message MessageBody `json:"message"`
}

type MessageBody struct {
	Content string `json:"content"`
}

// ErrorFrame reports a turn-level failure.
type ErrorFrame struct {
	Error string `json:"error"`
}

// ToolMessageFrame reports a tool invocation ("call") or its outcome
// ("result"). Content is the payload described on ToolMessageBody.
type ToolMessageFrame struct {
	ToolMessage ToolMessageBody `json:"tool_message"`
}

type ToolMessageBody struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	ToolName string `json:"tool_name,omitempty"`
}

func (DeltaFrame) serverFrame()       {}
func (MessageFrame) serverFrame()     {}
func (ErrorFrame) serverFrame()       {}
func (ToolMessageFrame) serverFrame() {}

// NewDelta wraps one text fragment.
func NewDelta(fragment string) DeltaFrame {
	return DeltaFrame{Delta: DeltaBody{Content: fragment}}
}

// NewMessage wraps a complete assistant message.
func NewMessage(content string) MessageFrame {
	return MessageFrame{Message: MessageBody{Content: content}}
}

// NewError wraps a turn failure description.
func NewError(msg string) ErrorFrame {
	return ErrorFrame{Error: msg}
}

// NewToolCall builds a call frame. Arguments are marshaled twice: the call
// content is a JSON object whose arguments field holds the arguments as a
// JSON-encoded string, which is what decodeToolCall undoes on the way in.
func NewToolCall(function string, args any) (ToolMessageFrame, error) {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return ToolMessageFrame{}, fmt.Errorf("marshal tool arguments: %w", err)
	}
	content, err := json.Marshal(struct {
		Function  string `json:"function"`
		Arguments string `json:"arguments"`
	}{Function: function, Arguments: string(rawArgs)})
	if err != nil {
		return ToolMessageFrame{}, fmt.Errorf("marshal tool call: %w", err)
	}
	return ToolMessageFrame{ToolMessage: ToolMessageBody{Type: "call", Content: string(content)}}, nil
}

// NewToolResult builds a result frame; content carries the tool's payload
// verbatim.
func NewToolResult(toolName, content string) ToolMessageFrame {
	return ToolMessageFrame{ToolMessage: ToolMessageBody{Type: "result", Content: content, ToolName: toolName}}
}
