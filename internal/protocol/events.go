package protocol

// Event is a sealed interface over everything the gateway can push on the
// chat socket. Transport errors are not events; they surface from the
// connection manager. The unexported marker method prevents external
// implementations, so switches over Event stay exhaustive.
type Event interface {
	event()
}

// TextDelta is one incremental fragment of the assistant reply being
// streamed for the open placeholder.
type TextDelta struct {
	Fragment string
}

func (TextDelta) event() {}

// FinalMessage is a complete, discrete assistant message.
type FinalMessage struct {
	Content string
}

func (FinalMessage) event() {}

// ToolCall reports that the agent invoked a tool. Parsed is false when the
// frame content did not carry a well-formed call payload; RawContent always
// holds the original content string so nothing is lost.
type ToolCall struct {
	RawContent   string
	FunctionName string
	Arguments    any
	Parsed       bool
}

func (ToolCall) event() {}

// ToolResult carries the outcome of a tool invocation. Result holds the
// decoded payload, or the raw content string when decoding failed.
type ToolResult struct {
	RawContent string
	ToolName   string
	Result     any
}

func (ToolResult) event() {}

// ErrorEvent is a server-reported failure for the current turn.
type ErrorEvent struct {
	Message string
}

func (ErrorEvent) event() {}

// Unrecognized stands in for any frame shape the decoder does not know.
// Callers treat it as a no-op.
type Unrecognized struct{}

func (Unrecognized) event() {}

var (
	_ Event = TextDelta{}
	_ Event = FinalMessage{}
	_ Event = ToolCall{}
	_ Event = ToolResult{}
	_ Event = ErrorEvent{}
	_ Event = Unrecognized{}
)
