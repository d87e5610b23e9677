package transcript

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ParsedContent type values.
const (
	ParsedToolCall   = "tool_call"
	ParsedToolResult = "tool_result"
)

// ParsedContent is the structured form of a tool message, serialized the way
// the dashboard API shapes it.
type ParsedContent struct {
	Type      string `json:"type"`
	Function  string `json:"function,omitempty"`
	Arguments any    `json:"arguments,omitempty"`
	ToolName  string `json:"toolName,omitempty"`
	Result    any    `json:"result,omitempty"`
}

// Message is one transcript entry. Streaming marks the open assistant
// placeholder created by Submit, the only entry deltas may mutate; it is
// never set on history records or completed messages.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Parsed     *ParsedContent `json:"parsedContent,omitempty"`
	UIExpanded bool           `json:"-"`
	Streaming  bool           `json:"-"`
}

// Entry is what the presentation layer renders: a plain Message or a merged
// ToolGroup. The marker method keeps the set closed.
type Entry interface {
	entry()
}

// ToolGroup is a presentation-level merge of one adjacent tool-call and
// tool-result pair.
type ToolGroup struct {
	Call       Message
	Result     Message
	RevealCall bool
}

func (Message) entry()   {}
func (ToolGroup) entry() {}

var (
	_ Entry = Message{}
	_ Entry = ToolGroup{}
)

// HistoryRecord is one persisted message as the history endpoint returns it.
type HistoryRecord struct {
	Role    string         `json:"role"`
	Content string         `json:"content"`
	Parsed  *ParsedContent `json:"parsedContent,omitempty"`
}
