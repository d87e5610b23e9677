package transcript

import (
	"glata-console/internal/protocol"
)

// Submit appends the user's message and the empty assistant placeholder the
// upcoming stream will fill. Any placeholder still open from the previous
// turn is closed first, so the new one becomes the sole delta target. Like
// Fold, Submit never mutates its input.
func Submit(ts []Message, text string) []Message {
	out := closePlaceholder(clone(ts, 2))
	return append(out,
		Message{Role: RoleUser, Content: text},
		Message{Role: RoleAssistant, Streaming: true},
	)
}

// Fold applies one decoded event to the transcript and returns the result.
// The transcript is append-only with a single exception: a TextDelta extends
// the content of the last entry, and only while that entry is the open
// placeholder. Every event that appends an entry closes a trailing open
// placeholder first, so at most one entry is ever open and it is always the
// last. Events must be folded in strict frame-arrival order.
func Fold(ts []Message, ev protocol.Event) []Message {
	switch e := ev.(type) {
	case protocol.TextDelta:
		if !openPlaceholderLast(ts) {
			// No valid target. Folding anywhere else would corrupt a
			// completed message, so the fragment is dropped.
			return ts
		}
		out := clone(ts, 0)
		out[len(out)-1].Content += e.Fragment
		return out

	case protocol.FinalMessage:
		out := clone(ts, 1)
		if n := len(out); n > 0 && out[n-1].Streaming && out[n-1].Content == "" {
			// Nothing was streamed into the placeholder; the discrete
			// message supersedes it.
			out = out[:n-1]
		}
		out = closePlaceholder(out)
		return append(out, Message{Role: RoleAssistant, Content: e.Content})

	case protocol.ToolCall:
		parsed := &ParsedContent{Type: ParsedToolCall}
		if e.Parsed {
			parsed.Function = e.FunctionName
			parsed.Arguments = e.Arguments
		}
		out := closePlaceholder(clone(ts, 1))
		return append(out, Message{Role: RoleTool, Content: e.RawContent, Parsed: parsed})

	case protocol.ToolResult:
		parsed := &ParsedContent{Type: ParsedToolResult, ToolName: e.ToolName, Result: e.Result}
		out := closePlaceholder(clone(ts, 1))
		return append(out, Message{Role: RoleTool, Content: e.RawContent, Parsed: parsed})

	case protocol.ErrorEvent:
		n := len(ts)
		if n == 0 || ts[n-1].Role != RoleAssistant {
			return ts
		}
		out := clone(ts, 0)
		out[n-1].Content += "\nError: " + e.Message
		return out

	default:
		// Unrecognized and any future variant: no-op.
		return ts
	}
}

// LoadHistory maps persisted records 1:1 onto messages. The history endpoint
// pages newest first; the returned transcript is chronological.
func LoadHistory(records []HistoryRecord) []Message {
	out := make([]Message, len(records))
	for i, r := range records {
		out[len(records)-1-i] = Message{Role: r.Role, Content: r.Content, Parsed: r.Parsed}
	}
	return out
}

func openPlaceholderLast(ts []Message) bool {
	if len(ts) == 0 {
		return false
	}
	last := ts[len(ts)-1]
	return last.Role == RoleAssistant && last.Streaming
}

// closePlaceholder clears the open flag on a trailing placeholder. It writes
// in place, so callers pass a slice they own. Once something is appended past
// the placeholder the stream has moved on and no delta may land there again.
func closePlaceholder(ts []Message) []Message {
	if n := len(ts); n > 0 && ts[n-1].Streaming {
		ts[n-1].Streaming = false
	}
	return ts
}

func clone(ts []Message, extra int) []Message {
	out := make([]Message, len(ts), len(ts)+extra)
	copy(out, ts)
	return out
}
