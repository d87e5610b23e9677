package transcript

// Assemble merges each adjacent tool-call/tool-result pair into one
// ToolGroup. Single forward pass with one-step lookahead; the input is not
// mutated and relative order is preserved. A result without a directly
// preceding call passes through standalone.
func Assemble(ts []Message) []Entry {
	out := make([]Entry, 0, len(ts))
	for i := 0; i < len(ts); i++ {
		if isToolCall(ts[i]) && i+1 < len(ts) && isToolResult(ts[i+1]) {
			out = append(out, ToolGroup{
				Call:       ts[i],
				Result:     ts[i+1],
				RevealCall: ts[i].UIExpanded,
			})
			i++
			continue
		}
		out = append(out, ts[i])
	}
	return out
}

func isToolCall(m Message) bool {
	return m.Role == RoleTool && m.Parsed != nil && m.Parsed.Type == ParsedToolCall
}

func isToolResult(m Message) bool {
	return m.Role == RoleTool && m.Parsed != nil && m.Parsed.Type == ParsedToolResult
}
