package console

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"glata-console/internal/transcript"
)

const resultPreviewLen = 60

// entryRenderer turns the assembled transcript into viewport content.
// markdown may be nil; assistant text then passes through unstyled.
type entryRenderer struct {
	markdown *glamour.TermRenderer
}

func (r entryRenderer) renderAll(entries []transcript.Entry) string {
	blocks := make([]string, 0, len(entries))
	for _, e := range entries {
		switch v := e.(type) {
		case transcript.Message:
			blocks = append(blocks, r.renderMessage(v))
		case transcript.ToolGroup:
			blocks = append(blocks, r.renderGroup(v))
		}
	}
	return strings.Join(blocks, "\n\n")
}

func (r entryRenderer) renderMessage(m transcript.Message) string {
	switch m.Role {
	case transcript.RoleUser:
		return userLabel.Render("You") + "\n" + userText.Render(m.Content)
	case transcript.RoleAssistant:
		return r.renderAssistant(m)
	case transcript.RoleTool:
		// A lone tool entry means the pairing result has not arrived yet
		// (or never will); show it as in flight.
		return r.renderToolMessage(m)
	default:
		return m.Content
	}
}

func (r entryRenderer) renderAssistant(m transcript.Message) string {
	content := m.Content
	if content != "" && r.markdown != nil {
		if rendered, err := r.markdown.Render(content); err == nil {
			content = strings.TrimRight(rendered, "\n")
		}
	}
	if m.Streaming {
		content += cursorStyle.Render("▊")
	}
	return agentLabel.Render("Agent") + "\n" + content
}

// renderGroup shows a merged call/result pair as one line, expandable to
// the full call arguments and result payload.
func (r entryRenderer) renderGroup(g transcript.ToolGroup) string {
	name := groupToolName(g)
	line := toolLine.Render(fmt.Sprintf("⚙ %s %s", toolName.Render(name),
		preview(resultPayload(g.Result), resultPreviewLen)))
	if !g.RevealCall {
		return line
	}

	var b strings.Builder
	b.WriteString(line)
	b.WriteString("\n")
	b.WriteString(toolDetail.Render("call:   " + callPayload(g.Call)))
	b.WriteString("\n")
	b.WriteString(toolDetail.Render("result: " + resultPayload(g.Result)))
	return b.String()
}

func (r entryRenderer) renderToolMessage(m transcript.Message) string {
	if m.Parsed != nil {
		switch m.Parsed.Type {
		case transcript.ParsedToolCall:
			return toolLine.Render(fmt.Sprintf("⚙ %s running…", toolName.Render(toolCallName(m))))
		case transcript.ParsedToolResult:
			return toolLine.Render(fmt.Sprintf("⚙ %s %s", toolName.Render(orTool(m.Parsed.ToolName)),
				preview(resultPayload(m), resultPreviewLen)))
		}
	}
	return toolLine.Render("⚙ " + preview(m.Content, resultPreviewLen))
}

// groupToolName prefers the parsed call function, falling back to the
// result's tool name when the call payload did not parse.
func groupToolName(g transcript.ToolGroup) string {
	if n := toolCallName(g.Call); n != "tool" {
		return n
	}
	if g.Result.Parsed != nil && g.Result.Parsed.ToolName != "" {
		return g.Result.Parsed.ToolName
	}
	return "tool"
}

func toolCallName(m transcript.Message) string {
	if m.Parsed != nil && m.Parsed.Function != "" {
		return m.Parsed.Function
	}
	return "tool"
}

func orTool(name string) string {
	if name == "" {
		return "tool"
	}
	return name
}

func callPayload(m transcript.Message) string {
	if m.Parsed != nil && m.Parsed.Function != "" {
		return m.Parsed.Function + " " + compactJSON(m.Parsed.Arguments)
	}
	return m.Content
}

func resultPayload(m transcript.Message) string {
	if m.Parsed != nil && m.Parsed.Result != nil {
		return compactJSON(m.Parsed.Result)
	}
	return m.Content
}

func compactJSON(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// preview flattens the payload to one truncated line.
func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
