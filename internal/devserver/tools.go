package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Tool is one demo tool the devserver can run. Spec is the function
// definition the bridge advertises upstream; the scripted engine calls
// Invoke directly. Results are JSON strings, matching the wire contract for
// tool_message result content.
type Tool interface {
	Name() string
	Spec() openai.FunctionDefinition
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

type Toolbox struct {
	tools map[string]Tool
}

func NewToolbox() *Toolbox {
	tb := &Toolbox{tools: make(map[string]Tool)}
	tb.register(&LookupTool{entries: defaultKnowledge})
	tb.register(&ClockTool{})
	return tb
}

func (t *Toolbox) register(tool Tool) {
	t.tools[tool.Name()] = tool
}

func (t *Toolbox) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := t.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return tool.Invoke(ctx, args)
}

// Definitions lists every tool in OpenAI function-calling shape.
func (t *Toolbox) Definitions() []openai.Tool {
	defs := make([]openai.Tool, 0, len(t.tools))
	for _, tool := range t.tools {
		def := tool.Spec()
		defs = append(defs, openai.Tool{Type: openai.ToolTypeFunction, Function: &def})
	}
	return defs
}

// LookupTool answers queries from a small built-in table. It exists to give
// tool-call frames something deterministic to carry.
type LookupTool struct {
	entries map[string]string
}

var defaultKnowledge = map[string]string{
	"glata":      "Glata is the agent dashboard this gateway develops against.",
	"gateway":    "The chat gateway pushes delta, message, and tool_message frames over one websocket.",
	"console":    "The console is the terminal client bundled in this repository.",
	"transcript": "The transcript is the ordered message list the client folds stream events into.",
	"tool group": "A tool group is an adjacent call/result pair merged for display.",
}

func (t *LookupTool) Name() string { return "lookup" }

func (t *LookupTool) Spec() openai.FunctionDefinition {
	return openai.FunctionDefinition{
		Name:        "lookup",
		Description: "Look up a term in the built-in knowledge table. Use it whenever the user asks what something is.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Term or question to look up.",
				},
			},
			"required": []string{"query"},
		},
	}
}

func (t *LookupTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("lookup: missing query")
	}

	needle := strings.ToLower(query)
	for term, definition := range t.entries {
		if strings.Contains(needle, term) {
			out, _ := json.Marshal(map[string]any{
				"query":      query,
				"match":      term,
				"definition": definition,
			})
			return string(out), nil
		}
	}

	out, _ := json.Marshal(map[string]any{"query": query, "match": nil})
	return string(out), nil
}

// ClockTool reports the current time, optionally in a named zone.
type ClockTool struct{}

func (t *ClockTool) Name() string { return "clock" }

func (t *ClockTool) Spec() openai.FunctionDefinition {
	return openai.FunctionDefinition{
		Name:        "clock",
		Description: "Report the current date and time.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"zone": map[string]any{
					"type":        "string",
					"description": "IANA time zone name, e.g. Europe/Berlin. Defaults to the server zone.",
				},
			},
		},
	}
}

func (t *ClockTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	loc := time.Local
	if zone, _ := args["zone"].(string); zone != "" {
		parsed, err := time.LoadLocation(zone)
		if err != nil {
			return "", fmt.Errorf("clock: %w", err)
		}
		loc = parsed
	}

	now := time.Now().In(loc)
	out, _ := json.Marshal(map[string]any{
		"time": now.Format(time.RFC3339),
		"zone": loc.String(),
	})
	return string(out), nil
}
