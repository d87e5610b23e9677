package protocol

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Legacy result frames carry plain text like `Tool result (lookup): {...}`.
var legacyResultPattern = regexp.MustCompile(`(?s)^Tool result \((.+?)\): (.*)$`)

// Decode classifies one raw inbound frame. It is total: it never panics and
// always returns at least one event, degrading to Unrecognized for shapes it
// does not know. Historical payload variants are tolerated.
//
// Decision order, first match wins:
//  1. error          -> ErrorEvent
//  2. delta.content  -> TextDelta
//  3. message        -> FinalMessage
//  4. tool_message   -> ToolCall / ToolResult by type
//  5. anything else  -> Unrecognized
//
// A result frame whose content also matches the legacy textual pattern
// yields a second ToolResult after the structured one.
func Decode(raw []byte) []Event {
	if !gjson.ValidBytes(raw) {
		return []Event{Unrecognized{}}
	}
	frame := gjson.ParseBytes(raw)
	if !frame.IsObject() {
		return []Event{Unrecognized{}}
	}

	if errField := frame.Get("error"); errField.Exists() {
		return []Event{ErrorEvent{Message: errorMessage(errField)}}
	}
	if delta := frame.Get("delta.content"); delta.Exists() {
		return []Event{TextDelta{Fragment: delta.String()}}
	}
	if msg := frame.Get("message"); msg.Exists() {
		return []Event{FinalMessage{Content: messageContent(msg)}}
	}
	if tm := frame.Get("tool_message"); tm.Exists() {
		return decodeToolMessage(tm)
	}
	return []Event{Unrecognized{}}
}

// errorMessage accepts both the bare-string form {"error": "..."} and the
// object form {"error": {"message": "..."}}.
func errorMessage(res gjson.Result) string {
	if res.IsObject() {
		if m := res.Get("message"); m.Exists() {
			return m.String()
		}
		return res.Raw
	}
	return res.String()
}

// messageContent accepts {"message": {"content": "..."}} and the older bare
// form {"message": "..."}.
func messageContent(res gjson.Result) string {
	if res.IsObject() {
		return res.Get("content").String()
	}
	return res.String()
}

func decodeToolMessage(tm gjson.Result) []Event {
	content := tm.Get("content").String()
	switch tm.Get("type").String() {
	case "call":
		return []Event{decodeToolCall(content)}
	case "result":
		events := []Event{decodeToolResult(content, tm.Get("tool_name").String())}
		if legacy, ok := decodeLegacyResult(content); ok {
			events = append(events, legacy)
		}
		return events
	}
	return []Event{Unrecognized{}}
}

// decodeToolCall parses the call payload {"function": ..., "arguments": ...}
// where arguments is itself a JSON-encoded string. Parsing is all or
// nothing: any failure returns an unparsed ToolCall holding only the raw
// content.
func decodeToolCall(content string) Event {
	unparsed := ToolCall{RawContent: content}

	var payload struct {
		Function  string          `json:"function"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return unparsed
	}
	if payload.Function == "" {
		return unparsed
	}
	var argsText string
	if err := json.Unmarshal(payload.Arguments, &argsText); err != nil {
		return unparsed
	}
	var args any
	if err := json.Unmarshal([]byte(argsText), &args); err != nil {
		return unparsed
	}

	return ToolCall{
		RawContent:   content,
		FunctionName: payload.Function,
		Arguments:    args,
		Parsed:       true,
	}
}

// decodeToolResult parses the result payload as JSON with keys normalized to
// camelCase. On parse failure Result falls back to the raw content string.
func decodeToolResult(content, toolName string) Event {
	res := ToolResult{RawContent: content, ToolName: toolName}

	var payload any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		res.Result = content
		return res
	}
	payload = normalizeKeys(payload)
	res.Result = payload

	if res.ToolName == "" {
		if m, ok := payload.(map[string]any); ok {
			if name, ok := m["toolName"].(string); ok {
				res.ToolName = name
			}
		}
	}
	return res
}

func decodeLegacyResult(content string) (ToolResult, bool) {
	m := legacyResultPattern.FindStringSubmatch(content)
	if m == nil {
		return ToolResult{}, false
	}
	res := ToolResult{RawContent: content, ToolName: m[1]}
	var payload any
	if err := json.Unmarshal([]byte(m[2]), &payload); err != nil {
		res.Result = m[2]
		return res, true
	}
	res.Result = normalizeKeys(payload)
	return res, true
}

// normalizeKeys rewrites map keys from snake_case to camelCase, recursing
// through nested objects and arrays.
func normalizeKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[camelKey(k)] = normalizeKeys(inner)
		}
		return out
	case []any:
		for i := range val {
			val[i] = normalizeKeys(val[i])
		}
		return val
	default:
		return v
	}
}

func camelKey(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
