package devserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"glata-console/internal/protocol"
	"glata-console/internal/storage"
)

const (
	scriptGreeting = "Hello! This is the bundled development gateway. Try \"look up glata\", " +
		"\"what time is it\", or \"demo markdown\" to exercise the tool and streaming paths."

	scriptCapabilities = "I am the scripted reply engine. Keywords I react to:\n\n" +
		"- **look up <term>** runs the lookup tool against the built-in table\n" +
		"- **time** or **clock** runs the clock tool\n" +
		"- **error** fails mid-stream on purpose\n" +
		"- **demo markdown** streams a formatting sample\n\n" +
		"Anything else gets this reply."

	scriptMarkdown = "# Formatting check\n\nA few constructs, streamed in small batches:\n\n" +
		"1. `inline code`\n" +
		"2. **bold** and *italic*\n\n" +
		"```go\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n```\n\n" +
		"> Rendered on the client, not here."

	scriptFailureMessage = "scripted failure (keyword trigger)"
	scriptFailurePartial = "Working on it"
)

func toolConclusion(name string) string {
	return fmt.Sprintf("That came from the %s tool; toggle the entry above to inspect the raw call.", name)
}

// ScriptEngine produces canned replies keyed off words in the user message,
// so every frame shape the gateway can emit is reachable from the keyboard.
type ScriptEngine struct {
	delay time.Duration
	tools *Toolbox
}

func NewScriptEngine(delay time.Duration) *ScriptEngine {
	if delay <= 0 {
		delay = 40 * time.Millisecond
	}
	return &ScriptEngine{delay: delay, tools: NewToolbox()}
}

func (e *ScriptEngine) Reply(ctx context.Context, turn *protocol.Outbound, send SendFunc) ([]storage.Message, error) {
	text, _ := latestUserMessage(turn.Messages)
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "fail"):
		return e.failingTurn(ctx, send)
	case strings.Contains(lower, "look up") || strings.Contains(lower, "lookup") || strings.Contains(lower, "search"):
		return e.toolTurn(ctx, send, "lookup", map[string]any{"query": text})
	case strings.Contains(lower, "time") || strings.Contains(lower, "clock"):
		return e.toolTurn(ctx, send, "clock", map[string]any{})
	case strings.Contains(lower, "markdown") || strings.Contains(lower, "demo"):
		return e.streamedTurn(ctx, send, scriptMarkdown)
	case hasWord(lower, "hello") || hasWord(lower, "hi") || hasWord(lower, "hey"):
		return e.oneShotTurn(send, scriptGreeting)
	default:
		return e.streamedTurn(ctx, send, scriptCapabilities)
	}
}

// oneShotTurn delivers the whole reply as a single message frame.
func (e *ScriptEngine) oneShotTurn(send SendFunc, content string) ([]storage.Message, error) {
	if err := send(protocol.NewMessage(content)); err != nil {
		return nil, err
	}
	return []storage.Message{assistantRecord(content)}, nil
}

// streamedTurn delivers the reply as delta frames only. There is no closing
// frame; the client's placeholder stays open until its next submit.
func (e *ScriptEngine) streamedTurn(ctx context.Context, send SendFunc, content string) ([]storage.Message, error) {
	if err := e.streamText(ctx, send, content); err != nil {
		return nil, err
	}
	return []storage.Message{assistantRecord(content)}, nil
}

// toolTurn streams a short preamble into the placeholder, emits the call and
// result frames, then closes with a one-shot message. Text after tool frames
// must ride a message frame: the placeholder is no longer the last entry, so
// the client drops any further deltas.
func (e *ScriptEngine) toolTurn(ctx context.Context, send SendFunc, name string, args map[string]any) ([]storage.Message, error) {
	preamble := fmt.Sprintf("Let me run the %s tool.", name)
	if err := e.streamText(ctx, send, preamble); err != nil {
		return nil, err
	}
	persisted := []storage.Message{assistantRecord(preamble)}

	callFrame, err := protocol.NewToolCall(name, args)
	if err != nil {
		return persisted, err
	}
	if err := send(callFrame); err != nil {
		return persisted, err
	}
	persisted = append(persisted, toolCallRecord(name, args, callFrame.ToolMessage.Content))

	result, err := e.tools.Invoke(ctx, name, args)
	if err != nil {
		result = fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	if err := send(protocol.NewToolResult(name, result)); err != nil {
		return persisted, err
	}
	persisted = append(persisted, toolResultRecord(name, result))

	conclusion := toolConclusion(name)
	if err := send(protocol.NewMessage(conclusion)); err != nil {
		return persisted, err
	}
	return append(persisted, assistantRecord(conclusion)), nil
}

// failingTurn streams a fragment and then reports a turn failure, matching
// what a mid-stream backend error looks like to the client.
func (e *ScriptEngine) failingTurn(ctx context.Context, send SendFunc) ([]storage.Message, error) {
	if err := e.streamText(ctx, send, scriptFailurePartial); err != nil {
		return nil, err
	}
	if err := send(protocol.NewError(scriptFailureMessage)); err != nil {
		return nil, err
	}
	// Persist what the client transcript will show for this turn.
	return []storage.Message{assistantRecord(scriptFailurePartial + "\nError: " + scriptFailureMessage)}, nil
}

// streamText emits the text as rune batches, one delta frame per batch.
func (e *ScriptEngine) streamText(ctx context.Context, send SendFunc, text string) error {
	const batchSize = 3
	runes := []rune(text)

	for i := 0; i < len(runes); i += batchSize {
		end := i + batchSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := send(protocol.NewDelta(string(runes[i:end]))); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.delay):
		}
	}
	return nil
}

// hasWord matches whole words only; Contains would fire on substrings like
// the "hi" in "this".
func hasWord(text, word string) bool {
	for _, field := range strings.Fields(text) {
		if strings.Trim(field, ".,!?;:'\"") == word {
			return true
		}
	}
	return false
}
