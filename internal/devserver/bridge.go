package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"glata-console/internal/config"
	"glata-console/internal/protocol"
	"glata-console/internal/storage"
	"glata-console/internal/transcript"
	"glata-console/internal/utils"
	"glata-console/pkg/logger"
)

// maxToolRounds bounds the call→result→completion loop for one turn.
const maxToolRounds = 4

const bridgeSystemPrompt = "You are the demo agent behind a development chat gateway. " +
	"Use the lookup and clock tools when they can answer. Keep replies short."

// Bridge relays turns to an OpenAI-compatible endpoint: completion deltas
// become delta frames, tool calls run against the local toolbox with their
// call and result frames pushed to the client, and the loop feeds results
// back upstream until the model answers in text.
type Bridge struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	tools       *Toolbox
}

func NewBridge(cfg config.OpenAIConfig) *Bridge {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = utils.NewHTTPClient(cfg.Timeout)

	return &Bridge{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		tools:       NewToolbox(),
	}
}

func (b *Bridge) Reply(ctx context.Context, turn *protocol.Outbound, send SendFunc) ([]storage.Message, error) {
	messages := b.convertContext(turn.Messages)
	var persisted []storage.Message

	// The first round streams into the client's open placeholder. Once tool
	// frames have gone out the placeholder is no longer the last entry and
	// the client drops deltas, so later rounds buffer their text and deliver
	// it as one message frame.
	live := true

	for round := 0; round < maxToolRounds; round++ {
		text, calls, err := b.streamCompletion(ctx, messages, send, live)
		if err != nil {
			return persisted, err
		}

		if text != "" {
			if !live {
				if err := send(protocol.NewMessage(text)); err != nil {
					return persisted, err
				}
			}
			persisted = append(persisted, assistantRecord(text))
		}
		if len(calls) == 0 {
			return persisted, nil
		}
		live = false

		logger.Debugf("devserver: round %d requested %d tool calls", round, len(calls))
		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})

		for _, call := range calls {
			// Some providers stream calls with no argument bytes at all.
			if strings.TrimSpace(call.Function.Arguments) == "" {
				call.Function.Arguments = "{}"
			}

			frame, err := protocol.NewToolCall(call.Function.Name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				return persisted, err
			}
			if err := send(frame); err != nil {
				return persisted, err
			}
			persisted = append(persisted, toolCallRecord(
				call.Function.Name, json.RawMessage(call.Function.Arguments), frame.ToolMessage.Content))

			result := b.runTool(ctx, call)
			if err := send(protocol.NewToolResult(call.Function.Name, result)); err != nil {
				return persisted, err
			}
			persisted = append(persisted, toolResultRecord(call.Function.Name, result))

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return persisted, fmt.Errorf("model kept calling tools after %d rounds", maxToolRounds)
}

func (b *Bridge) runTool(ctx context.Context, call openai.ToolCall) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		args = map[string]any{}
	}

	result, err := b.tools.Invoke(ctx, call.Function.Name, args)
	if err != nil {
		logger.Warnf("devserver: tool %s failed: %v", call.Function.Name, err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(payload)
	}
	return result
}

// streamCompletion runs one completion, accumulating the text and any tool
// calls the model streams. With live set, content deltas are also forwarded
// to the client as they arrive.
func (b *Bridge) streamCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, send SendFunc, live bool) (string, []openai.ToolCall, error) {
	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
		Stream:      true,
		Tools:       b.tools.Definitions(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("create completion stream: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	var calls []openai.ToolCall

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return text.String(), calls, fmt.Errorf("stream recv: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			if live {
				if err := send(protocol.NewDelta(delta.Content)); err != nil {
					return text.String(), calls, err
				}
			}
			text.WriteString(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			calls = mergeToolCall(calls, tc)
		}
	}

	return text.String(), calls, nil
}

// mergeToolCall accumulates streamed tool-call fragments by index: the first
// fragment carries the id and name, later ones append argument bytes.
func mergeToolCall(calls []openai.ToolCall, tc openai.ToolCall) []openai.ToolCall {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	for len(calls) <= idx {
		calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
	}
	if tc.ID != "" {
		calls[idx].ID = tc.ID
	}
	if tc.Function.Name != "" {
		calls[idx].Function.Name = tc.Function.Name
	}
	calls[idx].Function.Arguments += tc.Function.Arguments
	return calls
}

// convertContext maps the replayed wire context to upstream shape. Empty
// assistant entries are dropped; some endpoints reject them.
func (b *Bridge) convertContext(wire []protocol.WireMessage) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(wire)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: bridgeSystemPrompt,
	})

	for _, m := range wire {
		role := openai.ChatMessageRoleUser
		if m.Role == transcript.RoleAssistant {
			if m.Content == "" {
				continue
			}
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	return messages
}
