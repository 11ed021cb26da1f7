package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicProvider talks to Claude models over the Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	cfg       Config
	maxTokens int
}

// NewAnthropicProvider creates a client for the configuration. A custom
// APIBase routes to Anthropic-compatible endpoints.
func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	maxTokens := cfg.MaxTokens
	// Anthropic requires a minimum token budget.
	if maxTokens < anthropicDefaultMaxTokens {
		maxTokens = anthropicDefaultMaxTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		cfg:       cfg,
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Name() string { return p.cfg.Name }

// Chat streams one model turn, accumulating text, reasoning, and tool calls.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolDef, stream StreamHandler) (Reply, error) {
	system, converted := toAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		MaxTokens: int64(p.maxTokens),
		Messages:  converted,
		Model:     anthropic.Model(p.cfg.Model),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{},
		}
	}
	if p.cfg.Thinking {
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{
				BudgetTokens: int64(2048),
			},
		}
	}

	s := p.client.Messages.NewStreaming(ctx, params)

	var acc anthropic.Message
	var reasoning strings.Builder
	for s.Next() {
		event := s.Current()
		if err := acc.Accumulate(event); err != nil {
			return Reply{}, Classify(p.cfg.Name, fmt.Errorf("accumulate streaming event: %w", err))
		}

		switch eventData := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := eventData.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				stream.delta(delta.Text)
			case anthropic.ThinkingDelta:
				stream.reasoning(delta.Thinking)
				reasoning.WriteString(delta.Thinking)
			}
		case anthropic.ContentBlockStartEvent:
			if block, ok := eventData.ContentBlock.AsAny().(anthropic.ThinkingBlock); ok && block.Thinking != "" {
				stream.reasoning(block.Thinking)
				reasoning.WriteString(block.Thinking)
			}
		}
	}
	if err := s.Err(); err != nil {
		return Reply{}, Classify(p.cfg.Name, err)
	}
	if len(acc.Content) == 0 {
		return Reply{}, NewError(ErrMalformed, p.cfg.Name, fmt.Errorf("empty message from backend"))
	}

	reply := Reply{
		Reasoning:    reasoning.String(),
		InputTokens:  acc.Usage.InputTokens,
		OutputTokens: acc.Usage.OutputTokens,
	}
	for _, block := range acc.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			reply.Content += variant.Text
		case anthropic.ToolUseBlock:
			args := make(map[string]any)
			if variant.Input != nil {
				if err := json.Unmarshal(variant.Input, &args); err != nil {
					return Reply{}, NewError(ErrMalformed, p.cfg.Name, fmt.Errorf("parse tool arguments: %w", err))
				}
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				ID:   variant.ID,
				Name: variant.Name,
				Args: args,
			})
		}
	}
	return reply, nil
}

// toAnthropicMessages splits out the system prompt and converts the rest.
func toAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Args, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}

		case RoleTool:
			result := anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: msg.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: msg.Content}},
					},
				},
			}
			out = append(out, anthropic.NewUserMessage(result))
		}
	}
	return system, out
}

func toAnthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		props := make(map[string]any, len(tool.Properties))
		for name, prop := range tool.Properties {
			props[name] = anthropicProperty(prop)
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   tool.Required,
				},
			},
		})
	}
	return out
}

func anthropicProperty(prop Property) map[string]any {
	schema := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		schema["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Items != nil {
		schema["items"] = anthropicProperty(*prop.Items)
	}
	return schema
}
