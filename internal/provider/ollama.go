package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
)

// OllamaProvider talks to a local or remote Ollama server.
type OllamaProvider struct {
	client *api.Client
	cfg    Config
}

// NewOllamaProvider creates a client for the configuration. Without an
// APIBase the OLLAMA_HOST environment (or localhost) is used.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	var client *api.Client
	if cfg.APIBase != "" {
		base, err := url.Parse(cfg.APIBase)
		if err != nil {
			return nil, fmt.Errorf("parse ollama api_base: %w", err)
		}
		client = api.NewClient(base, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
	}
	return &OllamaProvider{client: client, cfg: cfg}, nil
}

func (p *OllamaProvider) Name() string { return p.cfg.Name }

// Chat streams one model turn through the Ollama chat endpoint.
func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, tools []ToolDef, stream StreamHandler) (Reply, error) {
	req := &api.ChatRequest{
		Model:    p.cfg.Model,
		Messages: toOllamaMessages(messages),
	}
	if len(tools) > 0 {
		req.Tools = toOllamaTools(tools)
	}
	if p.cfg.Thinking {
		req.Think = &api.ThinkValue{Value: true}
	}
	if p.cfg.MaxTokens > 0 {
		req.Options = map[string]any{"num_predict": p.cfg.MaxTokens}
	}

	var text strings.Builder
	var reasoning strings.Builder
	var calls []ToolCall
	reply := Reply{}

	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Thinking != "" {
			stream.reasoning(resp.Message.Thinking)
			reasoning.WriteString(resp.Message.Thinking)
		}
		if resp.Message.Content != "" {
			stream.delta(resp.Message.Content)
			text.WriteString(resp.Message.Content)
		}
		for _, call := range resp.Message.ToolCalls {
			calls = append(calls, ToolCall{
				ID:   uuid.NewString(),
				Name: call.Function.Name,
				Args: map[string]any(call.Function.Arguments),
			})
		}
		if resp.Done {
			reply.InputTokens = int64(resp.PromptEvalCount)
			reply.OutputTokens = int64(resp.EvalCount)
		}
		return nil
	})
	if err != nil {
		return Reply{}, Classify(p.cfg.Name, err)
	}

	reply.Content = text.String()
	reply.Reasoning = reasoning.String()
	reply.ToolCalls = calls
	return reply, nil
}

func toOllamaMessages(messages []Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, api.Message{Role: "system", Content: msg.Content})
		case RoleUser:
			out = append(out, api.Message{Role: "user", Content: msg.Content})
		case RoleAssistant:
			m := api.Message{Role: "assistant", Content: msg.Content}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      call.Name,
						Arguments: api.ToolCallFunctionArguments(call.Args),
					},
				})
			}
			out = append(out, m)
		case RoleTool:
			out = append(out, api.Message{Role: "tool", Content: msg.Content})
		}
	}
	return out
}

func toOllamaTools(tools []ToolDef) api.Tools {
	out := make(api.Tools, 0, len(tools))
	for _, tool := range tools {
		properties := make(map[string]api.ToolProperty, len(tool.Properties))
		for name, prop := range tool.Properties {
			properties[name] = api.ToolProperty{
				Type:        api.PropertyType{prop.Type},
				Description: prop.Description,
			}
		}
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: properties,
					Required:   tool.Required,
				},
			},
		})
	}
	return out
}
