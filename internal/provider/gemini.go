package provider

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/google/uuid"
)

const geminiDefaultMaxTokens = 8192

// GeminiProvider talks to Gemini models over the GenAI API.
type GeminiProvider struct {
	cfg       Config
	maxTokens int32
}

// NewGeminiProvider creates a client factory for the configuration. The
// genai client requires a context, so it is built per call.
func NewGeminiProvider(cfg Config) *GeminiProvider {
	maxTokens := int32(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = geminiDefaultMaxTokens
	}
	return &GeminiProvider{cfg: cfg, maxTokens: maxTokens}
}

func (p *GeminiProvider) Name() string { return p.cfg.Name }

// Chat streams one model turn, collecting text, thoughts, and function calls.
func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, tools []ToolDef, stream StreamHandler) (Reply, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return Reply{}, Classify(p.cfg.Name, fmt.Errorf("create gemini client: %w", err))
	}

	system, contents := toGeminiContents(messages)

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: p.maxTokens,
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toGeminiFunctions(tools)}}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}
	if p.cfg.Thinking {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	var text strings.Builder
	var reasoning strings.Builder
	var calls []ToolCall
	reply := Reply{}

	for resp, err := range client.Models.GenerateContentStream(ctx, p.cfg.Model, contents, config) {
		if err != nil {
			return Reply{}, Classify(p.cfg.Name, err)
		}
		if resp.UsageMetadata != nil {
			reply.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
			reply.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.FunctionCall != nil {
				calls = append(calls, ToolCall{
					ID:   uuid.NewString(),
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
				continue
			}
			if part.Text == "" {
				continue
			}
			if part.Thought {
				stream.reasoning(part.Text)
				reasoning.WriteString(part.Text)
			} else {
				stream.delta(part.Text)
				text.WriteString(part.Text)
			}
		}
	}

	reply.Content = text.String()
	reply.Reasoning = reasoning.String()
	reply.ToolCalls = calls
	if reply.Content == "" && len(reply.ToolCalls) == 0 {
		return Reply{}, NewError(ErrMalformed, p.cfg.Name, fmt.Errorf("empty response from backend"))
	}
	return reply, nil
}

// toGeminiContents converts history, folding tool calls and results into
// model/user function parts. Gemini matches results to calls by name.
func toGeminiContents(messages []Message) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))

		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: call.Name, Args: call.Args},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		case RoleTool:
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.ToolName,
					Response: map[string]any{"result": msg.Content},
				},
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}
	return system, contents
}

func toGeminiFunctions(tools []ToolDef) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		properties := make(map[string]*genai.Schema, len(tool.Properties))
		for name, prop := range tool.Properties {
			properties[name] = geminiSchema(prop)
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   tool.Required,
			},
		})
	}
	return out
}

func geminiSchema(prop Property) *genai.Schema {
	schema := &genai.Schema{
		Type:        geminiType(prop.Type),
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	if prop.Items != nil {
		schema.Items = geminiSchema(*prop.Items)
	}
	return schema
}

func geminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeString
}
