package provider

import (
	"fmt"
	"strings"
)

// Family identifies which client implementation serves a configuration.
type Family string

const (
	FamilyAnthropic Family = "anthropic"
	FamilyOpenAI    Family = "openai"
	FamilyGemini    Family = "gemini"
	FamilyOllama    Family = "ollama"
)

// DetectFamily chooses a client family from the configuration: explicit
// name first, then api_base keywords, then key prefix. OpenAI-compatible
// gateways (OpenRouter, DeepSeek, vLLM, ...) fall through to the OpenAI
// client with a custom base URL.
func DetectFamily(cfg Config) Family {
	name := strings.ToLower(cfg.Name)
	switch {
	case strings.Contains(name, "anthropic"), strings.Contains(name, "claude"):
		return FamilyAnthropic
	case strings.Contains(name, "gemini"), strings.Contains(name, "google"):
		return FamilyGemini
	case strings.Contains(name, "ollama"):
		return FamilyOllama
	case name == "openai", strings.Contains(name, "openrouter"),
		strings.Contains(name, "deepseek"), strings.Contains(name, "groq"),
		strings.Contains(name, "vllm"):
		return FamilyOpenAI
	}

	base := strings.ToLower(cfg.APIBase)
	switch {
	case strings.Contains(base, "anthropic"):
		return FamilyAnthropic
	case strings.Contains(base, "googleapis"), strings.Contains(base, "generativelanguage"):
		return FamilyGemini
	case strings.Contains(base, "11434"), strings.Contains(base, "ollama"):
		return FamilyOllama
	case base != "":
		return FamilyOpenAI
	}

	switch {
	case strings.HasPrefix(cfg.APIKey, "sk-ant-"):
		return FamilyAnthropic
	case strings.HasPrefix(cfg.APIKey, "AIza"):
		return FamilyGemini
	case strings.HasPrefix(cfg.APIKey, "sk-"):
		return FamilyOpenAI
	}

	return FamilyOllama
}

// New builds a Provider for the configuration.
func New(cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch DetectFamily(cfg) {
	case FamilyAnthropic:
		return NewAnthropicProvider(cfg), nil
	case FamilyOpenAI:
		return NewOpenAIProvider(cfg), nil
	case FamilyGemini:
		return NewGeminiProvider(cfg), nil
	case FamilyOllama:
		return NewOllamaProvider(cfg)
	}
	return nil, fmt.Errorf("no client for provider %q", cfg.Name)
}
