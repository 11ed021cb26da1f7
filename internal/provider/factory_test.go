package provider

import "testing"

func TestDetectFamily(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want Family
	}{
		{"explicit anthropic", Config{Name: "anthropic"}, FamilyAnthropic},
		{"claude alias", Config{Name: "claude-prod"}, FamilyAnthropic},
		{"explicit gemini", Config{Name: "gemini"}, FamilyGemini},
		{"explicit ollama", Config{Name: "ollama-local"}, FamilyOllama},
		{"openrouter by name", Config{Name: "openrouter"}, FamilyOpenAI},
		{"deepseek by name", Config{Name: "deepseek"}, FamilyOpenAI},
		{"anthropic by base", Config{Name: "work", APIBase: "https://api.anthropic.com"}, FamilyAnthropic},
		{"gemini by base", Config{Name: "work", APIBase: "https://generativelanguage.googleapis.com"}, FamilyGemini},
		{"ollama by port", Config{Name: "box", APIBase: "http://192.168.1.5:11434"}, FamilyOllama},
		{"custom gateway defaults to openai", Config{Name: "corp", APIBase: "https://llm.internal/v1"}, FamilyOpenAI},
		{"anthropic key prefix", Config{Name: "x", APIKey: "sk-ant-abc123"}, FamilyAnthropic},
		{"google key prefix", Config{Name: "x", APIKey: "AIzaSyFake"}, FamilyGemini},
		{"openai key prefix", Config{Name: "x", APIKey: "sk-abc123"}, FamilyOpenAI},
		{"nothing known falls back to ollama", Config{Name: "x"}, FamilyOllama},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFamily(tt.cfg); got != tt.want {
				t.Errorf("DetectFamily(%+v) = %v, want %v", tt.cfg, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"auth status", errString("401 Unauthorized"), ErrAuth},
		{"rate limit status", errString("429 Too Many Requests"), ErrRateLimit},
		{"overloaded", errString("server overloaded"), ErrRateLimit},
		{"unknown", errString("something odd"), ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("test", tt.err)
			if got.Kind != tt.want {
				t.Errorf("Classify(%v).Kind = %v, want %v", tt.err, got.Kind, tt.want)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
