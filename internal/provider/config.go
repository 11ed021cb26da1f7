package provider

import "errors"

// Config describes one LLM backend. An empty APIBase means the backend's
// default endpoint.
type Config struct {
	Name      string `json:"name" yaml:"name"`
	APIBase   string `json:"api_base,omitempty" yaml:"api_base,omitempty"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model     string `json:"model" yaml:"model"`
	Streaming bool   `json:"streaming" yaml:"streaming"`

	MaxTokens int  `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Thinking  bool `json:"thinking,omitempty" yaml:"thinking,omitempty"`
}

var (
	ErrMissingName  = errors.New("provider config: missing name")
	ErrMissingModel = errors.New("provider config: missing model")
)

// Validate reports whether the config can identify a backend.
func (c Config) Validate() error {
	if c.Name == "" {
		return ErrMissingName
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	return nil
}
