package providers

import "os"

// Default models per provider. Overridable through configuration.
const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultOllamaURL      = "http://localhost:11434"
)

// DefaultMaxTokens bounds completions when a request does not set a limit.
const DefaultMaxTokens = 4096

// Config holds credentials and model selection for every backend. Zero
// values mean "not configured"; the Selector skips unconfigured providers.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Ollama    OllamaConfig    `yaml:"ollama"`
}

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OllamaConfig configures the local Ollama backend. The model is discovered
// at selection time when left empty.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// ApplyEnv fills unset fields from the conventional environment variables.
func (c *Config) ApplyEnv() {
	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = os.Getenv("OLLAMA_HOST")
	}
}

// ApplyDefaults fills remaining unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = DefaultAnthropicModel
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = DefaultOpenAIModel
	}
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = DefaultOllamaURL
	}
}
