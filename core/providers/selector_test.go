package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConfigApplyEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("OLLAMA_HOST", "http://env:11434")

	cfg := Config{}
	cfg.ApplyEnv()

	if cfg.Anthropic.APIKey != "env-anthropic" {
		t.Errorf("Anthropic.APIKey = %q", cfg.Anthropic.APIKey)
	}
	if cfg.OpenAI.APIKey != "env-openai" {
		t.Errorf("OpenAI.APIKey = %q", cfg.OpenAI.APIKey)
	}
	if cfg.Ollama.BaseURL != "http://env:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}

	// Explicit values win over env.
	cfg = Config{Anthropic: AnthropicConfig{APIKey: "explicit"}}
	cfg.ApplyEnv()
	if cfg.Anthropic.APIKey != "explicit" {
		t.Errorf("Anthropic.APIKey = %q", cfg.Anthropic.APIKey)
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Anthropic.Model != DefaultAnthropicModel {
		t.Errorf("Anthropic.Model = %q", cfg.Anthropic.Model)
	}
	if cfg.OpenAI.Model != DefaultOpenAIModel {
		t.Errorf("OpenAI.Model = %q", cfg.OpenAI.Model)
	}
	if cfg.Ollama.BaseURL != DefaultOllamaURL {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}

	cfg = Config{Ollama: OllamaConfig{BaseURL: "http://custom:11434"}}
	cfg.ApplyDefaults()
	if cfg.Ollama.BaseURL != "http://custom:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
}

func TestSelector_FallsBackToOllama(t *testing.T) {
	srv := ollamaBackend(t, []string{"llama3.1:8b"}, nil)

	selector := NewSelector(Config{
		Ollama: OllamaConfig{BaseURL: srv.URL},
	}, slog.Default())

	provider, err := selector.Select(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if provider.Name() != "ollama" {
		t.Errorf("Name() = %q", provider.Name())
	}
	if provider.Model() != "llama3.1:8b" {
		t.Errorf("Model() = %q", provider.Model())
	}

	// The selection is cached.
	again, err := selector.Select(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again != provider {
		t.Error("selection not cached")
	}
}

func TestSelector_NoProvider(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	selector := NewSelector(Config{
		Ollama: OllamaConfig{BaseURL: down.URL},
	}, slog.Default())

	if _, err := selector.Select(context.Background()); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v", err)
	}

	// A failed resolution is cached too: no re-probe per call.
	if _, err := selector.Select(context.Background()); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v", err)
	}
}

func TestSelector_InvalidateRescans(t *testing.T) {
	srv := ollamaBackend(t, []string{"llama3.1:8b"}, nil)
	selector := NewSelector(Config{
		Ollama: OllamaConfig{BaseURL: srv.URL},
	}, slog.Default())

	first, err := selector.Select(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	selector.Invalidate()

	second, err := selector.Select(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("Invalidate did not drop the cached provider")
	}
}

func TestSelectorStatus(t *testing.T) {
	srv := ollamaBackend(t, []string{"llama3.1:8b", "mistral:7b"}, nil)
	selector := NewSelector(Config{
		Ollama: OllamaConfig{BaseURL: srv.URL},
	}, slog.Default())

	status := selector.Status(context.Background())
	if !status.Available || status.Provider != "ollama" {
		t.Fatalf("status = %+v", status)
	}
	if status.Label != "llama3.1:8b (ollama)" {
		t.Errorf("Label = %q", status.Label)
	}
	if status.SupportsTools {
		t.Error("ollama must not report tool support")
	}
	if len(status.AllModels) != 2 {
		t.Errorf("AllModels = %v", status.AllModels)
	}
}

func TestSelectorStatus_Unavailable(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	selector := NewSelector(Config{
		Ollama: OllamaConfig{BaseURL: down.URL},
	}, slog.Default())

	status := selector.Status(context.Background())
	if status.Available {
		t.Fatalf("status = %+v", status)
	}
}
