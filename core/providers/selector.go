package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// selection precedence. Cloud tool-calling providers first, local last.
var providerOrder = []string{"anthropic", "openai", "ollama"}

// Status describes the currently selected provider for the status endpoint.
type Status struct {
	Available     bool     `json:"available"`
	Provider      string   `json:"provider,omitempty"`
	Model         string   `json:"model,omitempty"`
	Label         string   `json:"label,omitempty"`
	SupportsTools bool     `json:"supports_tools"`
	AllModels     []string `json:"all_models,omitempty"`
}

// Selector resolves the active provider by fixed precedence and caches
// the result. The cache is dropped only on Invalidate, so a provider that
// fails mid-session stays selected until a terminal failure is reported.
type Selector struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	selected ProviderAdapter
	resolved bool
}

// NewSelector creates a selector over the configured providers.
func NewSelector(config Config, logger *slog.Logger) *Selector {
	return &Selector{
		config: config,
		logger: logger.With("component", "provider_selector"),
	}
}

// Select returns the active provider, resolving it on first use. It returns
// ErrNoProvider when nothing is configured and reachable.
func (s *Selector) Select(ctx context.Context) (ProviderAdapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		if s.selected == nil {
			return nil, ErrNoProvider
		}
		return s.selected, nil
	}

	s.selected = s.resolve(ctx)
	s.resolved = true

	if s.selected == nil {
		return nil, ErrNoProvider
	}
	return s.selected, nil
}

// Invalidate drops the cached selection after a terminal provider failure.
// The next Select re-runs the precedence scan.
func (s *Selector) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
	s.resolved = false
}

// Status reports the current selection, resolving it on first use like
// Select does.
func (s *Selector) Status(ctx context.Context) Status {
	provider, err := s.Select(ctx)
	if err != nil {
		return Status{Available: false}
	}

	status := Status{
		Available:     true,
		Provider:      provider.Name(),
		Model:         provider.Model(),
		SupportsTools: provider.SupportsTools(),
		Label:         fmt.Sprintf("%s (%s)", provider.Model(), provider.Name()),
	}

	if ollama, ok := provider.(*OllamaProvider); ok {
		if models, err := ollama.AvailableModels(ctx); err == nil {
			status.AllModels = models
		}
	}

	return status
}

func (s *Selector) resolve(ctx context.Context) ProviderAdapter {
	for _, name := range providerOrder {
		provider, err := s.build(name)
		if err != nil {
			s.logger.Debug("provider not configured", "provider", name, "error", err)
			continue
		}

		if err := provider.CheckReady(ctx); err != nil {
			s.logger.Debug("provider not ready", "provider", name, "error", err)
			continue
		}

		s.logger.Info("chat provider selected",
			"provider", provider.Name(),
			"model", provider.Model(),
			"supports_tools", provider.SupportsTools())
		return provider
	}

	s.logger.Warn("no chat provider available")
	return nil
}

func (s *Selector) build(name string) (ProviderAdapter, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(s.config.Anthropic)
	case "openai":
		return NewOpenAIProvider(s.config.OpenAI)
	case "ollama":
		return NewOllamaProvider(s.config.Ollama), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
