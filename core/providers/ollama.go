package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider is the ProviderAdapter for a local Ollama instance. It
// talks to the Ollama HTTP API directly and never supports tool calling.
type OllamaProvider struct {
	config OllamaConfig
	http   *http.Client
	model  string
}

// ErrOllamaUnreachable indicates the local Ollama endpoint did not respond.
var ErrOllamaUnreachable = errors.New("ollama unreachable")

// ErrNoLocalModels indicates Ollama is running but has no models pulled.
var ErrNoLocalModels = errors.New("no local models available")

const (
	ollamaTagsTimeout   = 2 * time.Second
	ollamaStreamTimeout = 2 * time.Minute
)

// preferredOllamaModels orders local models by suitability for support
// work. First match wins; matching is substring so "llama3.1" picks up
// "llama3.1:latest".
var preferredOllamaModels = []string{
	"qwen2.5:14b", "qwen2.5:7b", "qwen2.5",
	"llama3.1:8b", "llama3.1", "llama3:8b", "llama3",
	"mistral", "mistral:7b",
	"gemma2:9b", "gemma2",
	"phi3:medium", "phi3",
	"deepseek-r1:8b", "deepseek-r1",
}

// NewOllamaProvider creates an Ollama provider. Model discovery happens in
// CheckReady, not here, so construction never touches the network.
func NewOllamaProvider(config OllamaConfig) *OllamaProvider {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOllamaURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &OllamaProvider{
		config: config,
		http:   &http.Client{Timeout: ollamaStreamTimeout},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Model() string { return p.model }

func (p *OllamaProvider) SupportsTools() bool { return false }

// CheckReady probes the instance and picks a model from what is pulled.
func (p *OllamaProvider) CheckReady(ctx context.Context) error {
	models, err := p.listModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return ErrNoLocalModels
	}
	p.model = pickOllamaModel(p.config.Model, models)
	return nil
}

// AvailableModels lists the models the local instance has pulled.
func (p *OllamaProvider) AvailableModels(ctx context.Context) ([]string, error) {
	return p.listModels(ctx)
}

func (p *OllamaProvider) listModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ollamaTagsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOllamaUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrOllamaUnreachable, resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama tags: %w", err)
	}

	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// pickOllamaModel chooses the model to use: an exact configured match
// first, then a partial configured match, then the preference order, then
// whatever is available.
func pickOllamaModel(configured string, available []string) string {
	if configured != "" {
		for _, m := range available {
			if m == configured {
				return m
			}
		}
		for _, m := range available {
			if strings.Contains(m, configured) {
				return m
			}
		}
	}
	for _, p := range preferredOllamaModels {
		for _, m := range available {
			if strings.Contains(m, p) {
				return m
			}
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Complete performs a non-streaming completion by accumulating the stream.
func (p *OllamaProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	acc := NewStreamAccumulator()
	err := p.StreamWithHandler(ctx, req, func(chunk *StreamChunk) error {
		acc.Add(chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc.Response(p.modelFor(req)), nil
}

func (p *OllamaProvider) StreamWithHandler(ctx context.Context, req *Request, handler StreamHandler) error {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    p.modelFor(req),
		Messages: p.convertMessages(req),
		Stream:   true,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrOllamaUnreachable, err)
		handler(&StreamChunk{Type: StreamChunkTypeError, Err: wrapped})
		return wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		wrapped := fmt.Errorf("ollama chat: status %d", resp.StatusCode)
		handler(&StreamChunk{Type: StreamChunkTypeError, Err: wrapped})
		return wrapped
	}

	if err := handler(&StreamChunk{Type: StreamChunkTypeStart}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}

		if chunk.Done {
			break
		}
		if chunk.Message.Content != "" {
			if err := handler(&StreamChunk{
				Type: StreamChunkTypeText,
				Text: chunk.Message.Content,
			}); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		handler(&StreamChunk{Type: StreamChunkTypeError, Err: err})
		return fmt.Errorf("ollama stream: %w", err)
	}

	return handler(&StreamChunk{Type: StreamChunkTypeEnd, StopReason: StopReasonEndTurn})
}

func (p *OllamaProvider) modelFor(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	if p.model != "" {
		return p.model
	}
	return p.config.Model
}

// convertMessages flattens history to Ollama's chat format. Tool turns are
// folded into plain text because the local provider has no tool protocol.
func (p *OllamaProvider) convertMessages(req *Request) []ollamaChatMessage {
	result := make([]ollamaChatMessage, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" {
		result = append(result, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, ollamaChatMessage{Role: "system", Content: msg.Content})
		case RoleUser:
			result = append(result, ollamaChatMessage{Role: "user", Content: msg.Content})
		case RoleAssistant:
			if msg.Content != "" {
				result = append(result, ollamaChatMessage{Role: "assistant", Content: msg.Content})
			}
		case RoleTool:
			result = append(result, ollamaChatMessage{Role: "user", Content: "Tool result:\n" + msg.Content})
		}
	}

	return result
}
