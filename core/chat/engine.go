package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/adalundhe/casehub/core/providers"
	"github.com/adalundhe/casehub/core/tools"
	"github.com/adalundhe/casehub/core/workspace"
)

// maxToolRounds bounds the tool-call loop. A provider still asking for
// tools after this many rounds terminates the session with an error event
// instead of looping forever.
const maxToolRounds = 5

// ErrTooManyToolRounds indicates the provider kept requesting tools past
// the round cap.
var ErrTooManyToolRounds = errors.New("could not complete: tool call limit reached")

// summaryMaxChars bounds the content fed to archival summary generation.
const summaryMaxChars = 8000

const defaultSystemPrompt = "You are a helpful assistant for support engineers. " +
	"Help investigate tickets, assess escalation quality, search for patterns " +
	"across past cases, and draft responses."

const rulesFileName = ".assistantrules"

const summaryPrompt = "You are summarising a completed support case for archival. " +
	"Write a concise TL;DR summary in 3-5 sentences. Cover: what the issue was, " +
	"what the root cause turned out to be, and how it was resolved (or if it was " +
	"sent back / closed without fix). Be direct and factual. Do not use headers " +
	"or bullet points, just a short paragraph."

// Request is one chat turn from the client: prior history plus the new
// user message, with optional case context.
type Request struct {
	Messages []providers.Message `json:"messages"`
	CaseKey  string              `json:"case_key,omitempty"`
	Model    string              `json:"model,omitempty"`
}

// ProviderSource resolves the active provider. Invalidate drops the cached
// selection after a terminal failure.
type ProviderSource interface {
	Select(ctx context.Context) (providers.ProviderAdapter, error)
	Invalidate()
}

// Engine drives assistant sessions over the selected provider.
type Engine struct {
	selector ProviderSource
	registry *tools.Registry
	store    *workspace.Store
	logger   *slog.Logger
}

// NewEngine creates a chat engine.
func NewEngine(selector ProviderSource, registry *tools.Registry, store *workspace.Store, logger *slog.Logger) *Engine {
	return &Engine{
		selector: selector,
		registry: registry,
		store:    store,
		logger:   logger.With("component", "chat"),
	}
}

// Run executes one session, emitting events until done or error. It
// returns providers.ErrNoProvider without emitting anything when no backend
// is available, so callers can fail fast.
func (e *Engine) Run(ctx context.Context, req *Request, emit Emitter) error {
	provider, err := e.selector.Select(ctx)
	if err != nil {
		return err
	}

	messages := append([]providers.Message(nil), req.Messages...)
	preq := &providers.Request{
		Messages:     messages,
		Model:        req.Model,
		SystemPrompt: e.buildSystemPrompt(req.CaseKey),
	}

	if provider.SupportsTools() {
		err = e.runToolLoop(ctx, provider, preq, emit)
	} else {
		err = e.streamOnce(ctx, provider, preq, emit)
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Error("chat session failed", "provider", provider.Name(), "error", err)
		if !errors.Is(err, ErrTooManyToolRounds) {
			// The provider itself failed; force re-selection next session.
			e.selector.Invalidate()
		}
		emit(Event{Type: EventError, Text: err.Error()})
		return err
	}

	return emit(Event{Type: EventDone})
}

// runToolLoop alternates provider completions and tool executions until the
// model stops asking for tools or the round cap is hit.
func (e *Engine) runToolLoop(ctx context.Context, provider providers.ProviderAdapter, preq *providers.Request, emit Emitter) error {
	preq.Tools = e.registry.Definitions()

	for round := 0; ; round++ {
		if round >= maxToolRounds {
			return ErrTooManyToolRounds
		}

		resp, err := e.streamRound(ctx, provider, preq, emit)
		if err != nil {
			return err
		}

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		preq.Messages = append(preq.Messages, providers.Message{
			Role:      providers.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result := e.registry.Execute(ctx, call.Name, call.Arguments)

			// A cancel mid-execution discards the result instead of
			// feeding it to a dead session.
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := emit(Event{
				Type:       EventToolCallResult,
				ToolName:   call.Name,
				ToolCallID: call.ID,
				Text:       result.Content,
				IsError:    result.IsError,
			}); err != nil {
				return err
			}

			preq.Messages = append(preq.Messages, providers.Message{
				Role:       providers.RoleTool,
				Content:    result.Content,
				ToolCallID: call.ID,
			})
		}
	}
}

// streamRound performs one streaming completion, forwarding text and tool
// start events and returning the accumulated response.
func (e *Engine) streamRound(ctx context.Context, provider providers.ProviderAdapter, preq *providers.Request, emit Emitter) (*providers.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acc := providers.NewStreamAccumulator()

	err := provider.StreamWithHandler(ctx, preq, func(chunk *providers.StreamChunk) error {
		acc.Add(chunk)

		switch chunk.Type {
		case providers.StreamChunkTypeText:
			return emit(Event{Type: EventTokenDelta, Text: chunk.Text})
		case providers.StreamChunkTypeToolStart:
			return emit(Event{
				Type:       EventToolCallStarted,
				ToolName:   chunk.ToolName,
				ToolCallID: chunk.ToolCallID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return acc.Response(provider.Model()), nil
}

func (e *Engine) streamOnce(ctx context.Context, provider providers.ProviderAdapter, preq *providers.Request, emit Emitter) error {
	_, err := e.streamRound(ctx, provider, preq, emit)
	return err
}

// Summarize generates a short archival summary of case content. It is a
// single completion with no tools; callers treat failure as skippable.
func (e *Engine) Summarize(ctx context.Context, key, content string) (string, error) {
	provider, err := e.selector.Select(ctx)
	if err != nil {
		return "", err
	}

	if len(content) > summaryMaxChars {
		cut := summaryMaxChars
		// Never split a multi-byte rune at the boundary.
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut] + "\n\n[...truncated for summary generation]"
	}

	resp, err := provider.Complete(ctx, &providers.Request{
		SystemPrompt: summaryPrompt,
		Messages: []providers.Message{{
			Role:    providers.RoleUser,
			Content: fmt.Sprintf("Summarise this case (%s):\n\n%s", key, content),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("summary generation: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

// buildSystemPrompt loads the workspace rules file, falling back to a
// default, and appends the active case's notes when a key is given.
func (e *Engine) buildSystemPrompt(caseKey string) string {
	system := defaultSystemPrompt
	if data, err := os.ReadFile(filepath.Join(e.store.Root(), rulesFileName)); err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			system = s
		}
	}

	if caseKey == "" {
		return system
	}

	notes, err := e.store.ReadNotes(caseKey)
	if err != nil || notes == "" {
		return system
	}

	return system +
		"\n\n--- CURRENT CASE CONTEXT ---\n" +
		"The user is currently viewing the following case. " +
		"Use this context to inform your answers.\n\n" +
		notes
}
