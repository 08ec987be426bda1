package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/adalundhe/casehub/core/providers"
	"github.com/adalundhe/casehub/core/tools"
	"github.com/adalundhe/casehub/core/workspace"
)

// scriptedProvider replays a fixed chunk sequence per streaming round and
// records every request it receives.
type scriptedProvider struct {
	model        string
	withTools    bool
	rounds       [][]providers.StreamChunk
	streamErr    error
	completeResp *providers.Response
	completeErr  error

	requests []*providers.Request
}

func (p *scriptedProvider) Name() string               { return "scripted" }
func (p *scriptedProvider) Model() string              { return p.model }
func (p *scriptedProvider) SupportsTools() bool        { return p.withTools }
func (p *scriptedProvider) CheckReady(context.Context) error { return nil }

func (p *scriptedProvider) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	p.requests = append(p.requests, cloneRequest(req))
	if p.completeErr != nil {
		return nil, p.completeErr
	}
	return p.completeResp, nil
}

func (p *scriptedProvider) StreamWithHandler(ctx context.Context, req *providers.Request, handler providers.StreamHandler) error {
	p.requests = append(p.requests, cloneRequest(req))
	if p.streamErr != nil {
		return p.streamErr
	}

	round := len(p.requests) - 1
	if round >= len(p.rounds) {
		round = len(p.rounds) - 1
	}
	for i := range p.rounds[round] {
		if err := handler(&p.rounds[round][i]); err != nil {
			return err
		}
	}
	return nil
}

// cloneRequest snapshots the mutable request fields the engine rewrites
// between rounds.
func cloneRequest(req *providers.Request) *providers.Request {
	clone := *req
	clone.Messages = append([]providers.Message(nil), req.Messages...)
	clone.Tools = append([]providers.Tool(nil), req.Tools...)
	return &clone
}

type fakeSource struct {
	provider    providers.ProviderAdapter
	selectErr   error
	invalidated int
}

func (s *fakeSource) Select(context.Context) (providers.ProviderAdapter, error) {
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	return s.provider, nil
}

func (s *fakeSource) Invalidate() { s.invalidated++ }

func textRound(text string) []providers.StreamChunk {
	return []providers.StreamChunk{
		{Type: providers.StreamChunkTypeStart},
		{Type: providers.StreamChunkTypeText, Text: text},
		{Type: providers.StreamChunkTypeEnd, StopReason: providers.StopReasonEndTurn},
	}
}

func toolRound(id, name, args string) []providers.StreamChunk {
	return []providers.StreamChunk{
		{Type: providers.StreamChunkTypeStart},
		{Type: providers.StreamChunkTypeToolStart, ToolCallID: id, ToolName: name},
		{Type: providers.StreamChunkTypeToolDelta, ToolCallID: id, ToolDelta: args},
		{Type: providers.StreamChunkTypeToolEnd, ToolCallID: id},
		{Type: providers.StreamChunkTypeEnd, StopReason: providers.StopReasonToolUse},
	}
}

func newTestEngine(t *testing.T, source ProviderSource, register func(*tools.Registry)) *Engine {
	t.Helper()

	store, err := workspace.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	registry := tools.NewRegistry(slog.Default())
	if register != nil {
		register(registry)
	}
	return NewEngine(source, registry, store, slog.Default())
}

func collectEvents(events *[]Event) Emitter {
	return func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestEngineRun_StreamsText(t *testing.T) {
	provider := &scriptedProvider{model: "m1", rounds: [][]providers.StreamChunk{textRound("hello")}}
	engine := newTestEngine(t, &fakeSource{provider: provider}, nil)

	var events []Event
	err := engine.Run(context.Background(), &Request{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	}, collectEvents(&events))
	if err != nil {
		t.Fatal(err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != EventTokenDelta || events[0].Text != "hello" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Type != EventDone {
		t.Errorf("last event = %+v", events[1])
	}
}

func TestEngineRun_ToolLoop(t *testing.T) {
	provider := &scriptedProvider{
		model:     "m1",
		withTools: true,
		rounds: [][]providers.StreamChunk{
			toolRound("call-1", "lookup", `{"key": "SCRS-1"}`),
			textRound("found it"),
		},
	}

	var gotArgs string
	engine := newTestEngine(t, &fakeSource{provider: provider}, func(r *tools.Registry) {
		r.Register(&tools.Tool{
			Name:        "lookup",
			Description: "look up a case",
			Parameters:  map[string]any{"type": "object"},
			Run: func(ctx context.Context, args json.RawMessage) (string, error) {
				gotArgs = string(args)
				return "case notes", nil
			},
		})
	})

	var events []Event
	err := engine.Run(context.Background(), &Request{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "look up SCRS-1"}},
	}, collectEvents(&events))
	if err != nil {
		t.Fatal(err)
	}

	if gotArgs != `{"key": "SCRS-1"}` {
		t.Errorf("tool args = %q", gotArgs)
	}

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []EventType{EventToolCallStarted, EventToolCallResult, EventTokenDelta, EventDone}
	if len(types) != len(want) {
		t.Fatalf("event types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}

	if events[1].Text != "case notes" || events[1].ToolCallID != "call-1" {
		t.Errorf("tool result event = %+v", events[1])
	}

	// The second round sees the assistant tool call and tool result.
	if len(provider.requests) != 2 {
		t.Fatalf("rounds = %d", len(provider.requests))
	}
	second := provider.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second round messages = %+v", second)
	}
	if second[1].Role != providers.RoleAssistant || len(second[1].ToolCalls) != 1 {
		t.Errorf("assistant message = %+v", second[1])
	}
	if second[2].Role != providers.RoleTool || second[2].ToolCallID != "call-1" || second[2].Content != "case notes" {
		t.Errorf("tool message = %+v", second[2])
	}
}

func TestEngineRun_ToolRoundCap(t *testing.T) {
	// A provider that asks for a tool on every round must not loop forever.
	provider := &scriptedProvider{
		model:     "m1",
		withTools: true,
		rounds:    [][]providers.StreamChunk{toolRound("call-n", "noisy", `{}`)},
	}
	source := &fakeSource{provider: provider}
	engine := newTestEngine(t, source, func(r *tools.Registry) {
		r.Register(&tools.Tool{
			Name:        "noisy",
			Description: "keeps getting called",
			Parameters:  map[string]any{"type": "object"},
			Run: func(ctx context.Context, args json.RawMessage) (string, error) {
				return "ok", nil
			},
		})
	})

	var events []Event
	err := engine.Run(context.Background(), &Request{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "go"}},
	}, collectEvents(&events))
	if !errors.Is(err, ErrTooManyToolRounds) {
		t.Fatalf("err = %v", err)
	}

	if got := len(provider.requests); got != maxToolRounds {
		t.Fatalf("rounds = %d", got)
	}
	last := events[len(events)-1]
	if last.Type != EventError || !strings.Contains(last.Text, "could not complete") {
		t.Errorf("last event = %+v", last)
	}
	// A healthy provider hitting the cap keeps its selection.
	if source.invalidated != 0 {
		t.Errorf("invalidated = %d", source.invalidated)
	}
}

func TestEngineRun_NoProvider(t *testing.T) {
	engine := newTestEngine(t, &fakeSource{selectErr: providers.ErrNoProvider}, nil)

	var events []Event
	err := engine.Run(context.Background(), &Request{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	}, collectEvents(&events))

	if !errors.Is(err, providers.ErrNoProvider) {
		t.Fatalf("err = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events emitted before failing: %+v", events)
	}
}

func TestEngineRun_ProviderFailureInvalidates(t *testing.T) {
	provider := &scriptedProvider{model: "m1", streamErr: errors.New("upstream exploded")}
	source := &fakeSource{provider: provider}
	engine := newTestEngine(t, source, nil)

	var events []Event
	err := engine.Run(context.Background(), &Request{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	}, collectEvents(&events))
	if err == nil {
		t.Fatal("expected error")
	}

	if source.invalidated != 1 {
		t.Errorf("invalidated = %d", source.invalidated)
	}
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v", events)
	}
	if !strings.Contains(events[0].Text, "upstream exploded") {
		t.Errorf("error event text = %q", events[0].Text)
	}
}

func TestEngineRun_CancelDiscardsToolResult(t *testing.T) {
	provider := &scriptedProvider{
		model:     "m1",
		withTools: true,
		rounds:    [][]providers.StreamChunk{toolRound("call-1", "slow", `{}`)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{provider: provider}
	engine := newTestEngine(t, source, func(r *tools.Registry) {
		r.Register(&tools.Tool{
			Name:        "slow",
			Description: "cancels the session while running",
			Parameters:  map[string]any{"type": "object"},
			Run: func(ctx context.Context, args json.RawMessage) (string, error) {
				cancel()
				return "too late", nil
			},
		})
	})

	var events []Event
	err := engine.Run(ctx, &Request{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "go"}},
	}, collectEvents(&events))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	for _, ev := range events {
		if ev.Type == EventToolCallResult {
			t.Errorf("tool result emitted after cancel: %+v", ev)
		}
		if ev.Type == EventError || ev.Type == EventDone {
			t.Errorf("unexpected terminal event after cancel: %+v", ev)
		}
	}
	if source.invalidated != 0 {
		t.Error("cancellation must not invalidate the provider selection")
	}
}

func TestSummarize(t *testing.T) {
	provider := &scriptedProvider{
		model:        "m1",
		completeResp: &providers.Response{Content: "  It was DNS.  "},
	}
	engine := newTestEngine(t, &fakeSource{provider: provider}, nil)

	summary, err := engine.Summarize(context.Background(), "SCRS-7", "long case content")
	if err != nil {
		t.Fatal(err)
	}
	if summary != "It was DNS." {
		t.Errorf("summary = %q", summary)
	}

	if len(provider.requests) != 1 {
		t.Fatalf("requests = %d", len(provider.requests))
	}
	req := provider.requests[0]
	if req.SystemPrompt != summaryPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Tools) != 0 {
		t.Error("summary completion must not offer tools")
	}
	if !strings.Contains(req.Messages[0].Content, "SCRS-7") {
		t.Errorf("user message = %q", req.Messages[0].Content)
	}
}

func TestSummarize_TruncatesLongContent(t *testing.T) {
	provider := &scriptedProvider{
		model:        "m1",
		completeResp: &providers.Response{Content: "short"},
	}
	engine := newTestEngine(t, &fakeSource{provider: provider}, nil)

	content := strings.Repeat("x", summaryMaxChars+500)
	if _, err := engine.Summarize(context.Background(), "SCRS-7", content); err != nil {
		t.Fatal(err)
	}

	sent := provider.requests[0].Messages[0].Content
	if !strings.Contains(sent, "[...truncated for summary generation]") {
		t.Error("missing truncation marker")
	}
	if strings.Contains(sent, strings.Repeat("x", summaryMaxChars+1)) {
		t.Error("content not truncated")
	}
}

func TestSummarize_TruncationKeepsValidUTF8(t *testing.T) {
	provider := &scriptedProvider{
		model:        "m1",
		completeResp: &providers.Response{Content: "short"},
	}
	engine := newTestEngine(t, &fakeSource{provider: provider}, nil)

	// Place a multi-byte rune across the truncation boundary.
	content := strings.Repeat("x", summaryMaxChars-1) + strings.Repeat("日本語", 200)
	if _, err := engine.Summarize(context.Background(), "SCRS-8", content); err != nil {
		t.Fatal(err)
	}

	sent := provider.requests[0].Messages[0].Content
	if !utf8.ValidString(sent) {
		t.Error("truncated content is not valid UTF-8")
	}
	if !strings.Contains(sent, "[...truncated for summary generation]") {
		t.Error("missing truncation marker")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	store, err := workspace.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(&fakeSource{}, tools.NewRegistry(slog.Default()), store, slog.Default())

	if got := engine.buildSystemPrompt(""); got != defaultSystemPrompt {
		t.Errorf("default prompt = %q", got)
	}

	rules := "Answer in haiku only."
	if err := os.WriteFile(filepath.Join(store.Root(), rulesFileName), []byte(rules+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := engine.buildSystemPrompt(""); got != rules {
		t.Errorf("rules prompt = %q", got)
	}

	caseDir := filepath.Join(store.CasesDir(), "SCRS-5")
	if err := os.MkdirAll(caseDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(caseDir, "notes.md"), []byte("# Timeout bug"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := engine.buildSystemPrompt("SCRS-5")
	if !strings.HasPrefix(got, rules) {
		t.Errorf("prompt = %q", got)
	}
	if !strings.Contains(got, "--- CURRENT CASE CONTEXT ---") {
		t.Error("missing case context delimiter")
	}
	if !strings.Contains(got, "# Timeout bug") {
		t.Error("missing case notes")
	}

	// Unknown keys fall back to the bare prompt.
	if got := engine.buildSystemPrompt("SCRS-404"); got != rules {
		t.Errorf("prompt for missing case = %q", got)
	}
}
