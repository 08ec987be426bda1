package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ollamaBackend(t *testing.T, models []string, replies []string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprint(w, `{"models": [`)
			for i, m := range models {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"name": %q}`, m)
			}
			fmt.Fprint(w, `]}`)
		case "/api/chat":
			for _, reply := range replies {
				fmt.Fprintf(w, "{\"message\": {\"content\": %q}, \"done\": false}\n", reply)
			}
			fmt.Fprint(w, "{\"done\": true}\n")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPickOllamaModel(t *testing.T) {
	available := []string{"smollm:135m", "llama3.1:8b", "qwen2.5:14b-instruct"}

	tests := []struct {
		name       string
		configured string
		available  []string
		want       string
	}{
		{"exact configured match", "llama3.1:8b", available, "llama3.1:8b"},
		{"partial configured match", "qwen2.5:14b", available, "qwen2.5:14b-instruct"},
		{"preference order", "", available, "qwen2.5:14b-instruct"},
		{"preference skips to next family", "", []string{"smollm:135m", "mistral:7b"}, "mistral:7b"},
		{"first available fallback", "", []string{"smollm:135m"}, "smollm:135m"},
		{"configured miss falls through", "gpt-4o", []string{"smollm:135m"}, "smollm:135m"},
		{"nothing available", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickOllamaModel(tt.configured, tt.available); got != tt.want {
				t.Errorf("pickOllamaModel(%q) = %q, want %q", tt.configured, got, tt.want)
			}
		})
	}
}

func TestOllamaCheckReady(t *testing.T) {
	srv := ollamaBackend(t, []string{"llama3.1:8b", "qwen2.5:14b"}, nil)
	provider := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL})

	if err := provider.CheckReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	if provider.Model() != "qwen2.5:14b" {
		t.Errorf("Model() = %q", provider.Model())
	}
}

func TestOllamaCheckReady_NoModels(t *testing.T) {
	srv := ollamaBackend(t, nil, nil)
	provider := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL})

	if err := provider.CheckReady(context.Background()); !errors.Is(err, ErrNoLocalModels) {
		t.Fatalf("err = %v", err)
	}
}

func TestOllamaCheckReady_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	provider := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL})

	if err := provider.CheckReady(context.Background()); !errors.Is(err, ErrOllamaUnreachable) {
		t.Fatalf("err = %v", err)
	}
}

func TestOllamaStreamWithHandler(t *testing.T) {
	srv := ollamaBackend(t, []string{"llama3.1:8b"}, []string{"Hello", " world"})
	provider := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL, Model: "llama3.1:8b"})

	var chunks []StreamChunk
	err := provider.StreamWithHandler(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, func(chunk *StreamChunk) error {
		chunks = append(chunks, *chunk)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var types []StreamChunkType
	var text string
	for _, c := range chunks {
		types = append(types, c.Type)
		text += c.Text
	}

	want := []StreamChunkType{
		StreamChunkTypeStart,
		StreamChunkTypeText, StreamChunkTypeText,
		StreamChunkTypeEnd,
	}
	if len(types) != len(want) {
		t.Fatalf("chunk types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("chunk types = %v, want %v", types, want)
		}
	}
	if text != "Hello world" {
		t.Errorf("text = %q", text)
	}
	if chunks[len(chunks)-1].StopReason != StopReasonEndTurn {
		t.Errorf("stop reason = %q", chunks[len(chunks)-1].StopReason)
	}
}

func TestOllamaComplete(t *testing.T) {
	srv := ollamaBackend(t, nil, []string{"It ", "works"})
	provider := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL, Model: "llama3.1:8b"})

	resp, err := provider.Complete(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "It works" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.StopReason != StopReasonEndTurn {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
}

func TestOllamaStream_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	provider := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL})

	var sawError bool
	err := provider.StreamWithHandler(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, func(chunk *StreamChunk) error {
		if chunk.Type == StreamChunkTypeError {
			sawError = true
		}
		return nil
	})

	if !errors.Is(err, ErrOllamaUnreachable) {
		t.Fatalf("err = %v", err)
	}
	if !sawError {
		t.Error("no error chunk emitted")
	}
}

func TestOllamaConvertMessages(t *testing.T) {
	provider := NewOllamaProvider(OllamaConfig{})

	got := provider.convertMessages(&Request{
		SystemPrompt: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "look this up"},
			{Role: RoleAssistant, Content: "on it"},
			{Role: RoleTool, Content: "result body", ToolCallID: "call-1"},
		},
	})

	if len(got) != 4 {
		t.Fatalf("messages = %+v", got)
	}
	if got[0].Role != "system" || got[0].Content != "be brief" {
		t.Errorf("system = %+v", got[0])
	}
	if got[3].Role != "user" || got[3].Content != "Tool result:\nresult body" {
		t.Errorf("tool fold = %+v", got[3])
	}
}
