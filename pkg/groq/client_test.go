package groq

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// newStreamServer serves a minimal SSE chat completion: one content chunk,
// then the DONE sentinel.
func newStreamServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", reply)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(Config{APIKey: "test-key", SystemPrompt: "test prompt"})
	c.baseURL = srv.URL
	return c
}

func TestChatStream_RecordsBothTurns(t *testing.T) {
	srv := newStreamServer(t, "the answer")
	defer srv.Close()
	c := newTestClient(srv)

	var got strings.Builder
	err := c.ChatStream(context.Background(), "a question", func(chunk string, done bool) {
		if !done {
			got.WriteString(chunk)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if got.String() != "the answer" {
		t.Errorf("streamed = %q, want the answer", got.String())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) != 2 {
		t.Fatalf("history has %d messages, want user+assistant", len(c.messages))
	}
	if c.messages[0].Role != "user" || c.messages[1].Role != "assistant" {
		t.Errorf("history roles = %s/%s, want user/assistant", c.messages[0].Role, c.messages[1].Role)
	}
}

func TestInstructStream_RecordsOnlyAssistantTurn(t *testing.T) {
	srv := newStreamServer(t, "hello there")
	defer srv.Close()
	c := newTestClient(srv)

	err := c.InstructStream(context.Background(), "greet the user", func(chunk string, done bool) {})
	if err != nil {
		t.Fatalf("InstructStream: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) != 1 || c.messages[0].Role != "assistant" {
		t.Fatalf("history = %+v, want a single assistant turn", c.messages)
	}
}

// The greeting path and the utterance path can stream at the same time;
// the shared history must stay consistent under that concurrency.
func TestConcurrentStreams_HistoryStaysConsistent(t *testing.T) {
	srv := newStreamServer(t, "ok")
	defer srv.Close()
	c := newTestClient(srv)

	const rounds = 8
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := c.ChatStream(context.Background(), fmt.Sprintf("question %d", i), func(string, bool) {}); err != nil {
				t.Errorf("ChatStream: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if err := c.InstructStream(context.Background(), "greet", func(string, bool) {}); err != nil {
				t.Errorf("InstructStream: %v", err)
			}
		}()
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	// rounds user turns, rounds assistant turns from chat, rounds from
	// instruct.
	if len(c.messages) != rounds*3 {
		t.Errorf("history has %d messages, want %d", len(c.messages), rounds*3)
	}
	for _, m := range c.messages {
		if m.Role != "user" && m.Role != "assistant" {
			t.Errorf("unexpected role %q in history", m.Role)
		}
		if m.Content == "" {
			t.Error("empty message recorded in history")
		}
	}
}
