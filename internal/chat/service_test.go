package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newCompletionServer(t *testing.T, reply func(req completionRequest) string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := completionResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message Message `json:"message"`
		}{Message: Message{Role: "assistant", Content: reply(req)}})
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAskRecordsBothTurns(t *testing.T) {
	server := newCompletionServer(t, func(completionRequest) string { return "an answer" })
	svc := NewService(Config{Endpoint: server.URL})
	defer svc.Close()

	answer, err := svc.Ask(context.Background(), "pg_1", "usr_1", "what is this page about?", "page text")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer != "an answer" {
		t.Fatalf("answer = %q", answer)
	}

	history := svc.History("pg_1", "usr_1")
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("history roles = %s, %s", history[0].Role, history[1].Role)
	}
}

func TestAskSendsPageContextAndHistory(t *testing.T) {
	var last completionRequest
	server := newCompletionServer(t, func(req completionRequest) string {
		last = req
		return "ok"
	})
	svc := NewService(Config{Endpoint: server.URL, Model: "test-model"})
	defer svc.Close()

	ctx := context.Background()
	if _, err := svc.Ask(ctx, "pg_1", "usr_1", "first question", "the page body"); err != nil {
		t.Fatalf("ask 1: %v", err)
	}
	if _, err := svc.Ask(ctx, "pg_1", "usr_1", "second question", "the page body"); err != nil {
		t.Fatalf("ask 2: %v", err)
	}

	if last.Model != "test-model" {
		t.Errorf("model = %q", last.Model)
	}
	if last.Messages[0].Role != "system" || !strings.Contains(last.Messages[0].Content, "the page body") {
		t.Errorf("system message = %+v", last.Messages[0])
	}
	// system + first exchange + new question
	if len(last.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(last.Messages))
	}
	if last.Messages[1].Content != "first question" {
		t.Errorf("history not forwarded: %+v", last.Messages[1])
	}
}

func TestHistoryIsBounded(t *testing.T) {
	count := 0
	server := newCompletionServer(t, func(completionRequest) string {
		count++
		return fmt.Sprintf("answer %d", count)
	})
	svc := NewService(Config{Endpoint: server.URL})
	defer svc.Close()

	ctx := context.Background()
	for i := 0; i < maxTurns+5; i++ {
		if _, err := svc.Ask(ctx, "pg_1", "usr_1", fmt.Sprintf("question %d", i), ""); err != nil {
			t.Fatalf("ask %d: %v", i, err)
		}
	}

	history := svc.History("pg_1", "usr_1")
	if len(history) != maxTurns*2 {
		t.Fatalf("history = %d messages, want %d", len(history), maxTurns*2)
	}
	// The oldest surviving turn is the sixth question.
	if history[0].Content != "question 5" {
		t.Errorf("oldest message = %q", history[0].Content)
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	server := newCompletionServer(t, func(completionRequest) string { return "ok" })
	svc := NewService(Config{Endpoint: server.URL})
	defer svc.Close()

	ctx := context.Background()
	if _, err := svc.Ask(ctx, "pg_1", "usr_1", "q", ""); err != nil {
		t.Fatalf("ask: %v", err)
	}

	if got := svc.History("pg_1", "usr_2"); len(got) != 0 {
		t.Errorf("another user's history leaked: %d messages", len(got))
	}
	if got := svc.History("pg_2", "usr_1"); len(got) != 0 {
		t.Errorf("another page's history leaked: %d messages", len(got))
	}
}

func TestSweepDropsIdleConversations(t *testing.T) {
	server := newCompletionServer(t, func(completionRequest) string { return "ok" })
	svc := NewService(Config{Endpoint: server.URL})
	defer svc.Close()

	if _, err := svc.Ask(context.Background(), "pg_1", "usr_1", "q", ""); err != nil {
		t.Fatalf("ask: %v", err)
	}

	// Pretend half an hour passed.
	svc.now = func() time.Time { return time.Now().Add(convoTTL + time.Minute) }
	svc.sweep()

	if got := svc.History("pg_1", "usr_1"); len(got) != 0 {
		t.Errorf("idle conversation survived the sweep: %d messages", len(got))
	}
}

func TestAskDisabled(t *testing.T) {
	svc := NewService(Config{})
	defer svc.Close()

	if _, err := svc.Ask(context.Background(), "pg_1", "usr_1", "q", ""); err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestReset(t *testing.T) {
	server := newCompletionServer(t, func(completionRequest) string { return "ok" })
	svc := NewService(Config{Endpoint: server.URL})
	defer svc.Close()

	if _, err := svc.Ask(context.Background(), "pg_1", "usr_1", "q", ""); err != nil {
		t.Fatalf("ask: %v", err)
	}
	svc.Reset("pg_1", "usr_1")
	if got := svc.History("pg_1", "usr_1"); len(got) != 0 {
		t.Errorf("history survived reset: %d messages", len(got))
	}
}
