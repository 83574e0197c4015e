// Package chat proxies page-scoped assistant conversations to an external
// completion endpoint, keeping a short rolling history per page and user.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	// maxTurns bounds the rolling history to the last exchanges so the
	// proxy payload stays small no matter how long a session runs.
	maxTurns = 10
	convoTTL = 30 * time.Minute
)

// ErrDisabled is returned when no completion endpoint is configured.
var ErrDisabled = errors.New("chat assistant not configured")

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type conversation struct {
	turns      []Message
	lastActive time.Time
}

// Config holds the upstream completion endpoint settings.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
}

// Service keeps per-page conversations and forwards them upstream.
type Service struct {
	config Config
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	convos map[string]*conversation

	done chan struct{}
}

// NewService creates a chat service and starts the idle-conversation sweeper.
func NewService(config Config) *Service {
	s := &Service{
		config: config,
		client: &http.Client{Timeout: 60 * time.Second},
		now:    time.Now,
		convos: make(map[string]*conversation),
		done:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Enabled reports whether a completion endpoint is configured.
func (s *Service) Enabled() bool {
	return s.config.Endpoint != ""
}

// Close stops the background sweeper.
func (s *Service) Close() {
	close(s.done)
}

func convoKey(pageID, userID string) string {
	return pageID + "/" + userID
}

type completionRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Ask sends a question about a page, prefixed with the page's plain-text
// content and the rolling history, and records both sides of the exchange.
func (s *Service) Ask(ctx context.Context, pageID, userID, question, pageText string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if question == "" {
		return "", errors.New("question is required")
	}

	history := s.History(pageID, userID)

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{
		Role:    "system",
		Content: "You are a writing assistant embedded in a collaborative workspace. Answer questions about the current page.\n\nPage content:\n" + pageText,
	})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: question})

	payload, err := json.Marshal(completionRequest{
		Model:    s.config.Model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	var completion completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if completion.Error != nil {
			return "", fmt.Errorf("completion endpoint: %s", completion.Error.Message)
		}
		return "", fmt.Errorf("completion endpoint returned %d", resp.StatusCode)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("completion endpoint returned no choices")
	}

	answer := completion.Choices[0].Message.Content
	s.record(pageID, userID,
		Message{Role: "user", Content: question},
		Message{Role: "assistant", Content: answer},
	)
	return answer, nil
}

// History returns a copy of the rolling conversation for a page and user.
func (s *Service) History(pageID, userID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	convo, ok := s.convos[convoKey(pageID, userID)]
	if !ok {
		return nil
	}
	out := make([]Message, len(convo.turns))
	copy(out, convo.turns)
	return out
}

// Reset drops the conversation for a page and user.
func (s *Service) Reset(pageID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convos, convoKey(pageID, userID))
}

func (s *Service) record(pageID, userID string, turns ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := convoKey(pageID, userID)
	convo, ok := s.convos[key]
	if !ok {
		convo = &conversation{}
		s.convos[key] = convo
	}
	convo.turns = append(convo.turns, turns...)
	// A turn is a user/assistant pair.
	if max := maxTurns * 2; len(convo.turns) > max {
		convo.turns = convo.turns[len(convo.turns)-max:]
	}
	convo.lastActive = s.now()
}

func (s *Service) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	cutoff := s.now().Add(-convoTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, convo := range s.convos {
		if convo.lastActive.Before(cutoff) {
			delete(s.convos, key)
		}
	}
}
