package telegram

import (
	"context"
	"sync"

	"github.com/BTreeMap/BookingRelay/internal/models"
)

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	Handle   models.Handle
	Text     string
	Controls []models.Control
}

// ControlEdit is a controls edit recorded by MockClient.
type ControlEdit struct {
	Handle   models.Handle
	Controls []models.Control
}

// Answer is a callback acknowledgement recorded by MockClient.
type Answer struct {
	CallbackID string
	Text       string
}

// MockClient is an in-memory channel for tests.
type MockClient struct {
	mu      sync.Mutex
	ChatID  int64
	nextID  int
	Sent    []SentMessage
	Edits   []ControlEdit
	Answers []Answer
	Replies []SentMessage

	SendErr  error
	EditErr  error
	ReplyErr error
}

// NewMockClient creates a MockClient posting to chat 1000.
func NewMockClient() *MockClient {
	return &MockClient{ChatID: 1000}
}

func (m *MockClient) Send(_ context.Context, text string, controls []models.Control) (models.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return models.Handle{}, m.SendErr
	}
	m.nextID++
	h := models.Handle{ChatID: m.ChatID, MessageID: m.nextID}
	m.Sent = append(m.Sent, SentMessage{Handle: h, Text: text, Controls: append([]models.Control(nil), controls...)})
	return h, nil
}

func (m *MockClient) EditControls(_ context.Context, h models.Handle, controls []models.Control) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EditErr != nil {
		return m.EditErr
	}
	m.Edits = append(m.Edits, ControlEdit{Handle: h, Controls: append([]models.Control(nil), controls...)})
	return nil
}

func (m *MockClient) Answer(_ context.Context, callbackID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Answers = append(m.Answers, Answer{CallbackID: callbackID, Text: text})
	return nil
}

func (m *MockClient) Reply(_ context.Context, h models.Handle, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReplyErr != nil {
		return m.ReplyErr
	}
	m.Replies = append(m.Replies, SentMessage{Handle: h, Text: text})
	return nil
}

// SentCount returns how many messages were sent.
func (m *MockClient) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// LastEdit returns the most recent controls edit.
func (m *MockClient) LastEdit() (ControlEdit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Edits) == 0 {
		return ControlEdit{}, false
	}
	return m.Edits[len(m.Edits)-1], true
}

// AnswerCount returns how many callbacks were answered.
func (m *MockClient) AnswerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Answers)
}

// ReplyTexts returns the texts of all replies.
func (m *MockClient) ReplyTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Replies))
	for i, r := range m.Replies {
		out[i] = r.Text
	}
	return out
}
