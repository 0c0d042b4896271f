package assistant

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Role is the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a thread's history.
type Turn struct {
	Role    Role
	Content string
}

// Memory keeps assistants and thread histories in process. Backends that
// talk to stateless chat-completion APIs embed it to provide threads.
type Memory struct {
	mu         sync.RWMutex
	assistants map[string]*Assistant
	threads    map[string]*thread
}

type thread struct {
	assistantID string
	history     []Turn
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		assistants: make(map[string]*Assistant),
		threads:    make(map[string]*thread),
	}
}

// CreateAssistant registers a persona under a fresh ID.
func (m *Memory) CreateAssistant(_ context.Context, spec Spec) (*Assistant, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("assistant name is required")
	}
	a := &Assistant{
		ID:           "asst_" + uuid.NewString(),
		Name:         spec.Name,
		Instructions: spec.Instructions,
	}

	m.mu.Lock()
	m.assistants[a.ID] = a
	m.mu.Unlock()
	return a, nil
}

// CreateThread starts an empty history for an assistant.
func (m *Memory) CreateThread(_ context.Context, assistantID string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assistants[assistantID]; !ok {
		return nil, fmt.Errorf("creating thread for %s: %w", assistantID, ErrUnknownAssistant)
	}
	id := "thread_" + uuid.NewString()
	m.threads[id] = &thread{assistantID: assistantID}
	return &Thread{ID: id, AssistantID: assistantID}, nil
}

// History returns the instructions of the thread's assistant and a copy of
// the thread's turns.
func (m *Memory) History(threadID string) (string, []Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[threadID]
	if !ok {
		return "", nil, fmt.Errorf("thread %s: %w", threadID, ErrUnknownThread)
	}
	a := m.assistants[t.assistantID]
	history := make([]Turn, len(t.history))
	copy(history, t.history)
	return a.Instructions, history, nil
}

// Append records a completed exchange on a thread.
func (m *Memory) Append(threadID, prompt, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.threads[threadID]; ok {
		t.history = append(t.history,
			Turn{Role: RoleUser, Content: prompt},
			Turn{Role: RoleAssistant, Content: reply},
		)
	}
}
