package model

import (
	"context"
	"fmt"
	"sync"
)

// Chat roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one provider-neutral prompt turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request captures the normalized generation input produced by agents.
type Request struct {
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int64         `json:"max_tokens,omitempty"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock"
}

// Provider is the minimal interface the gateway needs to drive generation.
// Implementations return the first choice's text and classify failures with
// core error kinds (transport vs service) so the gateway can decide whether
// to retry.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Info returns information about the provider implementation.
	Info() Info
}

// Step is one scripted outcome of a MockProvider call.
type Step struct {
	Text string
	Err  error
}

// MockProvider is a lightweight in-memory Provider useful for tests & examples.
// Scripted steps are consumed in order; once exhausted it echoes the last user
// message.
type MockProvider struct {
	info  Info
	mu    sync.Mutex
	steps []Step
	reqs  []Request
}

// NewMockProvider constructs a MockProvider with the given scripted steps.
func NewMockProvider(steps ...Step) *MockProvider {
	return &MockProvider{info: Info{Name: "mock", Provider: "mock"}, steps: steps}
}

// Push appends further scripted steps.
func (m *MockProvider) Push(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	var step *Step
	if len(m.steps) > 0 {
		s := m.steps[0]
		m.steps = m.steps[1:]
		step = &s
	}
	m.mu.Unlock()

	if step != nil {
		return step.Text, step.Err
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return fmt.Sprintf("Mock response to: %s", req.Messages[i].Content), nil
		}
	}
	return "", fmt.Errorf("no user message provided")
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.reqs))
	copy(out, m.reqs)
	return out
}

// Calls returns the number of Complete invocations.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return m.info }
