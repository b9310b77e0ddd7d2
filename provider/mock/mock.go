// Package mock provides a scripted inference provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/fleetdna/fleetdna/provider"
)

const defaultResponse = `{"status":"ok"}`

// MockProvider implements provider.Provider for testing. It cycles
// through scripted responses and records the requests it received.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	idx       int
	calls     []Call
}

// Call captures one Complete invocation.
type Call struct {
	Messages []provider.Message
	Options  provider.Options
}

// New creates a MockProvider that cycles through the given responses.
func New(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

// NewFailing creates a MockProvider whose Complete always returns err.
func NewFailing(err error) *MockProvider {
	return &MockProvider{err: err}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// Complete returns the next scripted response, cycling through the queue.
func (m *MockProvider) Complete(_ context.Context, messages []provider.Message, opts provider.Options) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Messages: messages, Options: opts})
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &provider.Response{Content: defaultResponse}, nil
	}
	resp := m.responses[m.idx%len(m.responses)]
	m.idx++
	return &provider.Response{Content: resp}, nil
}

// Calls returns the recorded invocations.
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
