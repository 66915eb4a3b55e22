package agent

import (
	"context"
	"sync"
)

// MockRunner is a test double for Runner.
type MockRunner struct {
	mu       sync.Mutex
	Results  []Result
	Default  Result
	Requests []Request
	next     int

	// OnRun, when set, is consulted instead of the queued results.
	OnRun func(req Request) Result
}

var _ Runner = (*MockRunner)(nil)

// NewMockRunner returns a runner that succeeds with empty text by
// default.
func NewMockRunner() *MockRunner {
	return &MockRunner{Default: Result{Success: true}}
}

func (m *MockRunner) Run(_ context.Context, req Request) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)

	if m.OnRun != nil {
		return m.OnRun(req)
	}
	if m.next < len(m.Results) {
		res := m.Results[m.next]
		m.next++
		return res
	}
	return m.Default
}

// Calls returns a copy of the recorded requests.
func (m *MockRunner) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.Requests))
	copy(out, m.Requests)
	return out
}
