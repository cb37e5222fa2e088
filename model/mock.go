package model

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a lightweight in-memory Gateway useful for tests and examples. It
// serves scripted responses in FIFO order, falls back to canned per-prompt
// responses, and records every request it receives.
type Mock struct {
	mu        sync.Mutex
	queue     []string
	responses map[string]string
	err       error
	requests  []Request
}

// NewMock constructs an empty mock gateway.
func NewMock() *Mock {
	return &Mock{responses: make(map[string]string)}
}

// Enqueue appends scripted responses served in order before any canned lookup.
func (m *Mock) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// AddResponse registers a canned completion for an exact final input.
func (m *Mock) AddResponse(input, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[input] = response
}

// Fail makes every subsequent call return err (nil restores normal operation).
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns a copy of all requests seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := make([]Request, len(m.requests))
	copy(reqs, m.requests)
	return reqs
}

// Generate implements Gateway.
func (m *Mock) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}
	input := req.Transcript
	if len(req.Messages) > 0 {
		input = req.Messages[len(req.Messages)-1].Content
	}
	if resp, ok := m.responses[input]; ok {
		return resp, nil
	}
	return fmt.Sprintf("Mock response to: %s", input), nil
}
