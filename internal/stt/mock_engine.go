package stt

import (
	"context"
	"fmt"
	"sync"
)

// MockEngine returns scripted results in order, then repeats the last one.
// With no script it answers with a description of the request.
type MockEngine struct {
	mu     sync.Mutex
	script []Result
	errs   []error
	calls  []Request
	next   int
}

func NewMockEngine(script ...Result) *MockEngine {
	return &MockEngine{script: script}
}

// FailNext makes the next n calls return err.
func (m *MockEngine) FailNext(err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.errs = append(m.errs, err)
	}
}

func (m *MockEngine) Name() string { return "mock" }

func (m *MockEngine) Close() error { return nil }

func (m *MockEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Request{
		Samples:    append([]int16(nil), req.Samples...),
		SampleRate: req.SampleRate,
		Language:   req.Language,
		Quality:    req.Quality,
		Final:      req.Final,
	})
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return Result{}, err
	}
	if len(m.script) == 0 {
		mode := "chunk"
		if req.Final {
			mode = "final"
		}
		return Result{Segments: []string{fmt.Sprintf("%s of %d samples", mode, len(req.Samples))}}, nil
	}
	idx := m.next
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	} else {
		m.next++
	}
	return m.script[idx], nil
}

// Calls returns a copy of every request seen so far.
func (m *MockEngine) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

var _ Engine = (*MockEngine)(nil)
