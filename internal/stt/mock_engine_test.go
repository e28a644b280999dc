package stt

import (
	"context"
	"errors"
	"testing"
)

func TestMockEngineScript(t *testing.T) {
	m := NewMockEngine(Result{Segments: []string{"one"}}, Result{Segments: []string{"two"}})
	ctx := context.Background()
	for _, want := range []string{"one", "two", "two"} {
		res, err := m.Transcribe(ctx, Request{Samples: []int16{1}})
		if err != nil {
			t.Fatalf("transcribe: %v", err)
		}
		if res.Text() != want {
			t.Fatalf("expected %q, got %q", want, res.Text())
		}
	}
	if len(m.Calls()) != 3 {
		t.Fatalf("expected 3 recorded calls, got %d", len(m.Calls()))
	}
}

func TestMockEngineFailNext(t *testing.T) {
	m := NewMockEngine()
	boom := errors.New("boom")
	m.FailNext(boom, 1)
	if _, err := m.Transcribe(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Fatalf("expected scripted failure, got %v", err)
	}
	res, err := m.Transcribe(context.Background(), Request{Samples: make([]int16, 4), Final: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text() != "final of 4 samples" {
		t.Fatalf("unexpected default text %q", res.Text())
	}
}

func TestResultEmpty(t *testing.T) {
	if !(Result{Segments: []string{"", "  "}}).Empty() {
		t.Fatal("blank segments must count as empty")
	}
	if (Result{Segments: []string{"hi"}}).Empty() {
		t.Fatal("non-blank segment is not empty")
	}
}
