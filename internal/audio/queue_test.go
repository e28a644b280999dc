package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func frameWith(seq uint64) Frame {
	return Frame{Samples: []int16{int16(seq)}, Sequence: seq}
}

func TestFrameQueuePreservesOrder(t *testing.T) {
	q := NewFrameQueue(4)
	for i := uint64(0); i < 3; i++ {
		q.Push(frameWith(i))
	}
	for i := uint64(0); i < 3; i++ {
		f, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if f.Sequence != i {
			t.Fatalf("expected sequence %d, got %d", i, f.Sequence)
		}
	}
}

func TestFrameQueueDropsOldestWhenFull(t *testing.T) {
	q := NewFrameQueue(3)
	for i := uint64(0); i < 5; i++ {
		if !q.Push(frameWith(i)) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if q.Dropped() != 2 {
		t.Fatalf("expected 2 dropped frames, got %d", q.Dropped())
	}
	if q.Pushed() != 5 {
		t.Fatalf("expected 5 pushed frames, got %d", q.Pushed())
	}
	for _, want := range []uint64{2, 3, 4} {
		f, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if f.Sequence != want {
			t.Fatalf("expected sequence %d, got %d", want, f.Sequence)
		}
	}
}

func TestFrameQueueCloseDrainsThenStops(t *testing.T) {
	q := NewFrameQueue(2)
	q.Push(frameWith(7))
	q.Close()
	if q.Push(frameWith(8)) {
		t.Fatal("push after close must be rejected")
	}
	f, err := q.Pop(context.Background())
	if err != nil || f.Sequence != 7 {
		t.Fatalf("expected queued frame before close error, got %v %v", f.Sequence, err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestFrameQueuePopWaitsForProducer(t *testing.T) {
	q := NewFrameQueue(2)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(frameWith(1))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if f.Sequence != 1 {
		t.Fatalf("unexpected frame %d", f.Sequence)
	}
}

func TestFrameQueuePopHonoursContext(t *testing.T) {
	q := NewFrameQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFrameQueuePushWaitBlocksUntilPop(t *testing.T) {
	q := NewFrameQueue(1)
	if err := q.PushWait(context.Background(), frameWith(0)); err != nil {
		t.Fatalf("push: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- q.PushWait(context.Background(), frameWith(1)) }()

	select {
	case err := <-done:
		t.Fatalf("push into full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if f, err := q.Pop(context.Background()); err != nil || f.Sequence != 0 {
		t.Fatalf("unexpected pop %v %v", f.Sequence, err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("push did not resume after pop")
	}
	if q.Dropped() != 0 {
		t.Fatalf("PushWait must never drop, dropped %d", q.Dropped())
	}
}

func TestFrameQueuePushWaitHonoursContext(t *testing.T) {
	q := NewFrameQueue(1)
	q.Push(frameWith(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.PushWait(ctx, frameWith(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
