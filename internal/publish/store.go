package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-listen/internal/eventstore"
	"github.com/loqalabs/loqa-listen/internal/session"
)

// StoreSink records cycles and their segments in the event store.
type StoreSink struct {
	store   *eventstore.Store
	hotword string
}

func NewStoreSink(store *eventstore.Store, hotword string) *StoreSink {
	return &StoreSink{store: store, hotword: hotword}
}

func (s *StoreSink) Started(ctx context.Context, c session.Cycle) error {
	if err := s.store.StartCycle(ctx, c.ID, c.Hotword, c.StartedAt); err != nil {
		return err
	}
	return s.store.AppendEvent(ctx, eventstore.Event{
		CycleID:   c.ID,
		Type:      eventstore.EventTriggered,
		Text:      c.Hotword,
		CreatedAt: c.StartedAt,
	})
}

func (s *StoreSink) Partial(ctx context.Context, u session.Update) error {
	return s.store.AppendEvent(ctx, eventstore.Event{
		CycleID:    u.CycleID,
		Type:       eventstore.EventPartial,
		ChunkIndex: u.ChunkIndex,
		Text:       u.Text,
		CreatedAt:  u.At,
	})
}

func (s *StoreSink) Filtered(ctx context.Context, u session.Update) error {
	return s.store.AppendEvent(ctx, eventstore.Event{
		CycleID:    u.CycleID,
		Type:       eventstore.EventFiltered,
		ChunkIndex: u.ChunkIndex,
		Text:       u.Text,
		Rule:       u.Rule,
		CreatedAt:  u.At,
	})
}

func (s *StoreSink) Final(ctx context.Context, sum session.Summary) error {
	return s.store.AppendEvent(ctx, eventstore.Event{
		CycleID:    sum.CycleID,
		Type:       eventstore.EventFinal,
		ChunkIndex: sum.Chunks,
		Text:       sum.Transcript,
		CreatedAt:  time.Now(),
	})
}

// Closed ends the cycle row, transcript or not, and applies retention.
func (s *StoreSink) Closed(ctx context.Context, sum session.Summary) error {
	err := s.store.FinishCycle(ctx, eventstore.Cycle{
		ID:         sum.CycleID,
		Hotword:    s.hotword,
		StartedAt:  sum.StartedAt,
		EndedAt:    time.Now(),
		Transcript: sum.Transcript,
		Words:      sum.Words,
		Duration:   sum.Duration,
		Reason:     sum.Reason,
		Aborted:    sum.Aborted,
	})
	if err != nil {
		return err
	}
	if err := s.store.Prune(ctx); err != nil {
		return fmt.Errorf("prune event store: %w", err)
	}
	return nil
}

var _ session.Sink = (*StoreSink)(nil)
