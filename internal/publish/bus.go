// Package publish delivers session output to the bus, the event store and
// the console.
package publish

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/loqalabs/loqa-listen/internal/session"
)

// Publisher is the part of the bus client the sink needs.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// BusSink publishes cycle output as protocol messages.
type BusSink struct {
	pub  Publisher
	node string
}

func NewBusSink(pub Publisher, node string) *BusSink {
	return &BusSink{pub: pub, node: node}
}

func (b *BusSink) Started(_ context.Context, c session.Cycle) error {
	return b.pub.PublishJSON(protocol.SubjectCycleStarted, protocol.CycleStarted{
		CycleID:   c.ID,
		Node:      b.node,
		Hotword:   c.Hotword,
		Timestamp: c.StartedAt,
	})
}

func (b *BusSink) Partial(_ context.Context, u session.Update) error {
	return b.pub.PublishJSON(protocol.SubjectTranscriptPartial, protocol.Transcript{
		SessionID: u.CycleID,
		Node:      b.node,
		Text:      u.Text,
		Partial:   true,
		Chunk:     u.ChunkIndex,
		Timestamp: u.At,
	})
}

func (b *BusSink) Filtered(_ context.Context, u session.Update) error {
	return b.pub.PublishJSON(protocol.SubjectTranscriptFiltered, protocol.FilteredSegment{
		SessionID: u.CycleID,
		Node:      b.node,
		Text:      u.Text,
		Rule:      u.Rule,
		Chunk:     u.ChunkIndex,
		Timestamp: u.At,
	})
}

// Final publishes the whole transcript on the final subject.
func (b *BusSink) Final(_ context.Context, s session.Summary) error {
	return b.pub.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{
		SessionID: s.CycleID,
		Node:      b.node,
		Text:      s.Transcript,
		Chunk:     s.Chunks,
		Timestamp: time.Now().UTC(),
	})
}

// Closed publishes the cycle summary, with an empty transcript when nothing
// was accepted.
func (b *BusSink) Closed(_ context.Context, s session.Summary) error {
	return b.pub.PublishJSON(protocol.SubjectCycleSummary, protocol.CycleSummary{
		CycleID:    s.CycleID,
		Node:       b.node,
		Transcript: s.Transcript,
		Words:      s.Words,
		DurationMS: s.Duration.Milliseconds(),
		Chunks:     s.Chunks,
		Skipped:    s.Skipped,
		Filtered:   s.Filtered,
		Reason:     s.Reason,
		Aborted:    s.Aborted,
		StartedAt:  s.StartedAt,
		Timestamp:  time.Now().UTC(),
	})
}

var _ session.Sink = (*BusSink)(nil)
