package session

import (
	"context"
	"errors"
	"time"
)

// Cycle identifies a listening cycle to sinks.
type Cycle struct {
	ID        string
	Hotword   string
	StartedAt time.Time
}

// Update is one recognized segment, accepted or filtered.
type Update struct {
	CycleID    string
	ChunkIndex int
	Text       string
	Final      bool
	Rule       string
	At         time.Time
}

// Sink receives cycle output. Errors are logged by the controller and never
// stop the session. Final only sees cycles that produced a transcript;
// Closed sees every cycle, after Final.
type Sink interface {
	Started(ctx context.Context, cycle Cycle) error
	Partial(ctx context.Context, update Update) error
	Filtered(ctx context.Context, update Update) error
	Final(ctx context.Context, summary Summary) error
	Closed(ctx context.Context, summary Summary) error
}

// MultiSink fans out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Started(ctx context.Context, cycle Cycle) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Started(ctx, cycle))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Partial(ctx context.Context, update Update) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Partial(ctx, update))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Filtered(ctx context.Context, update Update) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Filtered(ctx, update))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Final(ctx context.Context, summary Summary) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Final(ctx, summary))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Closed(ctx context.Context, summary Summary) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Closed(ctx, summary))
	}
	return errors.Join(errs...)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Started(context.Context, Cycle) error   { return nil }
func (NopSink) Partial(context.Context, Update) error  { return nil }
func (NopSink) Filtered(context.Context, Update) error { return nil }
func (NopSink) Final(context.Context, Summary) error   { return nil }
func (NopSink) Closed(context.Context, Summary) error  { return nil }
