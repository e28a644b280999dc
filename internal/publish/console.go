package publish

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/loqalabs/loqa-listen/internal/session"
)

// ConsoleSink echoes the transcript to a terminal as it grows. Progress
// markers and the per-cycle banner are suppressed in quiet mode; final
// transcripts are always written.
type ConsoleSink struct {
	mu      sync.Mutex
	w       io.Writer
	quiet   bool
	pending bool // a line is open and needs a newline before the next banner
}

func NewConsoleSink(w io.Writer, quiet bool) *ConsoleSink {
	return &ConsoleSink{w: w, quiet: quiet}
}

// Banner prints the startup line naming the hotword.
func (c *ConsoleSink) Banner(hotword, engine string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "Listening for %q (engine: %s)\n", hotword, engine)
}

// Mark writes a progress marker; it is the controller's progress callback.
func (c *ConsoleSink) Mark(marker byte) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.w.Write([]byte{marker})
	c.pending = true
}

func (c *ConsoleSink) Started(_ context.Context, cycle session.Cycle) error {
	if c.quiet {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLine()
	_, err := fmt.Fprintf(c.w, "[%s] ", cycle.Hotword)
	c.pending = true
	return err
}

func (c *ConsoleSink) Partial(_ context.Context, u session.Update) error {
	if c.quiet {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s ", u.Text)
	c.pending = true
	return err
}

func (c *ConsoleSink) Filtered(context.Context, session.Update) error {
	return nil
}

func (c *ConsoleSink) Final(_ context.Context, s session.Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLine()
	_, err := fmt.Fprintf(c.w, "Transcript: %s (%d words, %.1fs)\n", s.Transcript, s.Words, s.Duration.Seconds())
	return err
}

func (c *ConsoleSink) Closed(context.Context, session.Summary) error {
	return nil
}

func (c *ConsoleSink) breakLine() {
	if c.pending {
		_, _ = io.WriteString(c.w, "\n")
		c.pending = false
	}
}

var _ session.Sink = (*ConsoleSink)(nil)
