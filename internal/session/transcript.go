package session

import "strings"

// Assembler accumulates accepted segments in arrival order.
type Assembler struct {
	b strings.Builder
}

// Add appends a segment separated by a single space. Blank segments are
// ignored.
func (a *Assembler) Add(segment string) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return
	}
	if a.b.Len() > 0 {
		a.b.WriteByte(' ')
	}
	a.b.WriteString(segment)
}

// Text is the running transcript, not yet normalized.
func (a *Assembler) Text() string {
	return a.b.String()
}

// Finalize returns the normalized transcript and its word count.
func (a *Assembler) Finalize() (string, int) {
	return Normalize(a.b.String())
}

func (a *Assembler) Reset() {
	a.b.Reset()
}

// Normalize collapses whitespace runs to single spaces, trims the ends and
// counts words as spaces plus one.
func Normalize(text string) (string, int) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", 0
	}
	return strings.Join(fields, " "), len(fields)
}
