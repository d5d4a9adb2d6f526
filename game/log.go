package game

import "sync"

// MessageLog is an append-only record of received envelopes. The original
// design re-delivered the whole history to every consumer on each change and
// relied on consumers tracking a high-water mark; here the cursor is the
// explicit subscription primitive, so each consumer observes every entry
// exactly once regardless of how often it drains.
type MessageLog struct {
	mu      sync.Mutex
	entries []Envelope
}

func (l *MessageLog) Append(e Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Cursor returns a new subscriber positioned before the oldest entry.
func (l *MessageLog) Cursor() *Cursor {
	return &Cursor{log: l}
}

// Cursor tracks a single consumer's position in the log. Entries are
// delivered strictly in order and never twice.
type Cursor struct {
	log  *MessageLog
	next int
}

// Next returns the next unseen entry, if any.
func (c *Cursor) Next() (Envelope, bool) {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()

	if c.next >= len(c.log.entries) {
		return Envelope{}, false
	}
	e := c.log.entries[c.next]
	c.next++
	return e, true
}

// Drain applies fn to every unseen entry.
func (c *Cursor) Drain(fn func(Envelope)) {
	for {
		e, ok := c.Next()
		if !ok {
			return
		}
		fn(e)
	}
}
