package corpus

import "sync"

// Cursor is a forward-only iterator over a Corpus that is safe for concurrent
// use. Every URL is handed out exactly once.
type Cursor struct {
	mu   sync.Mutex
	urls []string
	next int
}

// NewCursor creates a cursor positioned at the first URL of c.
func NewCursor(c Corpus) *Cursor {
	return &Cursor{urls: c.urls}
}

// Next returns the next unserved URL, or false once the corpus is exhausted.
// The existence check and the advance happen under a single lock.
func (c *Cursor) Next() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.urls) {
		return "", false
	}
	u := c.urls[c.next]
	c.next++
	return u, true
}

// Served reports how many URLs have been handed out.
func (c *Cursor) Served() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Remaining reports how many URLs are still available.
func (c *Cursor) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.urls) - c.next
}
