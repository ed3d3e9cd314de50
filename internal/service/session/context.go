package session

import "sync"

// DefaultContextWindow is the number of recent utterance texts retained.
const DefaultContextWindow = 5

// Context is the rolling consolidation context of one session: a bounded
// FIFO window of recent consolidated texts plus the speakers identified so
// far. Window entries are evicted oldest first; speakers are kept for the
// whole session.
type Context struct {
	mu       sync.Mutex
	capacity int
	window   []string
	speakers map[string]struct{}
	order    []string
}

// NewContext creates a context with the given window capacity.
func NewContext(capacity int) *Context {
	if capacity <= 0 {
		capacity = DefaultContextWindow
	}
	return &Context{
		capacity: capacity,
		speakers: map[string]struct{}{},
	}
}

// Append adds a consolidated utterance text, evicting the oldest entry when
// the window is full.
func (c *Context) Append(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = append(c.window, text)
	if len(c.window) > c.capacity {
		c.window = c.window[1:]
	}
}

// Window returns a copy of the current window, oldest first.
func (c *Context) Window() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.window))
	copy(out, c.window)
	return out
}

// NoteSpeaker records a detected speaker name. Returns true the first time
// the name is seen in this session.
func (c *Context) NoteSpeaker(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.speakers[name]; ok {
		return false
	}
	c.speakers[name] = struct{}{}
	c.order = append(c.order, name)
	return true
}

// Speakers returns the speaker names in first-seen order.
func (c *Context) Speakers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
