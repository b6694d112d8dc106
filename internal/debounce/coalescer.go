// ABOUTME: Per-conversation debounce buckets that merge rapid message bursts.
// ABOUTME: Attachments, empty bodies, and control commands bypass batching.

package debounce

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-rocket/internal/protocol"
)

// DefaultWindow is the debounce window applied when none is configured.
const DefaultWindow = 2 * time.Second

// Event is one inbound chat message as delivered by the realtime stream,
// normalized to what the rest of the pipeline needs.
type Event struct {
	Account      string
	RoomID       string
	RoomType     string
	ThreadID     string
	MessageID    string
	SenderID     string
	SenderName   string
	SenderHandle string
	Body         string
	Attachments  []protocol.Attachment
	Timestamp    time.Time
	System       bool
}

// ConversationKey groups events for debouncing, session routing, and history.
// Thread replies debounce independently of their parent room.
func (e Event) ConversationKey() string {
	key := e.Account + "/" + e.RoomID
	if e.ThreadID != "" {
		key += ":" + e.ThreadID
	}
	return key
}

// FlushFunc receives a flushed (possibly merged) event.
type FlushFunc func(Event)

// bucket holds queued events and the pending timer for one conversation key.
type bucket struct {
	events []Event
	timer  *time.Timer
}

// Coalescer batches plain-text events per conversation key. At most one
// timer is active per key; a flush empties the queue atomically before the
// next event for that key starts a new bucket. Keys are independent, so a
// burst in one conversation never delays another.
type Coalescer struct {
	mu        sync.Mutex
	window    time.Duration
	buckets   map[string]*bucket
	flush     FlushFunc
	isControl func(string) bool
	logger    *slog.Logger
	closed    bool
}

// New creates a coalescer. isControl recognizes control-command text and
// may be nil. Pass nil logger for default.
func New(window time.Duration, flush FlushFunc, isControl func(string) bool, logger *slog.Logger) *Coalescer {
	if window <= 0 {
		window = DefaultWindow
	}
	if isControl == nil {
		isControl = func(string) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coalescer{
		window:    window,
		buckets:   make(map[string]*bucket),
		flush:     flush,
		isControl: isControl,
		logger:    logger.With("component", "debounce"),
	}
}

// Enqueue adds an event and never blocks on the flush callback. Events
// carrying attachments, with empty text, or containing a control command are
// unambiguous single actions or time-sensitive: they flush right away on
// their own goroutine, draining any pending bucket for the key first so the
// buffered text lands before the event that interrupted it. Plain text
// starts or extends the key's window.
func (c *Coalescer) Enqueue(ev Event) {
	key := ev.ConversationKey()

	if c.immediate(ev) {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		pending := c.takeLocked(key)
		c.mu.Unlock()

		// Enqueue is called from the connection's frame loop, which
		// has keepalive deadlines. A slow downstream must not stall it.
		go func() {
			if len(pending) > 0 {
				c.flush(Merge(pending))
			}
			c.flush(ev)
		}()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	b, ok := c.buckets[key]
	if !ok {
		b = &bucket{events: []Event{ev}}
		b.timer = time.AfterFunc(c.window, func() { c.fire(key) })
		c.buckets[key] = b
		return
	}

	b.events = append(b.events, ev)
	b.timer.Reset(c.window)
}

// Close cancels all pending timers without flushing. Queued events are
// dropped; after shutdown a late flush would be indistinguishable from a
// fresh message downstream.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for key, b := range c.buckets {
		b.timer.Stop()
		delete(c.buckets, key)
	}
}

// immediate reports whether the event bypasses batching.
func (c *Coalescer) immediate(ev Event) bool {
	if len(ev.Attachments) > 0 {
		return true
	}
	if strings.TrimSpace(ev.Body) == "" {
		return true
	}
	return c.isControl(ev.Body)
}

// take removes and returns the pending bucket for key, stopping its timer.
func (c *Coalescer) take(key string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeLocked(key)
}

// takeLocked is take for callers already holding c.mu.
func (c *Coalescer) takeLocked(key string) []Event {
	b, ok := c.buckets[key]
	if !ok {
		return nil
	}
	b.timer.Stop()
	delete(c.buckets, key)
	return b.events
}

// fire is the timer callback for one key.
func (c *Coalescer) fire(key string) {
	events := c.take(key)
	if len(events) == 0 {
		return
	}
	if len(events) > 1 {
		c.logger.Debug("merging debounced burst", "key", key, "count", len(events))
	}
	c.flush(Merge(events))
}

// Merge collapses a burst into one event: bodies newline-joined oldest
// first, metadata from the most recent event. Attachments are dropped from
// merged batches since attachment events are never batched to begin with.
func Merge(events []Event) Event {
	if len(events) == 1 {
		return events[0]
	}

	bodies := make([]string, 0, len(events))
	for _, ev := range events {
		bodies = append(bodies, ev.Body)
	}

	merged := events[len(events)-1]
	merged.Body = strings.Join(bodies, "\n")
	merged.Attachments = nil
	return merged
}
