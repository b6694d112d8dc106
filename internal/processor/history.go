// ABOUTME: Bounded rolling conversation history buffered per conversation key.
// ABOUTME: Folded into the next dispatched turn, cleared on successful dispatch.

package processor

import "sync"

// history buffers context lines for messages that were dropped (or failed to
// dispatch) so the next authorized turn carries them. Bounded per key; the
// oldest line falls off first.
type history struct {
	mu    sync.Mutex
	limit int
	lines map[string][]string
}

func newHistory(limit int) *history {
	return &history{limit: limit, lines: make(map[string][]string)}
}

func (h *history) remember(key, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := append(h.lines[key], line)
	if n := len(buf) - h.limit; n > 0 {
		buf = buf[n:]
	}
	h.lines[key] = buf
}

func (h *history) snapshot(key string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := h.lines[key]
	if len(buf) == 0 {
		return nil
	}
	return append([]string(nil), buf...)
}

func (h *history) clear(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lines, key)
}
