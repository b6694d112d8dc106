// ABOUTME: Tests for the per-conversation debounce coalescer.
// ABOUTME: Validates burst merging, immediate-flush classes, and key isolation.

package debounce

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-rocket/internal/protocol"
)

// recorder collects flushed events safely across timer goroutines.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) flush(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := r.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flushed events, have %d", n, len(r.snapshot()))
	return nil
}

func textEvent(room, id, body string) Event {
	return Event{
		Account:   "acct",
		RoomID:    room,
		MessageID: id,
		SenderID:  "u1",
		Body:      body,
		Timestamp: time.Now(),
	}
}

func TestCoalescer_BurstMergesIntoOneFlush(t *testing.T) {
	rec := &recorder{}
	c := New(50*time.Millisecond, rec.flush, nil, nil)
	defer c.Close()

	c.Enqueue(textEvent("r1", "m1", "first line"))
	c.Enqueue(textEvent("r1", "m2", "second line"))
	c.Enqueue(textEvent("r1", "m3", "third line"))

	events := rec.waitFor(t, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "first line\nsecond line\nthird line", events[0].Body)
	// Metadata comes from the most recent event.
	assert.Equal(t, "m3", events[0].MessageID)

	// No second flush arrives.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestCoalescer_SingleEventDeliveredAsIs(t *testing.T) {
	rec := &recorder{}
	c := New(30*time.Millisecond, rec.flush, nil, nil)
	defer c.Close()

	c.Enqueue(textEvent("r1", "m1", "hello"))

	events := rec.waitFor(t, 1)
	assert.Equal(t, "hello", events[0].Body)
	assert.Equal(t, "m1", events[0].MessageID)
}

func TestCoalescer_AttachmentNeverBatched(t *testing.T) {
	rec := &recorder{}
	c := New(time.Hour, rec.flush, nil, nil) // window long enough to never fire
	defer c.Close()

	ev := textEvent("r1", "m1", "see attached")
	ev.Attachments = []protocol.Attachment{{Title: "report.pdf"}}
	c.Enqueue(ev)

	events := rec.waitFor(t, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "m1", events[0].MessageID)
	require.Len(t, events[0].Attachments, 1)
}

func TestCoalescer_EmptyBodyFlushesImmediately(t *testing.T) {
	rec := &recorder{}
	c := New(time.Hour, rec.flush, nil, nil)
	defer c.Close()

	c.Enqueue(textEvent("r1", "m1", "   "))
	assert.Len(t, rec.waitFor(t, 1), 1)
}

func TestCoalescer_ControlCommandFlushesImmediately(t *testing.T) {
	rec := &recorder{}
	isControl := func(s string) bool { return strings.HasPrefix(s, "/") }
	c := New(time.Hour, rec.flush, isControl, nil)
	defer c.Close()

	c.Enqueue(textEvent("r1", "m1", "/status"))
	assert.Len(t, rec.waitFor(t, 1), 1)
}

func TestCoalescer_ImmediateDrainsPendingBucketFirst(t *testing.T) {
	rec := &recorder{}
	c := New(time.Hour, rec.flush, nil, nil)
	defer c.Close()

	c.Enqueue(textEvent("r1", "m1", "typed text"))

	ev := textEvent("r1", "m2", "")
	ev.Attachments = []protocol.Attachment{{Title: "pic.png"}}
	c.Enqueue(ev)

	events := rec.waitFor(t, 2)
	require.Len(t, events, 2)
	assert.Equal(t, "typed text", events[0].Body)
	assert.Equal(t, "m2", events[1].MessageID)
}

func TestCoalescer_ImmediateFlushRunsOffCallerGoroutine(t *testing.T) {
	release := make(chan struct{})
	flushed := make(chan Event, 1)
	c := New(time.Hour, func(ev Event) {
		<-release
		flushed <- ev
	}, nil, nil)
	defer c.Close()

	enqueued := make(chan struct{})
	go func() {
		ev := textEvent("r1", "m1", "")
		ev.Attachments = []protocol.Attachment{{Title: "big.bin"}}
		c.Enqueue(ev)
		close(enqueued)
	}()

	// The caller must get control back while the flush is still stuck,
	// otherwise a slow downstream stalls the connection's frame loop.
	select {
	case <-enqueued:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a slow flush callback")
	}

	close(release)
	select {
	case ev := <-flushed:
		assert.Equal(t, "m1", ev.MessageID)
	case <-time.After(time.Second):
		t.Fatal("flush never delivered the event")
	}
}

func TestCoalescer_ImmediateAfterCloseIsDropped(t *testing.T) {
	rec := &recorder{}
	c := New(time.Hour, rec.flush, nil, nil)
	c.Close()

	ev := textEvent("r1", "m1", "")
	ev.Attachments = []protocol.Attachment{{Title: "late.png"}}
	c.Enqueue(ev)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestCoalescer_KeysAreIndependent(t *testing.T) {
	rec := &recorder{}
	c := New(50*time.Millisecond, rec.flush, nil, nil)
	defer c.Close()

	c.Enqueue(textEvent("r1", "m1", "room one"))
	c.Enqueue(textEvent("r2", "m2", "room two"))

	events := rec.waitFor(t, 2)
	bodies := []string{events[0].Body, events[1].Body}
	assert.ElementsMatch(t, []string{"room one", "room two"}, bodies)
}

func TestCoalescer_ThreadDebouncesSeparatelyFromRoom(t *testing.T) {
	rec := &recorder{}
	c := New(50*time.Millisecond, rec.flush, nil, nil)
	defer c.Close()

	root := textEvent("r1", "m1", "in room")
	threaded := textEvent("r1", "m2", "in thread")
	threaded.ThreadID = "m0"

	require.NotEqual(t, root.ConversationKey(), threaded.ConversationKey())

	c.Enqueue(root)
	c.Enqueue(threaded)

	events := rec.waitFor(t, 2)
	assert.Len(t, events, 2)
}

func TestCoalescer_CloseDropsPending(t *testing.T) {
	rec := &recorder{}
	c := New(30*time.Millisecond, rec.flush, nil, nil)

	c.Enqueue(textEvent("r1", "m1", "never delivered"))
	c.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	// Enqueue after close is a no-op.
	c.Enqueue(textEvent("r1", "m2", "late"))
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestMerge_OrderAndMetadata(t *testing.T) {
	older := textEvent("r1", "m1", "one")
	older.Timestamp = time.Now().Add(-time.Second)
	newer := textEvent("r1", "m2", "two")

	merged := Merge([]Event{older, newer})
	assert.Equal(t, "one\ntwo", merged.Body)
	assert.Equal(t, "m2", merged.MessageID)
	assert.Equal(t, newer.Timestamp, merged.Timestamp)
	assert.Nil(t, merged.Attachments)
}
