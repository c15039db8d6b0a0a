package sse

import (
	"strconv"
	"sync"
	"time"
)

const (
	defaultReplayCapacity = 1000
	// defaultReplayWindow matches the delivery due window: an announcement
	// that fired more than a day ago is no longer replayed to a reconnect.
	defaultReplayWindow = 24 * time.Hour
)

type replayEntry struct {
	seq      int64
	event    SSEEvent
	storedAt time.Time
}

// ReplayBuffer keeps the most recent addressed events for Last-Event-ID
// resumption. Entries are evicted by count and by age.
type ReplayBuffer struct {
	mu       sync.RWMutex
	capacity int
	window   time.Duration
	items    []replayEntry
	start    int
	size     int
	now      func() time.Time
}

func NewReplayBuffer(capacity int, window time.Duration) *ReplayBuffer {
	if capacity <= 0 {
		capacity = defaultReplayCapacity
	}
	if window <= 0 {
		window = defaultReplayWindow
	}

	return &ReplayBuffer{
		capacity: capacity,
		window:   window,
		items:    make([]replayEntry, capacity),
		now:      time.Now,
	}
}

// Push stores event. Events without a numeric id cannot be resumed from and
// are dropped.
func (rb *ReplayBuffer) Push(event SSEEvent) {
	if rb == nil {
		return
	}
	seq, err := strconv.ParseInt(event.ID, 10, 64)
	if err != nil {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	entry := replayEntry{seq: seq, event: event, storedAt: rb.now()}
	if rb.size < rb.capacity {
		rb.items[(rb.start+rb.size)%rb.capacity] = entry
		rb.size++
		return
	}

	rb.items[rb.start] = entry
	rb.start = (rb.start + 1) % rb.capacity
}

// Since returns the retained events newer than lastID that keep accepts, in
// send order. A blank or malformed lastID returns everything retained. A nil
// keep accepts every event.
func (rb *ReplayBuffer) Since(lastID string, keep func(SSEEvent) bool) []SSEEvent {
	if rb == nil {
		return nil
	}

	lastSeq, err := strconv.ParseInt(lastID, 10, 64)
	if err != nil {
		lastSeq = 0
	}
	cutoff := rb.now().Add(-rb.window)

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]SSEEvent, 0, rb.size)
	for i := 0; i < rb.size; i++ {
		entry := rb.items[(rb.start+i)%rb.capacity]
		if entry.seq <= lastSeq || entry.storedAt.Before(cutoff) {
			continue
		}
		if keep != nil && !keep(entry.event) {
			continue
		}
		result = append(result, entry.event)
	}
	return result
}
