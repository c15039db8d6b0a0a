package event

import (
	"strings"
	"sync"
	"time"
)

const (
	EventAnnouncementPublished = "announcement.published"
	EventAnnouncementWithdrawn = "announcement.withdrawn"
)

// AnnouncementPublishedPayload is emitted once per firing instant: the
// publish time of a one-off announcement or one recurrence occurrence.
type AnnouncementPublishedPayload struct {
	AnnouncementID string    `json:"announcement_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	TargetAudience string    `json:"target_audience"`
	IsFeatured     bool      `json:"is_featured"`
	Recurring      bool      `json:"recurring"`
	FiredAt        time.Time `json:"fired_at"`
}

type AnnouncementWithdrawnPayload struct {
	AnnouncementID string `json:"announcement_id"`
	Reason         string `json:"reason"`
}

type Bus struct {
	handlers sync.Map
	mu       sync.Mutex
	inflight sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(event string, handler func(payload any)) {
	if b == nil || handler == nil {
		return
	}

	eventName := strings.TrimSpace(event)
	if eventName == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := make([]func(payload any), 0, 1)
	if current, ok := b.handlers.Load(eventName); ok {
		if casted, valid := current.([]func(payload any)); valid {
			handlers = append(handlers, casted...)
		}
	}
	handlers = append(handlers, handler)
	b.handlers.Store(eventName, handlers)
}

// Publish runs every handler of event on its own goroutine and returns
// without waiting for them.
func (b *Bus) Publish(event string, payload any) {
	if b == nil {
		return
	}

	eventName := strings.TrimSpace(event)
	if eventName == "" {
		return
	}

	current, ok := b.handlers.Load(eventName)
	if !ok {
		return
	}

	handlers, ok := current.([]func(payload any))
	if !ok || len(handlers) == 0 {
		return
	}

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		b.inflight.Add(1)
		go func(h func(payload any)) {
			defer b.inflight.Done()
			h(payload)
		}(handler)
	}
}

// Wait blocks until every handler started by Publish has returned. Used on
// shutdown so in-flight deliveries are not cut off.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.inflight.Wait()
}
