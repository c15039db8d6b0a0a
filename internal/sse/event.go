package sse

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
)

type SSEEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data string `json:"data"`

	// Addressing recorded when the event is sent, so a replay from the ring
	// buffer reaches only the clients the live event reached.
	roles    []string
	audience *string
}

const (
	EventHeartbeat = "heartbeat"
	// EventAnnouncement carries a firing announcement to the in-app feed.
	EventAnnouncement = "announcement"
	// EventAnnouncementWithdrawn removes an announcement from the feed.
	EventAnnouncementWithdrawn = "announcement.withdrawn"
	// EventAnnouncementChanged tells admin consoles a record was written.
	EventAnnouncementChanged = "announcement.changed"
)

var globalEventID int64

func NewEvent(eventType string, payload any) SSEEvent {
	id := atomic.AddInt64(&globalEventID, 1)
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}

	return SSEEvent{
		ID:   strconv.FormatInt(id, 10),
		Type: eventType,
		Data: string(data),
	}
}
