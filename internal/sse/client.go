package sse

import (
	"strings"
	"sync"
	"sync/atomic"
)

const audienceAll = "all"

type SSEClient struct {
	UserID   string
	Role     string
	Audience string
	Ch       chan SSEEvent
	Done     chan struct{}

	fullStreak atomic.Int32
	closeOnce  sync.Once
}

func NewClient(userID, role, audience string) *SSEClient {
	return &SSEClient{
		UserID:   userID,
		Role:     role,
		Audience: strings.ToLower(strings.TrimSpace(audience)),
		Ch:       make(chan SSEEvent, 512),
		Done:     make(chan struct{}),
	}
}

// Follows reports whether an announcement aimed at audience should reach
// this client.
func (c *SSEClient) Follows(audience string) bool {
	if c == nil {
		return false
	}
	target := strings.ToLower(strings.TrimSpace(audience))
	return c.Audience == "" || c.Audience == audienceAll || target == "" || target == audienceAll || target == c.Audience
}

// Wants reports whether event, as addressed when it was sent, is meant for
// this client. Replay from the ring buffer uses it.
func (c *SSEClient) Wants(event SSEEvent) bool {
	if c == nil {
		return false
	}
	if len(event.roles) > 0 {
		for _, role := range event.roles {
			if strings.EqualFold(c.Role, role) {
				return true
			}
		}
		return false
	}
	if event.audience != nil {
		return c.Follows(*event.audience)
	}
	return true
}

func (c *SSEClient) Close() {
	if c == nil {
		return
	}

	c.closeOnce.Do(func() {
		close(c.Done)
	})
}

func (c *SSEClient) MarkDispatchSuccess() {
	if c == nil {
		return
	}
	c.fullStreak.Store(0)
}

func (c *SSEClient) MarkDispatchFull() int32 {
	if c == nil {
		return 0
	}
	return c.fullStreak.Add(1)
}
