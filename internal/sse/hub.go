package sse

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gleeworld-hub/internal/metrics"
)

const (
	heartbeatInterval     = 30 * time.Second
	backpressureFullLimit = 5
)

type SSEHub struct {
	clients  sync.Map
	eventBuf *ReplayBuffer

	logger *zap.Logger
	stopCh chan struct{}
}

func NewHub(logger *zap.Logger) *SSEHub {
	if logger == nil {
		logger = zap.NewNop()
	}

	hub := &SSEHub{
		eventBuf: NewReplayBuffer(defaultReplayCapacity, defaultReplayWindow),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	go hub.startHeartbeat()

	return hub
}

func (h *SSEHub) Register(client *SSEClient) {
	if h == nil || client == nil || client.UserID == "" {
		return
	}

	if current, loaded := h.clients.Load(client.UserID); loaded {
		if oldClient, ok := current.(*SSEClient); ok && oldClient != client {
			oldClient.Close()
		}
	}

	h.clients.Store(client.UserID, client)
	metrics.SetSSEClients(h.ConnectedCount())
}

// Unregister removes client if it is still the registered connection for
// its user. A newer connection from the same user is left in place.
func (h *SSEHub) Unregister(client *SSEClient) {
	if h == nil || client == nil || client.UserID == "" {
		return
	}

	if h.clients.CompareAndDelete(client.UserID, client) {
		metrics.SetSSEClients(h.ConnectedCount())
	}
	client.Close()
}

func (h *SSEHub) Broadcast(event SSEEvent) {
	if h == nil {
		return
	}

	h.eventBuf.Push(event)
	h.fanout(event)
}

// fanout sends event to every client without buffering it for replay.
func (h *SSEHub) fanout(event SSEEvent) {
	h.clients.Range(func(_, value interface{}) bool {
		if client, ok := value.(*SSEClient); ok {
			h.dispatch(client, event)
		}
		return true
	})
}

// SendToRoles delivers event to clients whose role matches any of roles.
func (h *SSEHub) SendToRoles(event SSEEvent, roles ...string) {
	if h == nil || len(roles) == 0 {
		return
	}

	event.roles = roles
	h.eventBuf.Push(event)
	h.clients.Range(func(_, value interface{}) bool {
		client, ok := value.(*SSEClient)
		if !ok {
			return true
		}
		for _, role := range roles {
			if strings.EqualFold(client.Role, role) {
				h.dispatch(client, event)
				break
			}
		}
		return true
	})
}

// SendToAudience delivers event to clients following audience. An audience
// of "all" reaches every client, and clients without an audience receive
// everything.
func (h *SSEHub) SendToAudience(audience string, event SSEEvent) {
	if h == nil {
		return
	}

	event.audience = &audience
	h.eventBuf.Push(event)
	h.clients.Range(func(_, value interface{}) bool {
		client, ok := value.(*SSEClient)
		if !ok {
			return true
		}
		if client.Follows(audience) {
			h.dispatch(client, event)
		}
		return true
	})
}

// ReplayFor returns the buffered events after lastID that client would have
// received live.
func (h *SSEHub) ReplayFor(client *SSEClient, lastID string) []SSEEvent {
	if h == nil || client == nil {
		return nil
	}
	return h.eventBuf.Since(lastID, client.Wants)
}

func (h *SSEHub) Close() {
	if h == nil {
		return
	}

	select {
	case <-h.stopCh:
		return
	default:
		close(h.stopCh)
	}
}

func (h *SSEHub) ConnectedCount() int {
	if h == nil {
		return 0
	}

	count := 0
	h.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (h *SSEHub) dispatch(client *SSEClient, event SSEEvent) {
	if client == nil {
		return
	}

	select {
	case <-client.Done:
		return
	case client.Ch <- event:
		client.MarkDispatchSuccess()
		return
	default:
		streak := client.MarkDispatchFull()
		h.logger.Warn("drop sse event due to full buffer",
			zap.String("user_id", client.UserID),
			zap.String("type", event.Type),
			zap.Int32("full_streak", streak),
		)
		if streak >= backpressureFullLimit {
			h.logger.Warn("disconnect slow sse client due to backpressure",
				zap.String("user_id", client.UserID),
				zap.Int32("full_streak", streak),
			)
			h.Unregister(client)
		}
	}
}

func (h *SSEHub) startHeartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case now := <-ticker.C:
			heartbeat := NewEvent(EventHeartbeat, map[string]interface{}{
				"ts": now.UTC().Format(time.RFC3339Nano),
			})
			h.fanout(heartbeat)
		}
	}
}
