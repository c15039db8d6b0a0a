package v1

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"gleeworld-hub/internal/api/middleware"
	"gleeworld-hub/internal/api/response"
	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/sse"
)

type SSEHandler struct {
	hub *sse.SSEHub
}

func NewSSEHandler(hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

func RegisterSSERoutes(group *gin.RouterGroup, hub *sse.SSEHub, publicKey *rsa.PublicKey) {
	handler := NewSSEHandler(hub)
	group.GET("/events", middleware.JWTAuth(publicKey), handler.Events)
}

// Events
// @Summary Live announcement stream
// @Description Server-sent events. audience limits announcement events to one group; Last-Event-ID replays buffered events.
// @Tags sse
// @Produce text/event-stream
// @Param audience query string false "all, members, alumnae, fans or executive"
// @Security ApiKeyAuth
// @Router /api/v1/events [get]
func (h *SSEHandler) Events(c *gin.Context) {
	if h.hub == nil {
		response.Fail(c, 503, response.ErrUnavailable, "sse hub unavailable")
		return
	}

	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
		return
	}

	audience := strings.ToLower(strings.TrimSpace(c.Query("audience")))
	if audience != "" && !model.AnnouncementAudience(audience).Valid() {
		response.Fail(c, 400, response.ErrValidation, "audience: unknown audience")
		return
	}

	flusher, ok := c.Writer.(interface{ Flush() })
	if !ok {
		response.Fail(c, 500, response.ErrInternal, "stream unsupported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Connection", "keep-alive")
	c.Status(200)

	client := sse.NewClient(claims.UserID, claims.Role, audience)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	if lastID := strings.TrimSpace(c.GetHeader("Last-Event-ID")); lastID != "" {
		for _, event := range h.hub.ReplayFor(client, lastID) {
			if err := writeSSEEvent(c, event); err != nil {
				return
			}
		}
	}
	flusher.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-client.Done:
			return
		case event := <-client.Ch:
			if err := writeSSEEvent(c, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(c *gin.Context, event sse.SSEEvent) error {
	if _, err := fmt.Fprintf(c.Writer, "id: %s\n", event.ID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event.Type); err != nil {
		return err
	}

	for _, line := range strings.Split(event.Data, "\n") {
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n", line); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(c.Writer, "\n")
	return err
}
