package service

import (
	"go.uber.org/zap"

	"gleeworld-hub/internal/event"
	"gleeworld-hub/internal/metrics"
	"gleeworld-hub/internal/sse"
)

// RegisterSubscribers connects the delivery channels to the bus: the in-app
// feed over SSE and, when configured, push and email notifications.
func RegisterSubscribers(bus *event.Bus, hub *sse.SSEHub, notifications *NotificationService, logger *zap.Logger) {
	if bus == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if hub != nil {
		bus.Subscribe(event.EventAnnouncementPublished, func(payload any) {
			p, ok := payload.(event.AnnouncementPublishedPayload)
			if !ok {
				logger.Warn("unexpected announcement payload")
				return
			}
			hub.SendToAudience(p.TargetAudience, sse.NewEvent(sse.EventAnnouncement, p))
			metrics.IncDelivery("sse", nil)
		})
		bus.Subscribe(event.EventAnnouncementWithdrawn, func(payload any) {
			p, ok := payload.(event.AnnouncementWithdrawnPayload)
			if !ok {
				logger.Warn("unexpected withdrawn payload")
				return
			}
			hub.Broadcast(sse.NewEvent(sse.EventAnnouncementWithdrawn, p))
		})
	}

	if notifications != nil {
		bus.Subscribe(event.EventAnnouncementPublished, notifications.HandlePublished)
	}
}
