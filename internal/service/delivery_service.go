package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gleeworld-hub/internal/event"
	"gleeworld-hub/internal/metrics"
	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
	"gleeworld-hub/internal/schedule"
)

const defaultTickTimeout = 50 * time.Second

// TickResult summarises one evaluation pass.
type TickResult struct {
	Evaluated int
	Fired     int
	Stale     int
	Counts    map[schedule.Status]int
}

// DeliveryService re-evaluates every announcement on a tick and hands each
// firing instant to the event bus at most once, guarded by a durable
// per-announcement watermark.
type DeliveryService struct {
	announcements repository.AnnouncementRepository
	deliveries    repository.DeliveryRepository
	bus           *event.Bus
	logger        *zap.Logger
	tickTimeout   time.Duration
	now           func() time.Time
}

func NewDeliveryService(
	announcements repository.AnnouncementRepository,
	deliveries repository.DeliveryRepository,
	bus *event.Bus,
	tickTimeout time.Duration,
	logger *zap.Logger,
) *DeliveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tickTimeout <= 0 {
		tickTimeout = defaultTickTimeout
	}

	return &DeliveryService{
		announcements: announcements,
		deliveries:    deliveries,
		bus:           bus,
		logger:        logger,
		tickTimeout:   tickTimeout,
		now:           time.Now,
	}
}

// RunTick is the cron entry point.
func (s *DeliveryService) RunTick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.Tick(ctx, s.now().UTC().Truncate(time.Microsecond))
	metrics.ObserveTickDuration(time.Since(start))
	if err != nil {
		metrics.IncTickError()
		s.logger.Error("announcement tick failed", zap.Error(err))
		return
	}

	s.logger.Debug("announcement tick finished",
		zap.Int("evaluated", result.Evaluated),
		zap.Int("fired", result.Fired),
		zap.Int("stale", result.Stale),
	)
}

// Tick derives the status of every announcement at now and fires those whose
// current firing instant is newer than their watermark. Occurrences missed
// while the service was down are not replayed; only the latest one fires.
// A one-off whose publish time is more than a due window old is skipped.
func (s *DeliveryService) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	result := TickResult{Counts: make(map[schedule.Status]int, len(schedule.Statuses()))}

	items, err := s.announcements.List(ctx, repository.AnnouncementListFilter{})
	if err != nil {
		return result, fmt.Errorf("load announcements: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("announcement tick interrupted; status gauges keep the previous pass",
				zap.Int("evaluated", result.Evaluated),
				zap.Int("total", len(items)),
				zap.Error(err),
			)
			return result, err
		}
		result.Evaluated++
		result.Counts[item.StatusAt(now)]++

		firedAt, ok := schedule.FiringAt(item.Schedule, now)
		if !ok {
			continue
		}
		if now.Sub(firedAt) >= schedule.DueWindow {
			continue
		}

		fired, err := s.fire(ctx, item, firedAt)
		if err != nil {
			s.logger.Error("advance delivery watermark failed",
				zap.String("announcement_id", item.ID.String()),
				zap.Time("fired_at", firedAt),
				zap.Error(err),
			)
			continue
		}
		if fired {
			result.Fired++
		} else {
			result.Stale++
		}
	}

	for _, status := range schedule.Statuses() {
		metrics.SetAnnouncementCount(string(status), result.Counts[status])
	}
	return result, nil
}

// fire advances the watermark to firedAt and publishes the event. It reports
// false when the watermark already covers firedAt or another writer won.
func (s *DeliveryService) fire(ctx context.Context, item *model.Announcement, firedAt time.Time) (bool, error) {
	var previous *time.Time
	watermark, err := s.deliveries.Get(ctx, item.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return false, err
	default:
		if !firedAt.After(watermark.LastFiredAt) {
			return false, nil
		}
		previous = &watermark.LastFiredAt
	}

	if err := s.deliveries.Advance(ctx, item.ID, previous, firedAt); err != nil {
		if errors.Is(err, repository.ErrStaleWatermark) {
			return false, nil
		}
		return false, err
	}

	_, recurring := item.Schedule.Rule()
	metrics.IncFired(recurring)
	s.bus.Publish(event.EventAnnouncementPublished, event.AnnouncementPublishedPayload{
		AnnouncementID: item.ID.String(),
		Type:           item.Type,
		Title:          item.Title,
		Content:        item.Content,
		TargetAudience: string(item.TargetAudience),
		IsFeatured:     item.IsFeatured,
		Recurring:      recurring,
		FiredAt:        firedAt,
	})
	s.logger.Info("announcement fired",
		zap.String("announcement_id", item.ID.String()),
		zap.Time("fired_at", firedAt),
		zap.Bool("recurring", recurring),
	)
	return true, nil
}
