package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gleeworld-hub/internal/event"
	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
	"gleeworld-hub/internal/schedule"
	"gleeworld-hub/internal/sse"
)

const (
	announcementListDefaultPage = 1
	announcementListDefaultSize = 20
	announcementListMaxPageSize = 200

	defaultOccurrenceLimit = 10
	maxOccurrenceLimit     = 50

	defaultAnnouncementType = "general"
)

// AnnouncementFilter selects announcements for List. Status is derived at
// read time, so it is applied after loading.
type AnnouncementFilter struct {
	Status   *schedule.Status
	Audience *model.AnnouncementAudience
	Featured *bool
	Type     *string
	Page     int
	PageSize int
}

// LocalTimes renders the stored instants as civil date and time strings in
// the offset they were entered in, ready to refill the admin form.
type LocalTimes struct {
	Offset              string `json:"offset"`
	PublishDate         string `json:"publish_date,omitempty"`
	PublishTime         string `json:"publish_time,omitempty"`
	ExpireDate          string `json:"expire_date,omitempty"`
	ExpireTime          string `json:"expire_time,omitempty"`
	RecurrenceStartDate string `json:"recurrence_start_date,omitempty"`
	RecurrenceStartTime string `json:"recurrence_start_time,omitempty"`
	RecurrenceEndDate   string `json:"recurrence_end_date,omitempty"`
	RecurrenceEndTime   string `json:"recurrence_end_time,omitempty"`
}

// AnnouncementView is an announcement with its status derived at a given
// instant.
type AnnouncementView struct {
	*model.Announcement
	Status         schedule.Status `json:"status"`
	PublishAt      *time.Time      `json:"publish_at,omitempty"`
	ExpireAt       *time.Time      `json:"expire_at,omitempty"`
	Recurrence     *schedule.Rule  `json:"recurrence,omitempty"`
	NextOccurrence *time.Time      `json:"next_occurrence,omitempty"`
	Local          LocalTimes      `json:"local"`
}

type AnnouncementService struct {
	repo       repository.AnnouncementRepository
	deliveries repository.DeliveryRepository
	audit      *AuditService
	bus        *event.Bus
	sseHub     *sse.SSEHub
	offset     schedule.Offset
	logger     *zap.Logger
	now        func() time.Time
}

func NewAnnouncementService(
	repo repository.AnnouncementRepository,
	deliveries repository.DeliveryRepository,
	audit *AuditService,
	bus *event.Bus,
	sseHub *sse.SSEHub,
	offset schedule.Offset,
	logger *zap.Logger,
) *AnnouncementService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AnnouncementService{
		repo:       repo,
		deliveries: deliveries,
		audit:      audit,
		bus:        bus,
		sseHub:     sseHub,
		offset:     offset,
		logger:     logger,
		now:        time.Now,
	}
}

// Offset is the deployment offset used to read and render civil times.
func (s *AnnouncementService) Offset() schedule.Offset {
	return s.offset
}

func (s *AnnouncementService) Create(
	ctx context.Context,
	operator Operator,
	req AnnouncementRequest,
) (*AnnouncementView, error) {
	operatorUUID, err := s.authorize(operator)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.clock()
	rec, err := buildSchedule(req, s.offset, now)
	if err != nil {
		return nil, invalidRequest(err)
	}

	announcement := &model.Announcement{
		ID:             uuid.New(),
		CreatedBy:      operatorUUID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Schedule:       rec,
		IsFeatured:     req.IsFeatured,
		TargetAudience: model.AudienceAll,
	}
	applyMetadata(announcement, req)

	if err := s.repo.Create(ctx, announcement); err != nil {
		return nil, fmt.Errorf("create announcement: %w", err)
	}

	s.writeAudit(ctx, operator, &operatorUUID, "announcement.create", announcement.ID, nil, auditSnapshot(announcement))
	s.broadcast("create", announcement, now)
	return s.view(announcement, now), nil
}

// Update replaces metadata and timing. When the request carries no publish or
// recurrence fields the current timing is kept, one-off or recurring. To
// return a one-off to draft use Unpublish; to stop a recurrence send
// recurrence_frequency "none".
func (s *AnnouncementService) Update(
	ctx context.Context,
	operator Operator,
	announcementID string,
	req AnnouncementRequest,
) (*AnnouncementView, error) {
	operatorUUID, err := s.authorize(operator)
	if err != nil {
		return nil, err
	}
	id, err := parseAnnouncementID(announcementID)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	rec, err := buildSchedule(req, s.offset, now)
	if err != nil {
		return nil, invalidRequest(err)
	}
	if rec.Timing == nil && !req.hasTimingFields() && current.Schedule.Timing != nil {
		rec.Timing = current.Schedule.Timing
		if err := rec.Validate(); err != nil {
			return nil, invalidRequest(err)
		}
	}

	next := *current
	next.Schedule = rec
	next.IsFeatured = req.IsFeatured
	applyMetadata(&next, req)

	if err := s.repo.Update(ctx, &next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAnnouncementNotFound
		}
		return nil, fmt.Errorf("update announcement: %w", err)
	}

	s.writeAudit(ctx, operator, &operatorUUID, "announcement.update", id, auditSnapshot(current), auditSnapshot(&next))
	s.broadcast("update", &next, now)
	return s.view(&next, now), nil
}

// Publish makes a one-off announcement live now. Recurring announcements are
// governed by their rule, so publishing them only reports their state.
func (s *AnnouncementService) Publish(ctx context.Context, operator Operator, announcementID string) (*AnnouncementView, error) {
	operatorUUID, err := s.authorize(operator)
	if err != nil {
		return nil, err
	}
	id, err := parseAnnouncementID(announcementID)
	if err != nil {
		return nil, err
	}

	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if _, recurring := current.Schedule.Rule(); recurring {
		return s.view(current, now), nil
	}
	if current.StatusAt(now) == schedule.StatusPublished {
		return s.view(current, now), nil
	}

	next := *current
	next.Schedule = schedule.Record{
		Timing:   schedule.OneOff{PublishAt: now},
		ExpireAt: current.Schedule.ExpireAt,
	}
	if err := next.Schedule.Validate(); err != nil {
		return nil, invalidRequest(err)
	}
	if next.StatusAt(now) == schedule.StatusExpired {
		return nil, invalidRequest(&schedule.ValidationError{
			Field:  "expire_at",
			Reason: "announcement has already expired",
		})
	}

	if err := s.repo.Update(ctx, &next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAnnouncementNotFound
		}
		return nil, fmt.Errorf("publish announcement: %w", err)
	}

	s.writeAudit(ctx, operator, &operatorUUID, "announcement.publish", id, auditSnapshot(current), auditSnapshot(&next))
	s.broadcast("publish", &next, now)
	return s.view(&next, now), nil
}

// Unpublish returns a one-off announcement to draft. A recurring
// announcement has no publish time of its own and is rejected.
func (s *AnnouncementService) Unpublish(ctx context.Context, operator Operator, announcementID string) (*AnnouncementView, error) {
	operatorUUID, err := s.authorize(operator)
	if err != nil {
		return nil, err
	}
	id, err := parseAnnouncementID(announcementID)
	if err != nil {
		return nil, err
	}

	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, recurring := current.Schedule.Rule(); recurring {
		return nil, invalidRequest(&schedule.ValidationError{
			Field:  "recurrence_frequency",
			Reason: "remove the recurrence to take a recurring announcement offline",
		})
	}

	now := s.clock()
	if current.Schedule.Timing == nil {
		return s.view(current, now), nil
	}

	next := *current
	next.Schedule = schedule.Record{ExpireAt: current.Schedule.ExpireAt}
	if err := s.repo.Update(ctx, &next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAnnouncementNotFound
		}
		return nil, fmt.Errorf("unpublish announcement: %w", err)
	}

	s.writeAudit(ctx, operator, &operatorUUID, "announcement.unpublish", id, auditSnapshot(current), auditSnapshot(&next))
	s.broadcast("unpublish", &next, now)
	s.withdraw(id, "unpublished")
	return s.view(&next, now), nil
}

func (s *AnnouncementService) Delete(ctx context.Context, operator Operator, announcementID string) error {
	operatorUUID, err := s.authorize(operator)
	if err != nil {
		return err
	}
	id, err := parseAnnouncementID(announcementID)
	if err != nil {
		return err
	}

	current, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAnnouncementNotFound
		}
		return fmt.Errorf("delete announcement: %w", err)
	}
	// The SQL stores cascade the watermark with the row. Clearing it only
	// after the row is gone keeps a failed delete from re-arming delivery.
	if s.deliveries != nil {
		if err := s.deliveries.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("delete delivery watermark failed", zap.String("announcement_id", id.String()), zap.Error(err))
		}
	}

	s.writeAudit(ctx, operator, &operatorUUID, "announcement.delete", id, auditSnapshot(current), nil)
	if s.sseHub != nil {
		s.sseHub.SendToRoles(sse.NewEvent(sse.EventAnnouncementChanged, map[string]interface{}{
			"action": "delete",
			"id":     id.String(),
			"ts":     s.clock().Format(time.RFC3339Nano),
		}), PublisherRoles...)
	}
	s.withdraw(id, "deleted")
	return nil
}

func (s *AnnouncementService) Get(ctx context.Context, announcementID string, now time.Time) (*AnnouncementView, error) {
	id, err := parseAnnouncementID(announcementID)
	if err != nil {
		return nil, err
	}
	item, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(item, now), nil
}

// List returns one page of announcements newest first. When a status filter
// is set every candidate is loaded and the status is derived before paging.
func (s *AnnouncementService) List(
	ctx context.Context,
	filter AnnouncementFilter,
	now time.Time,
) ([]*AnnouncementView, int64, error) {
	page, pageSize := normalizeAnnouncementPagination(filter.Page, filter.PageSize)
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, invalidRequest(&schedule.ValidationError{Field: "status", Reason: "unknown status"})
	}
	if filter.Audience != nil && !filter.Audience.Valid() {
		return nil, 0, invalidRequest(&schedule.ValidationError{Field: "audience", Reason: "unknown audience"})
	}

	repoFilter := repository.AnnouncementListFilter{
		Audience: filter.Audience,
		Featured: filter.Featured,
		Type:     filter.Type,
	}

	if filter.Status == nil {
		repoFilter.Pagination = repository.Pagination{
			Limit:  int32(pageSize),
			Offset: int32((page - 1) * pageSize),
		}
		items, err := s.repo.List(ctx, repoFilter)
		if err != nil {
			return nil, 0, fmt.Errorf("list announcements: %w", err)
		}
		total, err := s.repo.Count(ctx, repoFilter)
		if err != nil {
			return nil, 0, fmt.Errorf("count announcements: %w", err)
		}
		return s.views(items, now), total, nil
	}

	items, err := s.repo.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, fmt.Errorf("list announcements: %w", err)
	}
	matched := make([]*model.Announcement, 0, len(items))
	for _, item := range items {
		if item.StatusAt(now) == *filter.Status {
			matched = append(matched, item)
		}
	}

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []*AnnouncementView{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return s.views(matched[start:end], now), total, nil
}

// ListActive is the public feed: announcements Published at now for the
// given audience, featured first and newest first within each group.
func (s *AnnouncementService) ListActive(
	ctx context.Context,
	audience *model.AnnouncementAudience,
	now time.Time,
) ([]*AnnouncementView, error) {
	if audience != nil && !audience.Valid() {
		return nil, invalidRequest(&schedule.ValidationError{Field: "audience", Reason: "unknown audience"})
	}

	items, err := s.repo.List(ctx, repository.AnnouncementListFilter{Audience: audience})
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}

	active := make([]*model.Announcement, 0, len(items))
	for _, item := range items {
		if item.StatusAt(now) == schedule.StatusPublished {
			active = append(active, item)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].IsFeatured && !active[j].IsFeatured
	})
	return s.views(active, now), nil
}

// Occurrences previews upcoming firing instants of a recurring announcement
// after the given instant, stopping at its expiry.
func (s *AnnouncementService) Occurrences(
	ctx context.Context,
	announcementID string,
	after time.Time,
	limit int,
) ([]time.Time, error) {
	id, err := parseAnnouncementID(announcementID)
	if err != nil {
		return nil, err
	}
	item, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultOccurrenceLimit
	}
	if limit > maxOccurrenceLimit {
		limit = maxOccurrenceLimit
	}

	rule, ok := item.Schedule.Rule()
	if !ok {
		if next, ok := schedule.NextChange(item.Schedule, after); ok {
			return []time.Time{next}, nil
		}
		return []time.Time{}, nil
	}

	occurrences := schedule.Occurrences(rule, after, limit)
	if expire := item.Schedule.ExpireAt; expire != nil {
		for i, occ := range occurrences {
			if occ.After(*expire) {
				occurrences = occurrences[:i]
				break
			}
		}
	}
	return occurrences, nil
}

func (s *AnnouncementService) get(ctx context.Context, id uuid.UUID) (*model.Announcement, error) {
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAnnouncementNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *AnnouncementService) authorize(operator Operator) (uuid.UUID, error) {
	operatorUUID, err := uuid.Parse(strings.TrimSpace(operator.UserID))
	if err != nil {
		return uuid.Nil, ErrInvalidUserID
	}
	if !operator.CanPublish() {
		return uuid.Nil, ErrForbidden
	}
	return operatorUUID, nil
}

func (s *AnnouncementService) clock() time.Time {
	// Stored timestamps keep microsecond precision.
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *AnnouncementService) views(items []*model.Announcement, now time.Time) []*AnnouncementView {
	out := make([]*AnnouncementView, 0, len(items))
	for _, item := range items {
		out = append(out, s.view(item, now))
	}
	return out
}

func (s *AnnouncementService) view(item *model.Announcement, now time.Time) *AnnouncementView {
	v := &AnnouncementView{
		Announcement: item,
		Status:       item.StatusAt(now),
		ExpireAt:     item.Schedule.ExpireAt,
		Local:        LocalTimes{Offset: s.offset.String()},
	}

	if publishAt, ok := item.Schedule.PublishAt(); ok {
		v.PublishAt = &publishAt
	}
	if next, ok := schedule.NextChange(item.Schedule, now); ok {
		v.NextOccurrence = &next
	}

	if rule, ok := item.Schedule.Rule(); ok {
		v.Recurrence = &rule
		start := schedule.ToCivil(rule.Start(), rule.Offset())
		v.Local.RecurrenceStartDate, v.Local.RecurrenceStartTime = start.Date(), start.Clock()
		if end, ok := rule.End(); ok {
			c := schedule.ToCivil(end, rule.Offset())
			v.Local.RecurrenceEndDate, v.Local.RecurrenceEndTime = c.Date(), c.Clock()
		}
	} else if v.PublishAt != nil {
		c := schedule.ToCivil(*v.PublishAt, s.offset)
		v.Local.PublishDate, v.Local.PublishTime = c.Date(), c.Clock()
	}
	if v.ExpireAt != nil {
		c := schedule.ToCivil(*v.ExpireAt, s.offset)
		v.Local.ExpireDate, v.Local.ExpireTime = c.Date(), c.Clock()
	}
	return v
}

func (s *AnnouncementService) writeAudit(
	ctx context.Context,
	operator Operator,
	userID *uuid.UUID,
	action string,
	resourceID uuid.UUID,
	oldValue, newValue map[string]interface{},
) {
	if s.audit == nil {
		return
	}

	err := s.audit.Log(ctx, AuditEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: "announcement",
		ResourceID:   resourceID.String(),
		OldValue:     oldValue,
		NewValue:     newValue,
		IPAddress:    operator.IPAddress,
	})
	if err != nil {
		s.logger.Warn("write audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *AnnouncementService) broadcast(action string, item *model.Announcement, now time.Time) {
	if s.sseHub == nil || item == nil {
		return
	}

	payload := auditSnapshot(item)
	payload["action"] = action
	payload["id"] = item.ID.String()
	payload["status"] = string(item.StatusAt(now))
	payload["ts"] = now.Format(time.RFC3339Nano)
	s.sseHub.SendToRoles(sse.NewEvent(sse.EventAnnouncementChanged, payload), PublisherRoles...)
}

func (s *AnnouncementService) withdraw(id uuid.UUID, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.EventAnnouncementWithdrawn, event.AnnouncementWithdrawnPayload{
		AnnouncementID: id.String(),
		Reason:         reason,
	})
}

func applyMetadata(item *model.Announcement, req AnnouncementRequest) {
	item.Title = strings.TrimSpace(req.Title)
	item.Content = strings.TrimSpace(req.Content)

	item.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if item.Type == "" {
		item.Type = defaultAnnouncementType
	}
	if audience := strings.TrimSpace(req.TargetAudience); audience != "" {
		item.TargetAudience = model.AnnouncementAudience(audience)
	}
}

func auditSnapshot(item *model.Announcement) map[string]interface{} {
	snapshot := map[string]interface{}{
		"type":            item.Type,
		"title":           item.Title,
		"target_audience": string(item.TargetAudience),
		"is_featured":     item.IsFeatured,
	}
	if publishAt, ok := item.Schedule.PublishAt(); ok {
		snapshot["publish_at"] = publishAt.Format(time.RFC3339)
	}
	if item.Schedule.ExpireAt != nil {
		snapshot["expire_at"] = item.Schedule.ExpireAt.Format(time.RFC3339)
	}
	if rule, ok := item.Schedule.Rule(); ok {
		snapshot["recurrence_frequency"] = string(rule.Frequency())
		snapshot["recurrence_offset_hours"] = int(rule.Offset())
		if end, ok := rule.End(); ok {
			snapshot["recurrence_end"] = end.Format(time.RFC3339)
		}
	}
	return snapshot
}

func parseAnnouncementID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, invalidRequest(&schedule.ValidationError{Field: "id", Reason: "must be a UUID"})
	}
	return id, nil
}

func normalizeAnnouncementPagination(page, pageSize int) (int, int) {
	if page <= 0 {
		page = announcementListDefaultPage
	}
	if pageSize <= 0 {
		pageSize = announcementListDefaultSize
	}
	if pageSize > announcementListMaxPageSize {
		pageSize = announcementListMaxPageSize
	}
	return page, pageSize
}
