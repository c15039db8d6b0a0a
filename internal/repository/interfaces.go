package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"gleeworld-hub/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStaleWatermark is returned when another writer advanced a delivery
	// watermark first.
	ErrStaleWatermark = errors.New("delivery watermark is stale")
)

type Pagination struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

type AnnouncementListFilter struct {
	Audience   *model.AnnouncementAudience `json:"audience,omitempty"`
	Featured   *bool                       `json:"featured,omitempty"`
	Type       *string                     `json:"type,omitempty"`
	Pagination Pagination                  `json:"pagination"`
}

type AuditListFilter struct {
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	ResourceType *string    `json:"resource_type,omitempty"`
	ResourceID   *string    `json:"resource_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Pagination   Pagination `json:"pagination"`
}

type AnnouncementRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Announcement, error)
	Create(ctx context.Context, announcement *model.Announcement) error
	Update(ctx context.Context, announcement *model.Announcement) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns announcements newest first. A zero Pagination.Limit
	// returns every matching row.
	List(ctx context.Context, filter AnnouncementListFilter) ([]*model.Announcement, error)
	Count(ctx context.Context, filter AnnouncementListFilter) (int64, error)
}

type DeliveryRepository interface {
	// Get returns ErrNotFound when the announcement has never fired.
	Get(ctx context.Context, announcementID uuid.UUID) (*model.DeliveryWatermark, error)
	// Advance moves the watermark to firedAt only if the stored value is
	// still previous (nil meaning no row). It returns ErrStaleWatermark
	// otherwise.
	Advance(ctx context.Context, announcementID uuid.UUID, previous *time.Time, firedAt time.Time) error
	Delete(ctx context.Context, announcementID uuid.UUID) error
}

type AuditRepository interface {
	Create(ctx context.Context, log *model.AuditLog) error
	List(ctx context.Context, filter AuditListFilter) ([]*model.AuditLog, error)
}
