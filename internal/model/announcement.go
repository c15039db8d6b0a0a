package model

import (
	"time"

	"github.com/google/uuid"

	"gleeworld-hub/internal/schedule"
)

type AnnouncementAudience string

const (
	AudienceAll       AnnouncementAudience = "all"
	AudienceMembers   AnnouncementAudience = "members"
	AudienceAlumnae   AnnouncementAudience = "alumnae"
	AudienceFans      AnnouncementAudience = "fans"
	AudienceExecutive AnnouncementAudience = "executive"
)

func (a AnnouncementAudience) Valid() bool {
	switch a {
	case AudienceAll, AudienceMembers, AudienceAlumnae, AudienceFans, AudienceExecutive:
		return true
	default:
		return false
	}
}

// Announcement is a stored announcement. Its lifecycle status is never
// stored; derive it from Schedule with schedule.DeriveStatus.
type Announcement struct {
	ID             uuid.UUID            `db:"id" json:"id"`
	Type           string               `db:"type" json:"type"`
	Title          string               `db:"title" json:"title"`
	Content        string               `db:"content" json:"content"`
	TargetAudience AnnouncementAudience `db:"target_audience" json:"target_audience"`
	IsFeatured     bool                 `db:"is_featured" json:"is_featured"`
	Schedule       schedule.Record      `db:"-" json:"-"`
	CreatedBy      uuid.UUID            `db:"created_by" json:"created_by"`
	CreatedAt      time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time            `db:"updated_at" json:"updated_at"`
}

// StatusAt derives the lifecycle status at now.
func (a *Announcement) StatusAt(now time.Time) schedule.Status {
	if a == nil {
		return schedule.StatusDraft
	}
	return schedule.DeriveStatus(a.Schedule, now)
}
