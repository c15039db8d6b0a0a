package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryWatermark records the last occurrence of an announcement that was
// handed to delivery channels, so a restart never sends it twice.
type DeliveryWatermark struct {
	AnnouncementID uuid.UUID `db:"announcement_id" json:"announcement_id"`
	LastFiredAt    time.Time `db:"last_fired_at" json:"last_fired_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
