package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
)

type DeliveryRepository struct {
	db *sql.DB
}

func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

var _ repository.DeliveryRepository = (*DeliveryRepository)(nil)

func (r *DeliveryRepository) Get(ctx context.Context, announcementID uuid.UUID) (*model.DeliveryWatermark, error) {
	var lastFired, updated int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_fired_at, updated_at FROM delivery_watermarks WHERE announcement_id = ?`,
		announcementID.String(),
	).Scan(&lastFired, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark: %w", err)
	}
	return &model.DeliveryWatermark{
		AnnouncementID: announcementID,
		LastFiredAt:    fromMicros(lastFired),
		UpdatedAt:      fromMicros(updated),
	}, nil
}

func (r *DeliveryRepository) Advance(ctx context.Context, announcementID uuid.UUID, previous *time.Time, firedAt time.Time) error {
	now := toMicros(time.Now())

	var (
		res sql.Result
		err error
	)
	if previous == nil {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO delivery_watermarks (announcement_id, last_fired_at, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (announcement_id) DO NOTHING`,
			announcementID.String(), toMicros(firedAt), now,
		)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE delivery_watermarks
			   SET last_fired_at = ?, updated_at = ?
			 WHERE announcement_id = ? AND last_fired_at = ?`,
			toMicros(firedAt), now, announcementID.String(), toMicros(*previous),
		)
	}
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrStaleWatermark
	}
	return nil
}

func (r *DeliveryRepository) Delete(ctx context.Context, announcementID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM delivery_watermarks WHERE announcement_id = ?`, announcementID.String())
	return err
}
