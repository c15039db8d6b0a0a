package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
)

type deliveryRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepository(pool *pgxpool.Pool) repository.DeliveryRepository {
	return &deliveryRepository{pool: pool}
}

var _ repository.DeliveryRepository = (*deliveryRepository)(nil)

func (r *deliveryRepository) Get(ctx context.Context, announcementID uuid.UUID) (*model.DeliveryWatermark, error) {
	item := &model.DeliveryWatermark{}
	err := r.pool.QueryRow(
		ctx,
		`SELECT announcement_id, last_fired_at, updated_at
		   FROM delivery_watermarks
		  WHERE announcement_id = $1`,
		announcementID,
	).Scan(&item.AnnouncementID, &item.LastFiredAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	item.LastFiredAt = item.LastFiredAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func (r *deliveryRepository) Advance(
	ctx context.Context,
	announcementID uuid.UUID,
	previous *time.Time,
	firedAt time.Time,
) error {
	now := time.Now().UTC()

	if previous == nil {
		tag, err := r.pool.Exec(
			ctx,
			`INSERT INTO delivery_watermarks (announcement_id, last_fired_at, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (announcement_id) DO NOTHING`,
			announcementID,
			firedAt.UTC(),
			now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrStaleWatermark
		}
		return nil
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE delivery_watermarks
		    SET last_fired_at = $3,
		        updated_at = $4
		  WHERE announcement_id = $1
		    AND last_fired_at = $2`,
		announcementID,
		previous.UTC(),
		firedAt.UTC(),
		now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStaleWatermark
	}
	return nil
}

func (r *deliveryRepository) Delete(ctx context.Context, announcementID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM delivery_watermarks WHERE announcement_id = $1`, announcementID)
	return err
}
