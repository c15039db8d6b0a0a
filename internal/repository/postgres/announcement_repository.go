package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
)

type announcementRepository struct {
	pool *pgxpool.Pool
}

func NewAnnouncementRepository(pool *pgxpool.Pool) repository.AnnouncementRepository {
	return &announcementRepository{pool: pool}
}

var _ repository.AnnouncementRepository = (*announcementRepository)(nil)

const announcementColumns = `
	id,
	type,
	title,
	content,
	target_audience,
	is_featured,
	publish_at,
	expire_at,
	recurrence_frequency,
	recurrence_start,
	recurrence_end,
	recurrence_offset_hours,
	created_by,
	created_at,
	updated_at
`

func (r *announcementRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Announcement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE id = $1`, id)
	item, err := scanAnnouncement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (r *announcementRepository) Create(ctx context.Context, announcement *model.Announcement) error {
	now := time.Now().UTC()
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = now
	}
	if announcement.UpdatedAt.IsZero() {
		announcement.UpdatedAt = announcement.CreatedAt
	}

	cols := repository.EncodeSchedule(announcement.Schedule)
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO announcements (
			id, type, title, content, target_audience, is_featured,
			publish_at, expire_at, recurrence_frequency, recurrence_start, recurrence_end, recurrence_offset_hours,
			created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		announcement.ID,
		announcement.Type,
		announcement.Title,
		announcement.Content,
		string(announcement.TargetAudience),
		announcement.IsFeatured,
		cols.PublishAt,
		cols.ExpireAt,
		cols.Frequency,
		cols.RecurrenceStart,
		cols.RecurrenceEnd,
		intPtrToInt16Ptr(cols.OffsetHours),
		announcement.CreatedBy,
		announcement.CreatedAt,
		announcement.UpdatedAt,
	)
	return err
}

func (r *announcementRepository) Update(ctx context.Context, announcement *model.Announcement) error {
	announcement.UpdatedAt = time.Now().UTC()

	cols := repository.EncodeSchedule(announcement.Schedule)
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE announcements
		    SET type = $2,
		        title = $3,
		        content = $4,
		        target_audience = $5,
		        is_featured = $6,
		        publish_at = $7,
		        expire_at = $8,
		        recurrence_frequency = $9,
		        recurrence_start = $10,
		        recurrence_end = $11,
		        recurrence_offset_hours = $12,
		        updated_at = $13
		  WHERE id = $1`,
		announcement.ID,
		announcement.Type,
		announcement.Title,
		announcement.Content,
		string(announcement.TargetAudience),
		announcement.IsFeatured,
		cols.PublishAt,
		cols.ExpireAt,
		cols.Frequency,
		cols.RecurrenceStart,
		cols.RecurrenceEnd,
		intPtrToInt16Ptr(cols.OffsetHours),
		announcement.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *announcementRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM announcements WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *announcementRepository) List(ctx context.Context, filter repository.AnnouncementListFilter) ([]*model.Announcement, error) {
	limit, offset := normalizePagination(filter.Pagination, true)
	where, args := buildAnnouncementFilter(filter)

	var builder strings.Builder
	builder.WriteString("SELECT ")
	builder.WriteString(announcementColumns)
	builder.WriteString(" FROM announcements")
	builder.WriteString(where)
	builder.WriteString(" ORDER BY created_at DESC, id")
	if limit > 0 {
		args = append(args, limit)
		builder.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if offset > 0 {
		args = append(args, offset)
		builder.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	rows, err := r.pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*model.Announcement, 0, 16)
	for rows.Next() {
		item, scanErr := scanAnnouncement(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (r *announcementRepository) Count(ctx context.Context, filter repository.AnnouncementListFilter) (int64, error) {
	where, args := buildAnnouncementFilter(filter)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM announcements`+where, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func buildAnnouncementFilter(filter repository.AnnouncementListFilter) (string, []any) {
	args := make([]any, 0, 5)
	conditions := make([]string, 0, 3)

	if filter.Audience != nil {
		// "all" announcements are visible to every audience.
		args = append(args, string(*filter.Audience))
		conditions = append(conditions, fmt.Sprintf("(target_audience = $%d OR target_audience = 'all')", len(args)))
	}
	if filter.Featured != nil {
		args = append(args, *filter.Featured)
		conditions = append(conditions, fmt.Sprintf("is_featured = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanAnnouncement(src scanTarget) (*model.Announcement, error) {
	item := &model.Announcement{}
	var (
		audience string
		offset   *int16
		cols     repository.ScheduleColumns
	)

	if err := src.Scan(
		&item.ID,
		&item.Type,
		&item.Title,
		&item.Content,
		&audience,
		&item.IsFeatured,
		&cols.PublishAt,
		&cols.ExpireAt,
		&cols.Frequency,
		&cols.RecurrenceStart,
		&cols.RecurrenceEnd,
		&offset,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	cols.OffsetHours = int16PtrToIntPtr(offset)
	rec, err := repository.DecodeSchedule(cols)
	if err != nil {
		return nil, fmt.Errorf("announcement %s: %w", item.ID, err)
	}

	item.TargetAudience = model.AnnouncementAudience(audience)
	item.Schedule = rec
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}
