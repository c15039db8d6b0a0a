package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
)

type AnnouncementRepository struct {
	db *sql.DB
}

func NewAnnouncementRepository(db *sql.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

var _ repository.AnnouncementRepository = (*AnnouncementRepository)(nil)

const announcementColumns = `id, type, title, content, target_audience, is_featured,
	publish_at, expire_at, recurrence_frequency, recurrence_start, recurrence_end, recurrence_offset_hours,
	created_by, created_at, updated_at`

func (r *AnnouncementRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Announcement, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE id = ?`, id.String())
	item, err := scanAnnouncement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (r *AnnouncementRepository) Create(ctx context.Context, announcement *model.Announcement) error {
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = time.Now().UTC()
	}
	if announcement.UpdatedAt.IsZero() {
		announcement.UpdatedAt = announcement.CreatedAt
	}

	cols := repository.EncodeSchedule(announcement.Schedule)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO announcements (`+announcementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		announcement.ID.String(),
		announcement.Type,
		announcement.Title,
		announcement.Content,
		string(announcement.TargetAudience),
		announcement.IsFeatured,
		toMicrosPtr(cols.PublishAt),
		toMicrosPtr(cols.ExpireAt),
		cols.Frequency,
		toMicrosPtr(cols.RecurrenceStart),
		toMicrosPtr(cols.RecurrenceEnd),
		cols.OffsetHours,
		announcement.CreatedBy.String(),
		toMicros(announcement.CreatedAt),
		toMicros(announcement.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	return nil
}

func (r *AnnouncementRepository) Update(ctx context.Context, announcement *model.Announcement) error {
	announcement.UpdatedAt = time.Now().UTC()

	cols := repository.EncodeSchedule(announcement.Schedule)
	res, err := r.db.ExecContext(ctx, `
		UPDATE announcements
		   SET type = ?, title = ?, content = ?, target_audience = ?, is_featured = ?,
		       publish_at = ?, expire_at = ?, recurrence_frequency = ?, recurrence_start = ?,
		       recurrence_end = ?, recurrence_offset_hours = ?, updated_at = ?
		 WHERE id = ?`,
		announcement.Type,
		announcement.Title,
		announcement.Content,
		string(announcement.TargetAudience),
		announcement.IsFeatured,
		toMicrosPtr(cols.PublishAt),
		toMicrosPtr(cols.ExpireAt),
		cols.Frequency,
		toMicrosPtr(cols.RecurrenceStart),
		toMicrosPtr(cols.RecurrenceEnd),
		cols.OffsetHours,
		toMicros(announcement.UpdatedAt),
		announcement.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update announcement: %w", err)
	}
	return ensureAffected(res)
}

func (r *AnnouncementRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	return ensureAffected(res)
}

func (r *AnnouncementRepository) List(ctx context.Context, filter repository.AnnouncementListFilter) ([]*model.Announcement, error) {
	where, args := buildAnnouncementFilter(filter)

	var builder strings.Builder
	builder.WriteString("SELECT ")
	builder.WriteString(announcementColumns)
	builder.WriteString(" FROM announcements")
	builder.WriteString(where)
	builder.WriteString(" ORDER BY created_at DESC, id")

	page := filter.Pagination
	if page.Limit > 0 || page.Offset > 0 {
		limit := int64(page.Limit)
		if limit <= 0 {
			limit = -1
		}
		offset := page.Offset
		if offset < 0 {
			offset = 0
		}
		builder.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query announcements: %w", err)
	}
	defer rows.Close()

	items := make([]*model.Announcement, 0, 16)
	for rows.Next() {
		item, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate announcements: %w", err)
	}
	return items, nil
}

func (r *AnnouncementRepository) Count(ctx context.Context, filter repository.AnnouncementListFilter) (int64, error) {
	where, args := buildAnnouncementFilter(filter)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM announcements`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count announcements: %w", err)
	}
	return total, nil
}

func buildAnnouncementFilter(filter repository.AnnouncementListFilter) (string, []any) {
	args := make([]any, 0, 3)
	conditions := make([]string, 0, 3)

	if filter.Audience != nil {
		args = append(args, string(*filter.Audience))
		conditions = append(conditions, "(target_audience = ? OR target_audience = 'all')")
	}
	if filter.Featured != nil {
		args = append(args, *filter.Featured)
		conditions = append(conditions, "is_featured = ?")
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		conditions = append(conditions, "type = ?")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(src rowScanner) (*model.Announcement, error) {
	var (
		id, createdBy, audience      string
		publishAt, expireAt          sql.NullInt64
		recurStart, recurEnd, offset sql.NullInt64
		frequency                    sql.NullString
		createdAt, updatedAt         int64
	)
	item := &model.Announcement{}

	if err := src.Scan(
		&id,
		&item.Type,
		&item.Title,
		&item.Content,
		&audience,
		&item.IsFeatured,
		&publishAt,
		&expireAt,
		&frequency,
		&recurStart,
		&recurEnd,
		&offset,
		&createdBy,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if item.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse announcement id %q: %w", id, err)
	}
	if item.CreatedBy, err = uuid.Parse(createdBy); err != nil {
		return nil, fmt.Errorf("parse created_by %q: %w", createdBy, err)
	}

	cols := repository.ScheduleColumns{
		PublishAt:       fromMicrosPtr(publishAt),
		ExpireAt:        fromMicrosPtr(expireAt),
		RecurrenceStart: fromMicrosPtr(recurStart),
		RecurrenceEnd:   fromMicrosPtr(recurEnd),
	}
	if frequency.Valid {
		cols.Frequency = &frequency.String
	}
	if offset.Valid {
		v := int(offset.Int64)
		cols.OffsetHours = &v
	}
	rec, err := repository.DecodeSchedule(cols)
	if err != nil {
		return nil, fmt.Errorf("announcement %s: %w", item.ID, err)
	}

	item.TargetAudience = model.AnnouncementAudience(audience)
	item.Schedule = rec
	item.CreatedAt = fromMicros(createdAt)
	item.UpdatedAt = fromMicros(updatedAt)
	return item, nil
}
