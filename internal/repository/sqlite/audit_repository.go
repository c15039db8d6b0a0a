package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
)

const defaultAuditLimit = 50

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	oldValue, err := encodeJSON(log.OldValue)
	if err != nil {
		return err
	}
	newValue, err := encodeJSON(log.NewValue)
	if err != nil {
		return err
	}

	var userID *string
	if log.UserID != nil {
		v := log.UserID.String()
		userID = &v
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, old_value, new_value, ip_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, log.Action, log.ResourceType, log.ResourceID, oldValue, newValue, log.IPAddress, toMicros(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	log.ID, err = res.LastInsertId()
	return err
}

func (r *AuditRepository) List(ctx context.Context, filter repository.AuditListFilter) ([]*model.AuditLog, error) {
	args := make([]any, 0, 7)
	conditions := make([]string, 0, 5)

	if filter.UserID != nil {
		args = append(args, filter.UserID.String())
		conditions = append(conditions, "user_id = ?")
	}
	if filter.ResourceType != nil {
		args = append(args, *filter.ResourceType)
		conditions = append(conditions, "resource_type = ?")
	}
	if filter.ResourceID != nil {
		args = append(args, *filter.ResourceID)
		conditions = append(conditions, "resource_id = ?")
	}
	if filter.StartTime != nil {
		args = append(args, toMicros(*filter.StartTime))
		conditions = append(conditions, "created_at >= ?")
	}
	if filter.EndTime != nil {
		args = append(args, toMicros(*filter.EndTime))
		conditions = append(conditions, "created_at <= ?")
	}

	limit := filter.Pagination.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	offset := filter.Pagination.Offset
	if offset < 0 {
		offset = 0
	}

	var builder strings.Builder
	builder.WriteString(`SELECT id, user_id, action, resource_type, resource_id, old_value, new_value, ip_address, created_at FROM audit_logs`)
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*model.AuditLog, 0, limit)
	for rows.Next() {
		var (
			log                        model.AuditLog
			userID, oldValue, newValue sql.NullString
			ipAddress                  sql.NullString
			createdAt                  int64
		)
		if err := rows.Scan(&log.ID, &userID, &log.Action, &log.ResourceType, &log.ResourceID,
			&oldValue, &newValue, &ipAddress, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if userID.Valid {
			id, err := uuid.Parse(userID.String)
			if err != nil {
				return nil, fmt.Errorf("parse audit user_id %q: %w", userID.String, err)
			}
			log.UserID = &id
		}
		if ipAddress.Valid {
			log.IPAddress = &ipAddress.String
		}
		if log.OldValue, err = decodeJSON(oldValue); err != nil {
			return nil, err
		}
		if log.NewValue, err = decodeJSON(newValue); err != nil {
			return nil, err
		}
		log.CreatedAt = fromMicros(createdAt)
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return logs, nil
}

func encodeJSON(value map[string]interface{}) (*string, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode audit value: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func decodeJSON(raw sql.NullString) (map[string]interface{}, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("decode audit value: %w", err)
	}
	return out, nil
}
