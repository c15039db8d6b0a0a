package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
)

const (
	auditListDefaultPage = 1
	auditListDefaultSize = 20
	auditListMaxPageSize = 200
)

var (
	ErrInvalidAuditInput = errors.New("invalid audit input")
)

type AuditEntry struct {
	UserID       *uuid.UUID             `json:"user_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	OldValue     map[string]interface{} `json:"old_value,omitempty"`
	NewValue     map[string]interface{} `json:"new_value,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

type AuditFilter struct {
	UserID       *string    `json:"user_id,omitempty"`
	ResourceType *string    `json:"resource_type,omitempty"`
	ResourceID   *string    `json:"resource_id,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
}

type AuditService struct {
	auditRepo repository.AuditRepository
}

func NewAuditService(auditRepo repository.AuditRepository) *AuditService {
	return &AuditService{auditRepo: auditRepo}
}

func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	if s.auditRepo == nil {
		return errors.New("audit repository is nil")
	}

	action := strings.TrimSpace(entry.Action)
	resourceType := strings.TrimSpace(entry.ResourceType)
	if action == "" || resourceType == "" {
		return ErrInvalidAuditInput
	}

	logItem := &model.AuditLog{
		UserID:       entry.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   strings.TrimSpace(entry.ResourceID),
		OldValue:     entry.OldValue,
		NewValue:     entry.NewValue,
		IPAddress:    trimAuditString(entry.IPAddress),
		CreatedAt:    entry.CreatedAt.UTC(),
	}
	if entry.CreatedAt.IsZero() {
		logItem.CreatedAt = time.Now().UTC()
	}

	return s.auditRepo.Create(ctx, logItem)
}

func (s *AuditService) List(
	ctx context.Context,
	filter AuditFilter,
	page, pageSize int,
) ([]*model.AuditLog, error) {
	if s.auditRepo == nil {
		return nil, errors.New("audit repository is nil")
	}

	page, pageSize = normalizeAuditPagination(page, pageSize)
	repoFilter := repository.AuditListFilter{
		ResourceType: trimAuditStringPtr(filter.ResourceType),
		ResourceID:   trimAuditStringPtr(filter.ResourceID),
		StartTime:    filter.From,
		EndTime:      filter.To,
		Pagination: repository.Pagination{
			Limit:  int32(pageSize),
			Offset: int32((page - 1) * pageSize),
		},
	}
	if filter.UserID != nil && strings.TrimSpace(*filter.UserID) != "" {
		uid, err := uuid.Parse(strings.TrimSpace(*filter.UserID))
		if err != nil {
			return nil, ErrInvalidUserID
		}
		repoFilter.UserID = &uid
	}

	return s.auditRepo.List(ctx, repoFilter)
}

func normalizeAuditPagination(page, pageSize int) (int, int) {
	if page <= 0 {
		page = auditListDefaultPage
	}
	if pageSize <= 0 {
		pageSize = auditListDefaultSize
	}
	if pageSize > auditListMaxPageSize {
		pageSize = auditListMaxPageSize
	}
	return page, pageSize
}

func trimAuditString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func trimAuditStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	return trimAuditString(*v)
}
