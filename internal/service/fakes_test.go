package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
)

type memoryAnnouncementRepo struct {
	mu        sync.Mutex
	items     map[uuid.UUID]model.Announcement
	deleteErr error
}

func newMemoryAnnouncementRepo() *memoryAnnouncementRepo {
	return &memoryAnnouncementRepo{items: make(map[uuid.UUID]model.Announcement)}
}

func (r *memoryAnnouncementRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Announcement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &item, nil
}

func (r *memoryAnnouncementRepo) Create(_ context.Context, a *model.Announcement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.ID] = *a
	return nil
}

func (r *memoryAnnouncementRepo) Update(_ context.Context, a *model.Announcement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ID]; !ok {
		return repository.ErrNotFound
	}
	r.items[a.ID] = *a
	return nil
}

func (r *memoryAnnouncementRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryAnnouncementRepo) matching(filter repository.AnnouncementListFilter) []*model.Announcement {
	out := make([]*model.Announcement, 0, len(r.items))
	for _, item := range r.items {
		item := item
		if filter.Audience != nil && item.TargetAudience != *filter.Audience && item.TargetAudience != model.AudienceAll {
			continue
		}
		if filter.Featured != nil && item.IsFeatured != *filter.Featured {
			continue
		}
		if filter.Type != nil && item.Type != *filter.Type {
			continue
		}
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *memoryAnnouncementRepo) List(_ context.Context, filter repository.AnnouncementListFilter) ([]*model.Announcement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.matching(filter)

	offset := int(filter.Pagination.Offset)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit := int(filter.Pagination.Limit); limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryAnnouncementRepo) Count(_ context.Context, filter repository.AnnouncementListFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.matching(filter))), nil
}

type memoryDeliveryRepo struct {
	mu         sync.Mutex
	watermarks map[uuid.UUID]time.Time
	advances   int
}

func newMemoryDeliveryRepo() *memoryDeliveryRepo {
	return &memoryDeliveryRepo{watermarks: make(map[uuid.UUID]time.Time)}
}

func (r *memoryDeliveryRepo) Get(_ context.Context, id uuid.UUID) (*model.DeliveryWatermark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.watermarks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.DeliveryWatermark{AnnouncementID: id, LastFiredAt: at}, nil
}

func (r *memoryDeliveryRepo) Advance(_ context.Context, id uuid.UUID, previous *time.Time, firedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.watermarks[id]
	switch {
	case previous == nil && ok:
		return repository.ErrStaleWatermark
	case previous != nil && (!ok || !current.Equal(*previous)):
		return repository.ErrStaleWatermark
	}
	r.watermarks[id] = firedAt
	r.advances++
	return nil
}

func (r *memoryDeliveryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watermarks, id)
	return nil
}

type memoryAuditRepo struct {
	mu   sync.Mutex
	logs []*model.AuditLog
}

func (r *memoryAuditRepo) Create(_ context.Context, log *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.ID = int64(len(r.logs) + 1)
	r.logs = append(r.logs, log)
	return nil
}

func (r *memoryAuditRepo) List(_ context.Context, filter repository.AuditListFilter) ([]*model.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.AuditLog, 0, len(r.logs))
	for i := len(r.logs) - 1; i >= 0; i-- {
		log := r.logs[i]
		if filter.ResourceID != nil && log.ResourceID != *filter.ResourceID {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (r *memoryAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, log := range r.logs {
		out = append(out, log.Action)
	}
	return out
}
