package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/repository"
	"gleeworld-hub/internal/schedule"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "gleeworld.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newAnnouncement(rec schedule.Record) *model.Announcement {
	return &model.Announcement{
		ID:             uuid.New(),
		Type:           "general",
		Title:          "Sectional rehearsal",
		Content:        "Sopranos in room 101.",
		TargetAudience: model.AudienceMembers,
		Schedule:       rec,
		CreatedBy:      uuid.New(),
	}
}

func mustCreate(t *testing.T, repo *AnnouncementRepository, item *model.Announcement) {
	t.Helper()
	if err := repo.Create(context.Background(), item); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
}

func audiences(items []*model.Announcement) []model.AnnouncementAudience {
	out := make([]model.AnnouncementAudience, 0, len(items))
	for _, item := range items {
		out = append(out, item.TargetAudience)
	}
	return out
}

func TestAnnouncementRepository_RoundTrip(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := NewAnnouncementRepository(db)
	ctx := context.Background()

	start := time.Date(2025, time.March, 3, 14, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.March, 31, 14, 0, 0, 0, time.UTC)
	expire := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	rule, err := schedule.NewRule(schedule.FrequencyWeekly, start, &end, schedule.EasternStandard)
	if err != nil {
		t.Fatalf("NewRule returned error: %v", err)
	}

	item := newAnnouncement(schedule.Record{Timing: rule, ExpireAt: &expire})
	item.IsFeatured = true
	mustCreate(t, repo, item)

	got, err := repo.FindByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got.Title != item.Title || !got.IsFeatured || got.CreatedBy != item.CreatedBy {
		t.Fatalf("unexpected announcement %+v", got)
	}
	if got.Schedule.ExpireAt == nil || !got.Schedule.ExpireAt.Equal(expire) {
		t.Fatalf("expected expire_at %s, got %v", expire, got.Schedule.ExpireAt)
	}

	gotRule, ok := got.Schedule.Rule()
	if !ok {
		t.Fatal("expected a recurrence rule")
	}
	if gotRule.Frequency() != schedule.FrequencyWeekly || !gotRule.Start().Equal(start) || gotRule.Offset() != schedule.EasternStandard {
		t.Fatalf("unexpected rule %+v", gotRule)
	}
	if gotEnd, ok := gotRule.End(); !ok || !gotEnd.Equal(end) {
		t.Fatalf("expected rule end %s, got %s (%v)", end, gotEnd, ok)
	}
}

func TestAnnouncementRepository_DraftAndOneOff(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := NewAnnouncementRepository(db)
	ctx := context.Background()

	draft := newAnnouncement(schedule.Record{})
	mustCreate(t, repo, draft)

	got, err := repo.FindByID(ctx, draft.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got.Schedule.Timing != nil || got.StatusAt(time.Now()) != schedule.StatusDraft {
		t.Fatalf("expected a draft, got %+v", got.Schedule)
	}

	publishAt := time.Now().UTC().Truncate(time.Microsecond)
	got.Schedule = schedule.Record{Timing: schedule.OneOff{PublishAt: publishAt}}
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	again, err := repo.FindByID(ctx, draft.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if at, ok := again.Schedule.PublishAt(); !ok || !at.Equal(publishAt) {
		t.Fatalf("expected publish_at %s, got %s (%v)", publishAt, at, ok)
	}
}

func TestAnnouncementRepository_NotFound(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := NewAnnouncementRepository(db)
	ctx := context.Background()

	if _, err := repo.FindByID(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("FindByID: expected ErrNotFound, got %v", err)
	}
	if err := repo.Update(ctx, newAnnouncement(schedule.Record{})); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Update: expected ErrNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestAnnouncementRepository_ListAndCount(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := NewAnnouncementRepository(db)
	ctx := context.Background()

	base := time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)
	seeded := []model.AnnouncementAudience{model.AudienceAll, model.AudienceFans, model.AudienceMembers, model.AudienceAlumnae}
	for i, audience := range seeded {
		item := newAnnouncement(schedule.Record{})
		item.TargetAudience = audience
		item.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		item.IsFeatured = audience == model.AudienceFans
		mustCreate(t, repo, item)
	}

	all, err := repo.List(ctx, repository.AnnouncementListFilter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 4 || all[0].TargetAudience != model.AudienceAlumnae {
		t.Fatalf("expected newest first, got %v", audiences(all))
	}

	fans := model.AudienceFans
	visible, err := repo.List(ctx, repository.AnnouncementListFilter{Audience: &fans})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("expected 2 announcements visible to fans, got %v", audiences(visible))
	}

	featured := true
	n, err := repo.Count(ctx, repository.AnnouncementListFilter{Featured: &featured})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 featured, got %d, %v", n, err)
	}

	page, err := repo.List(ctx, repository.AnnouncementListFilter{Pagination: repository.Pagination{Limit: 2, Offset: 1}})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(page) != 2 || page[0].TargetAudience != model.AudienceMembers || page[1].TargetAudience != model.AudienceFans {
		t.Fatalf("unexpected page %v", audiences(page))
	}

	tail, err := repo.List(ctx, repository.AnnouncementListFilter{Pagination: repository.Pagination{Offset: 3}})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(tail) != 1 || tail[0].TargetAudience != model.AudienceAll {
		t.Fatalf("unexpected tail %v", audiences(tail))
	}
}

func TestDeliveryRepository_Advance(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	announcements := NewAnnouncementRepository(db)
	repo := NewDeliveryRepository(db)
	ctx := context.Background()

	item := newAnnouncement(schedule.Record{})
	mustCreate(t, announcements, item)

	if _, err := repo.Get(ctx, item.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no watermark yet, got %v", err)
	}

	first := time.Date(2025, time.June, 1, 14, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	if err := repo.Advance(ctx, item.ID, nil, first); err != nil {
		t.Fatalf("first Advance returned error: %v", err)
	}
	if err := repo.Advance(ctx, item.ID, nil, first); !errors.Is(err, repository.ErrStaleWatermark) {
		t.Fatalf("expected duplicate insert to be stale, got %v", err)
	}
	if err := repo.Advance(ctx, item.ID, &second, second); !errors.Is(err, repository.ErrStaleWatermark) {
		t.Fatalf("expected mismatched previous to be stale, got %v", err)
	}
	if err := repo.Advance(ctx, item.ID, &first, second); err != nil {
		t.Fatalf("second Advance returned error: %v", err)
	}

	got, err := repo.Get(ctx, item.ID)
	if err != nil || !got.LastFiredAt.Equal(second) {
		t.Fatalf("expected watermark %s, got %+v, %v", second, got, err)
	}

	if err := announcements.Delete(ctx, item.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := repo.Get(ctx, item.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected watermark to cascade with the row, got %v", err)
	}
}

func TestAuditRepository_CreateAndList(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	resourceID := uuid.NewString()
	ip := "10.0.0.8"
	base := time.Date(2025, time.July, 4, 9, 0, 0, 0, time.UTC)
	for i, action := range []string{"announcement.create", "announcement.update"} {
		err := repo.Create(ctx, &model.AuditLog{
			UserID:       &userID,
			Action:       action,
			ResourceType: "announcement",
			ResourceID:   resourceID,
			NewValue:     map[string]interface{}{"title": "Tour dates"},
			IPAddress:    &ip,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Create %s returned error: %v", action, err)
		}
	}
	err := repo.Create(ctx, &model.AuditLog{
		Action:       "announcement.delete",
		ResourceType: "announcement",
		ResourceID:   uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	logs, err := repo.List(ctx, repository.AuditListFilter{ResourceID: &resourceID})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(logs) != 2 || logs[0].Action != "announcement.update" {
		t.Fatalf("expected 2 logs newest first, got %+v", logs)
	}
	latest := logs[0]
	if latest.UserID == nil || *latest.UserID != userID {
		t.Fatalf("unexpected user id %v", latest.UserID)
	}
	if latest.NewValue["title"] != "Tour dates" || latest.OldValue != nil {
		t.Fatalf("unexpected values new=%v old=%v", latest.NewValue, latest.OldValue)
	}
	if latest.IPAddress == nil || *latest.IPAddress != ip {
		t.Fatalf("unexpected ip %v", latest.IPAddress)
	}
}
