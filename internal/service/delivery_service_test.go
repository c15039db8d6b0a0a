package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gleeworld-hub/internal/event"
	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/schedule"
)

type firedRecorder struct {
	mu       sync.Mutex
	payloads []event.AnnouncementPublishedPayload
}

func (r *firedRecorder) handle(payload any) {
	p, ok := payload.(event.AnnouncementPublishedPayload)
	if !ok {
		return
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	r.mu.Unlock()
}

func (r *firedRecorder) snapshot() []event.AnnouncementPublishedPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]event.AnnouncementPublishedPayload(nil), r.payloads...)
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.Before(out[j].FiredAt) })
	return out
}

func newDeliveryFixture(t *testing.T) (*DeliveryService, *memoryAnnouncementRepo, *memoryDeliveryRepo, *event.Bus, *firedRecorder) {
	t.Helper()

	repo := newMemoryAnnouncementRepo()
	deliveries := newMemoryDeliveryRepo()
	bus := event.NewBus()
	recorder := &firedRecorder{}
	bus.Subscribe(event.EventAnnouncementPublished, recorder.handle)

	svc := NewDeliveryService(repo, deliveries, bus, time.Second, zap.NewNop())
	return svc, repo, deliveries, bus, recorder
}

func seedAnnouncement(t *testing.T, repo *memoryAnnouncementRepo, title string, rec schedule.Record) *model.Announcement {
	t.Helper()

	item := &model.Announcement{
		ID:             uuid.New(),
		Type:           "general",
		Title:          title,
		Content:        title + " body",
		TargetAudience: model.AudienceMembers,
		Schedule:       rec,
		CreatedBy:      uuid.New(),
		CreatedAt:      time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.Create(context.Background(), item); err != nil {
		t.Fatalf("seed announcement: %v", err)
	}
	return item
}

func dailyRule(t *testing.T, start time.Time) schedule.Rule {
	t.Helper()

	rule, err := schedule.NewRule(schedule.FrequencyDaily, start, nil, schedule.EasternStandard)
	if err != nil {
		t.Fatalf("NewRule returned error: %v", err)
	}
	return rule
}

func TestTick_FiresEachOccurrenceOnce(t *testing.T) {
	t.Parallel()

	svc, repo, _, bus, recorder := newDeliveryFixture(t)
	start := time.Date(2025, time.June, 1, 14, 0, 0, 0, time.UTC)
	item := seedAnnouncement(t, repo, "Sectionals", schedule.Record{Timing: dailyRule(t, start)})

	ticks := []struct {
		now   time.Time
		fired int
		stale int
	}{
		{start.Add(-time.Minute), 0, 0},
		{start.Add(30 * time.Second), 1, 0},
		{start.Add(5 * time.Minute), 0, 1},
		{start.Add(24*time.Hour + 10*time.Second), 1, 0},
	}
	for i, tick := range ticks {
		result, err := svc.Tick(context.Background(), tick.now)
		if err != nil {
			t.Fatalf("tick %d returned error: %v", i, err)
		}
		if result.Fired != tick.fired || result.Stale != tick.stale {
			t.Fatalf("tick %d: expected fired=%d stale=%d, got %+v", i, tick.fired, tick.stale, result)
		}
	}

	bus.Wait()
	got := recorder.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(got))
	}
	if got[0].AnnouncementID != item.ID.String() || !got[0].Recurring {
		t.Fatalf("unexpected payload: %+v", got[0])
	}
	if !got[0].FiredAt.Equal(start) || !got[1].FiredAt.Equal(start.Add(24*time.Hour)) {
		t.Fatalf("unexpected firing instants: %s, %s", got[0].FiredAt, got[1].FiredAt)
	}
}

func TestTick_DoesNotReplayMissedOccurrences(t *testing.T) {
	t.Parallel()

	svc, repo, deliveries, bus, recorder := newDeliveryFixture(t)
	start := time.Date(2025, time.June, 1, 14, 0, 0, 0, time.UTC)
	item := seedAnnouncement(t, repo, "Daily notes", schedule.Record{Timing: dailyRule(t, start)})
	deliveries.watermarks[item.ID] = start

	now := start.Add(72*time.Hour + time.Hour)
	result, err := svc.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("expected a single firing after downtime, got %+v", result)
	}

	bus.Wait()
	got := recorder.snapshot()
	if len(got) != 1 || !got[0].FiredAt.Equal(start.Add(72*time.Hour)) {
		t.Fatalf("expected only the latest occurrence to fire, got %+v", got)
	}
}

func TestTick_OneOffLifecycle(t *testing.T) {
	t.Parallel()

	svc, repo, _, bus, recorder := newDeliveryFixture(t)
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)

	fresh := seedAnnouncement(t, repo, "Fresh", schedule.Record{Timing: schedule.OneOff{PublishAt: now.Add(-10 * time.Minute)}})
	seedAnnouncement(t, repo, "Old", schedule.Record{Timing: schedule.OneOff{PublishAt: now.Add(-48 * time.Hour)}})
	seedAnnouncement(t, repo, "Later", schedule.Record{Timing: schedule.OneOff{PublishAt: now.Add(time.Hour)}})
	seedAnnouncement(t, repo, "Draft", schedule.Record{})
	seedAnnouncement(t, repo, "Gone", schedule.Record{
		Timing:   schedule.OneOff{PublishAt: now.Add(-2 * time.Hour)},
		ExpireAt: &expired,
	})

	result, err := svc.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if result.Evaluated != 5 || result.Fired != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	want := map[schedule.Status]int{
		schedule.StatusDraft:     1,
		schedule.StatusScheduled: 1,
		schedule.StatusPublished: 2,
		schedule.StatusExpired:   1,
	}
	for status, count := range want {
		if result.Counts[status] != count {
			t.Fatalf("expected %d %s, got %d", count, status, result.Counts[status])
		}
	}

	bus.Wait()
	got := recorder.snapshot()
	if len(got) != 1 || got[0].AnnouncementID != fresh.ID.String() || got[0].Recurring {
		t.Fatalf("expected only the fresh one-off to fire, got %+v", got)
	}
}

func TestTick_ConcurrentWorkersFireOnce(t *testing.T) {
	t.Parallel()

	repo := newMemoryAnnouncementRepo()
	deliveries := newMemoryDeliveryRepo()
	bus := event.NewBus()
	recorder := &firedRecorder{}
	bus.Subscribe(event.EventAnnouncementPublished, recorder.handle)

	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	seedAnnouncement(t, repo, "Concert", schedule.Record{Timing: schedule.OneOff{PublishAt: now.Add(-time.Minute)}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc := NewDeliveryService(repo, deliveries, bus, time.Second, zap.NewNop())
			if _, err := svc.Tick(context.Background(), now); err != nil {
				t.Errorf("Tick returned error: %v", err)
			}
		}()
	}
	wg.Wait()
	bus.Wait()

	if got := recorder.snapshot(); len(got) != 1 {
		t.Fatalf("expected exactly one published event, got %d", len(got))
	}
	if deliveries.advances != 1 {
		t.Fatalf("expected one watermark advance, got %d", deliveries.advances)
	}
}

func TestTick_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	repo := newMemoryAnnouncementRepo()
	svc := NewDeliveryService(repo, newMemoryDeliveryRepo(), event.NewBus(), time.Second, zap.New(core))
	seedAnnouncement(t, repo, "Any", schedule.Record{})
	seedAnnouncement(t, repo, "Other", schedule.Record{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := svc.Tick(ctx, time.Now())
	if err == nil {
		t.Fatal("expected cancelled context to abort the tick")
	}
	if result.Evaluated != 0 {
		t.Fatalf("expected no announcements evaluated, got %+v", result)
	}

	entries := logs.FilterMessageSnippet("status gauges keep the previous pass").All()
	if len(entries) != 1 {
		t.Fatalf("expected one interrupted-tick warning, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["evaluated"] != int64(0) || fields["total"] != int64(2) {
		t.Fatalf("unexpected warning fields: %v", fields)
	}
}

func TestRunTick_UsesClock(t *testing.T) {
	t.Parallel()

	svc, repo, deliveries, bus, recorder := newDeliveryFixture(t)
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	item := seedAnnouncement(t, repo, "Clocked", schedule.Record{Timing: schedule.OneOff{PublishAt: now.Add(-time.Minute)}})
	svc.now = func() time.Time { return now }

	svc.RunTick()
	bus.Wait()

	if got := recorder.snapshot(); len(got) != 1 {
		t.Fatalf("expected one published event, got %d", len(got))
	}
	if wm, err := deliveries.Get(context.Background(), item.ID); err != nil || !wm.LastFiredAt.Equal(now.Add(-time.Minute)) {
		t.Fatalf("unexpected watermark: %+v, %v", wm, err)
	}
}
