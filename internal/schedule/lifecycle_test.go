package schedule

import (
	"errors"
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time { return &t }

func assertStatus(t *testing.T, rec Record, at time.Time, want Status) {
	t.Helper()
	if got := DeriveStatus(rec, at); got != want {
		t.Fatalf("at %s: expected %s, got %s", at, want, got)
	}
}

func TestDeriveStatus_Draft(t *testing.T) {
	t.Parallel()

	assertStatus(t, Record{}, time.Now(), StatusDraft)
	// An expiry alone does not make a draft live or expired.
	assertStatus(t, Record{ExpireAt: timePtr(utc(2000, time.January, 1, 0, 0))}, time.Now(), StatusDraft)
}

func TestDeriveStatus_OneOff(t *testing.T) {
	t.Parallel()

	publishAt := utc(2025, time.June, 1, 14, 0)
	rec := Record{Timing: OneOff{PublishAt: publishAt}, ExpireAt: timePtr(utc(2025, time.June, 10, 0, 0))}

	assertStatus(t, rec, publishAt.Add(-time.Second), StatusScheduled)
	assertStatus(t, rec, publishAt, StatusPublished)
	assertStatus(t, rec, utc(2025, time.June, 10, 0, 0), StatusPublished)
	assertStatus(t, rec, utc(2025, time.June, 10, 0, 1), StatusExpired)
}

func TestDeriveStatus_ExpiryTakesPrecedence(t *testing.T) {
	t.Parallel()

	now := utc(2025, time.June, 15, 12, 0)
	past := timePtr(now.Add(-time.Hour))
	rule := mustRule(t, FrequencyDaily, utc(2025, time.June, 1, 14, 0), nil, EasternStandard)

	for name, rec := range map[string]Record{
		"one-off published":  {Timing: OneOff{PublishAt: utc(2025, time.June, 1, 0, 0)}, ExpireAt: past},
		"one-off future":     {Timing: OneOff{PublishAt: now.Add(time.Hour)}, ExpireAt: past},
		"recurring due":      {Timing: rule, ExpireAt: past},
		"recurring pointer":  {Timing: &rule, ExpireAt: past},
		"recurring upcoming": {Timing: mustRule(t, FrequencyWeekly, now.Add(48*time.Hour), nil, 0), ExpireAt: past},
	} {
		if got := DeriveStatus(rec, now); got != StatusExpired {
			t.Fatalf("%s: expected expired, got %s", name, got)
		}
	}
}

func TestDeriveStatus_RecurringBranches(t *testing.T) {
	t.Parallel()

	start := utc(2025, time.June, 2, 14, 0)
	end := utc(2025, time.June, 30, 14, 0)
	rec := Record{Timing: mustRule(t, FrequencyWeekly, start, &end, 0)}

	assertStatus(t, rec, start.Add(-time.Minute), StatusScheduled)
	assertStatus(t, rec, start, StatusPublished)
	assertStatus(t, rec, utc(2025, time.June, 5, 0, 0), StatusScheduled)
	assertStatus(t, rec, utc(2025, time.June, 9, 20, 0), StatusPublished)
	assertStatus(t, rec, end.Add(time.Minute), StatusExpired)
}

func TestDeriveStatus_IsIdempotent(t *testing.T) {
	t.Parallel()

	rule := mustRule(t, FrequencyMonthly, utc(2025, time.January, 31, 14, 0), nil, EasternStandard)
	rec := Record{Timing: rule, ExpireAt: timePtr(utc(2026, time.January, 1, 0, 0))}

	for _, at := range []time.Time{
		utc(2025, time.January, 1, 0, 0),
		utc(2025, time.February, 28, 15, 0),
		utc(2025, time.March, 5, 0, 0),
		utc(2026, time.February, 1, 0, 0),
	} {
		if first, second := DeriveStatus(rec, at), DeriveStatus(rec, at); first != second {
			t.Fatalf("at %s: %s then %s", at, first, second)
		}
	}
	if !rec.Timing.(Rule).Start().Equal(rule.Start()) {
		t.Fatal("expected rule start to be unchanged")
	}
}

func TestDeriveStatus_DailyEndToEnd(t *testing.T) {
	t.Parallel()

	rule, err := MakeRecurrenceRule(FrequencyDaily, civilPtr(Civil{2025, time.June, 1, 9, 0}), nil, EasternStandard)
	if err != nil {
		t.Fatalf("MakeRecurrenceRule returned error: %v", err)
	}
	rec := Record{Timing: *rule}

	assertStatus(t, rec, utc(2025, time.June, 1, 13, 59), StatusScheduled)
	assertStatus(t, rec, utc(2025, time.June, 1, 14, 0), StatusPublished)
	assertStatus(t, rec, utc(2025, time.June, 2, 14, 0), StatusPublished)

	next, ok := NextChange(rec, utc(2025, time.June, 1, 14, 0))
	if !ok || !next.Equal(utc(2025, time.June, 2, 14, 0)) {
		t.Fatalf("expected next change 2025-06-02T14:00Z, got %s (%v)", next, ok)
	}
}

func TestRecordPublishAt(t *testing.T) {
	t.Parallel()

	if _, ok := (Record{}).PublishAt(); ok {
		t.Fatal("expected draft to have no publish time")
	}

	start := utc(2025, time.June, 1, 14, 0)
	got, ok := Record{Timing: mustRule(t, FrequencyDaily, start, nil, 0)}.PublishAt()
	if !ok || !got.Equal(start) {
		t.Fatalf("expected rule start, got %s (%v)", got, ok)
	}
}

func TestRecordValidate(t *testing.T) {
	t.Parallel()

	publishAt := utc(2025, time.June, 1, 14, 0)
	if err := (Record{Timing: OneOff{PublishAt: publishAt}, ExpireAt: timePtr(publishAt)}).Validate(); err != nil {
		t.Fatalf("expected expiry at publish time to be valid, got %v", err)
	}
	err := Record{Timing: OneOff{PublishAt: publishAt}, ExpireAt: timePtr(publishAt.Add(-time.Hour))}.Validate()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := (Record{ExpireAt: timePtr(publishAt)}).Validate(); err != nil {
		t.Fatalf("expected draft with expiry to be valid, got %v", err)
	}
}

func TestFiringAt(t *testing.T) {
	t.Parallel()

	publishAt := utc(2025, time.June, 1, 14, 0)
	oneOff := Record{Timing: OneOff{PublishAt: publishAt}}

	if _, ok := FiringAt(oneOff, publishAt.Add(-time.Minute)); ok {
		t.Fatal("expected no firing before publish time")
	}
	if got, ok := FiringAt(oneOff, publishAt.Add(time.Hour)); !ok || !got.Equal(publishAt) {
		t.Fatalf("expected firing at publish time, got %s (%v)", got, ok)
	}

	weekly := Record{Timing: mustRule(t, FrequencyWeekly, publishAt, nil, 0)}
	if got, ok := FiringAt(weekly, utc(2025, time.June, 8, 20, 0)); !ok || !got.Equal(utc(2025, time.June, 8, 14, 0)) {
		t.Fatalf("expected June 8 firing, got %s (%v)", got, ok)
	}
	if _, ok := FiringAt(weekly, utc(2025, time.June, 10, 0, 0)); ok {
		t.Fatal("expected no firing between occurrences")
	}
}

func TestNextChange(t *testing.T) {
	t.Parallel()

	publishAt := utc(2025, time.June, 1, 14, 0)
	oneOff := Record{Timing: OneOff{PublishAt: publishAt}}

	if got, ok := NextChange(oneOff, publishAt.Add(-time.Hour)); !ok || !got.Equal(publishAt) {
		t.Fatalf("expected publish time, got %s (%v)", got, ok)
	}
	if _, ok := NextChange(oneOff, publishAt); ok {
		t.Fatal("expected no change after a one-off is live")
	}

	expiring := Record{
		Timing:   mustRule(t, FrequencyWeekly, publishAt, nil, 0),
		ExpireAt: timePtr(utc(2025, time.June, 10, 0, 0)),
	}
	got, ok := NextChange(expiring, publishAt)
	if !ok || !got.Equal(utc(2025, time.June, 8, 14, 0)) {
		t.Fatalf("expected June 8, got %s (%v)", got, ok)
	}
	if _, ok := NextChange(expiring, got); ok {
		t.Fatal("expected no change past the last occurrence before expiry")
	}
}
