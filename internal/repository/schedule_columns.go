package repository

import (
	"fmt"
	"time"

	"gleeworld-hub/internal/schedule"
)

// ScheduleColumns is the flat storage form of a schedule.Record. For a
// recurring record PublishAt holds the rule start, the first occurrence.
type ScheduleColumns struct {
	PublishAt       *time.Time
	ExpireAt        *time.Time
	Frequency       *string
	RecurrenceStart *time.Time
	RecurrenceEnd   *time.Time
	OffsetHours     *int
}

func EncodeSchedule(rec schedule.Record) ScheduleColumns {
	cols := ScheduleColumns{ExpireAt: utcPtr(rec.ExpireAt)}

	if rule, ok := rec.Rule(); ok {
		freq := string(rule.Frequency())
		start := rule.Start()
		offset := int(rule.Offset())
		cols.Frequency = &freq
		cols.RecurrenceStart = &start
		cols.PublishAt = &start
		cols.OffsetHours = &offset
		if end, ok := rule.End(); ok {
			cols.RecurrenceEnd = &end
		}
		return cols
	}

	if publishAt, ok := rec.PublishAt(); ok {
		cols.PublishAt = utcPtr(&publishAt)
	}
	return cols
}

// DecodeSchedule rebuilds a record, re-validating any recurrence rule. A row
// that fails validation is reported rather than coerced.
func DecodeSchedule(cols ScheduleColumns) (schedule.Record, error) {
	rec := schedule.Record{ExpireAt: utcPtr(cols.ExpireAt)}

	if cols.Frequency != nil && *cols.Frequency != "" {
		if cols.RecurrenceStart == nil {
			return schedule.Record{}, fmt.Errorf("decode schedule: recurrence start missing for frequency %q", *cols.Frequency)
		}
		offset := 0
		if cols.OffsetHours != nil {
			offset = *cols.OffsetHours
		}
		rule, err := schedule.NewRule(
			schedule.Frequency(*cols.Frequency),
			*cols.RecurrenceStart,
			cols.RecurrenceEnd,
			schedule.Offset(offset),
		)
		if err != nil {
			return schedule.Record{}, fmt.Errorf("decode schedule: %w", err)
		}
		rec.Timing = rule
		return rec, nil
	}

	if cols.RecurrenceStart != nil || cols.RecurrenceEnd != nil {
		return schedule.Record{}, fmt.Errorf("decode schedule: recurrence bounds stored without a frequency")
	}
	if cols.PublishAt != nil {
		rec.Timing = schedule.OneOff{PublishAt: cols.PublishAt.UTC()}
	}
	return rec, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
