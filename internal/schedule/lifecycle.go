package schedule

import "time"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublished, StatusExpired:
		return true
	default:
		return false
	}
}

// Statuses lists every lifecycle status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusDraft, StatusScheduled, StatusPublished, StatusExpired}
}

// Record is the part of an announcement that lifecycle derivation reads.
// ExpireAt is a hard cutoff that applies to both one-off and recurring timing.
type Record struct {
	Timing   Timing
	ExpireAt *time.Time
}

// Rule returns the recurrence rule, if the record recurs.
func (r Record) Rule() (Rule, bool) {
	switch t := r.Timing.(type) {
	case Rule:
		return t, true
	case *Rule:
		if t != nil {
			return *t, true
		}
	}
	return Rule{}, false
}

// PublishAt returns the instant the record first goes live: the explicit
// publish time of a one-off, or the first occurrence of a rule.
func (r Record) PublishAt() (time.Time, bool) {
	switch t := r.Timing.(type) {
	case OneOff:
		return t.PublishAt, true
	case *OneOff:
		if t != nil {
			return t.PublishAt, true
		}
	}
	if rule, ok := r.Rule(); ok {
		return rule.Start(), true
	}
	return time.Time{}, false
}

// Validate rejects an expiry that precedes the publish instant.
func (r Record) Validate() error {
	if r.ExpireAt == nil {
		return nil
	}
	if publishAt, ok := r.PublishAt(); ok && r.ExpireAt.Before(publishAt) {
		return invalid("expire_at", "must not be before the publish time")
	}
	return nil
}

// DeriveStatus computes the lifecycle status of r at now. It is pure: the
// same inputs always give the same status.
func DeriveStatus(r Record, now time.Time) Status {
	publishAt, hasPublish := r.PublishAt()
	if !hasPublish {
		return StatusDraft
	}
	if r.ExpireAt != nil && now.After(*r.ExpireAt) {
		return StatusExpired
	}

	if rule, ok := r.Rule(); ok {
		if now.Before(rule.Start()) {
			return StatusScheduled
		}
		if end, ok := rule.End(); ok && now.After(end) {
			return StatusExpired
		}
		if IsDue(rule, now) {
			return StatusPublished
		}
		return StatusScheduled
	}

	if now.Before(publishAt) {
		return StatusScheduled
	}
	return StatusPublished
}

// FiringAt returns the instant whose delivery is current at now: the publish
// time of a live one-off or the latest due occurrence of a rule. It reports
// false unless the record is Published at now.
func FiringAt(r Record, now time.Time) (time.Time, bool) {
	if DeriveStatus(r, now) != StatusPublished {
		return time.Time{}, false
	}
	if rule, ok := r.Rule(); ok {
		return LatestOccurrence(rule, now)
	}
	return r.PublishAt()
}

// NextChange returns the next instant after now at which r goes live: the
// pending publish time of a one-off or the next occurrence of a rule that
// falls before any expiry.
func NextChange(r Record, now time.Time) (time.Time, bool) {
	var next time.Time
	if rule, ok := r.Rule(); ok {
		occ, ok := NextOccurrence(rule, now)
		if !ok {
			return time.Time{}, false
		}
		next = occ
	} else {
		publishAt, ok := r.PublishAt()
		if !ok || !publishAt.After(now) {
			return time.Time{}, false
		}
		next = publishAt
	}
	if r.ExpireAt != nil && next.After(*r.ExpireAt) {
		return time.Time{}, false
	}
	return next, true
}
