package schedule

import (
	"encoding/json"
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyNone    Frequency = ""
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// ParseFrequency accepts the raw form selection. Blank and "none" map to
// FrequencyNone.
func ParseFrequency(raw string) (Frequency, error) {
	value := Frequency(strings.ToLower(strings.TrimSpace(raw)))
	if value == FrequencyNone || value == "none" {
		return FrequencyNone, nil
	}
	if !value.Valid() {
		return FrequencyNone, invalid("recurrence_frequency", "must be one of daily, weekly, monthly; got %q", raw)
	}
	return value, nil
}

// Timing is the temporal behaviour of an announcement: either OneOff or a
// recurring Rule. A nil Timing is a draft.
type Timing interface {
	timing()
}

// OneOff is a non-recurring announcement that goes live at PublishAt.
type OneOff struct {
	PublishAt time.Time
}

func (OneOff) timing() {}

// Rule is a validated recurrence rule. The zero value is not usable; build
// rules with NewRule or MakeRecurrenceRule.
type Rule struct {
	freq   Frequency
	start  time.Time
	end    *time.Time
	offset Offset
}

func (Rule) timing() {}

// NewRule validates a rule expressed in instants. offset is the fixed offset
// whose calendar anchors monthly recurrence.
func NewRule(freq Frequency, start time.Time, end *time.Time, offset Offset) (Rule, error) {
	if !freq.Valid() {
		return Rule{}, invalid("recurrence_frequency", "must be one of daily, weekly, monthly; got %q", string(freq))
	}
	if start.IsZero() {
		return Rule{}, invalid("recurrence_start", "is required when a frequency is set")
	}
	if err := offset.Validate(); err != nil {
		return Rule{}, err
	}

	r := Rule{freq: freq, start: start.UTC(), offset: offset}
	if end != nil {
		e := end.UTC()
		if e.Before(r.start) {
			return Rule{}, invalid("recurrence_end", "must not be before recurrence start")
		}
		r.end = &e
	}
	return r, nil
}

// MakeRecurrenceRule builds a rule from admin-entered civil times. It returns
// a nil rule and nil error when nothing recurrence-related was supplied.
func MakeRecurrenceRule(freq Frequency, start, end *Civil, offset Offset) (*Rule, error) {
	if freq == FrequencyNone {
		if start != nil || end != nil {
			return nil, invalid("recurrence_frequency", "recurrence frequency required when recurrence fields are present")
		}
		return nil, nil
	}
	if start == nil {
		return nil, invalid("recurrence_start", "is required when a frequency is set")
	}
	if err := offset.Validate(); err != nil {
		return nil, err
	}

	startAt, err := ToInstant(*start, offset)
	if err != nil {
		return nil, WithField("recurrence_start", err)
	}

	var endAt *time.Time
	if end != nil {
		e, err := ToInstant(*end, offset)
		if err != nil {
			return nil, WithField("recurrence_end", err)
		}
		endAt = &e
	}

	r, err := NewRule(freq, startAt, endAt, offset)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r Rule) Frequency() Frequency { return r.freq }
func (r Rule) Start() time.Time     { return r.start }
func (r Rule) Offset() Offset       { return r.offset }

// End returns the inclusive end of the rule, if any.
func (r Rule) End() (time.Time, bool) {
	if r.end == nil {
		return time.Time{}, false
	}
	return *r.end, true
}

func (r Rule) IsDue(asOf time.Time) bool {
	return IsDue(r, asOf)
}

func (r Rule) NextOccurrence(after time.Time) (time.Time, bool) {
	return NextOccurrence(r, after)
}

type ruleJSON struct {
	Frequency   Frequency  `json:"frequency"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	OffsetHours int        `json:"offset_hours"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleJSON{
		Frequency:   r.freq,
		Start:       r.start,
		End:         r.end,
		OffsetHours: int(r.offset),
	})
}

// UnmarshalJSON re-validates, so a decoded Rule always satisfies NewRule.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewRule(raw.Frequency, raw.Start, raw.End, Offset(raw.OffsetHours))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
