package schedule

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinOffset Offset = -23
	MaxOffset Offset = 23

	// EasternStandard is the offset the portal is deployed with.
	EasternStandard Offset = -5

	civilDateLayout  = "2006-01-02"
	civilClockLayout = "15:04"
)

// Offset is a fixed UTC offset in whole hours, with no daylight-saving rules.
// A civil time at offset o corresponds to UTC = civil - o (EST is -5).
type Offset int

func (o Offset) Validate() error {
	if o < MinOffset || o > MaxOffset {
		return invalid("offset_hours", "must be within [%d, %d], got %d", MinOffset, MaxOffset, int(o))
	}
	return nil
}

func (o Offset) Location() *time.Location {
	return time.FixedZone(o.String(), int(o)*int(time.Hour/time.Second))
}

func (o Offset) String() string {
	sign := '+'
	hours := int(o)
	if hours < 0 {
		sign = '-'
		hours = -hours
	}
	return fmt.Sprintf("UTC%c%02d:00", sign, hours)
}

// Civil is a wall-clock date and time with no zone attached, as an admin
// types it into a form.
type Civil struct {
	Year   int        `json:"year"`
	Month  time.Month `json:"month"`
	Day    int        `json:"day"`
	Hour   int        `json:"hour"`
	Minute int        `json:"minute"`
}

func (c Civil) Validate() error {
	if c.Year < 1 || c.Year > 9999 {
		return invalid("date", "year %d out of range", c.Year)
	}
	if c.Month < time.January || c.Month > time.December {
		return invalid("date", "month %d out of range", int(c.Month))
	}
	if c.Day < 1 || c.Day > DaysIn(c.Year, c.Month) {
		return invalid("date", "%s %d has no day %d", c.Month, c.Year, c.Day)
	}
	if c.Hour < 0 || c.Hour > 23 {
		return invalid("time", "hour %d out of range", c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return invalid("time", "minute %d out of range", c.Minute)
	}
	return nil
}

// Date renders the civil date as YYYY-MM-DD.
func (c Civil) Date() string {
	return fmt.Sprintf("%04d-%02d-%02d", c.Year, int(c.Month), c.Day)
}

// Clock renders the civil time as 24-hour HH:MM.
func (c Civil) Clock() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Civil) String() string {
	return c.Date() + " " + c.Clock()
}

// ParseCivil parses the raw form values "YYYY-MM-DD" and "HH:MM". An empty
// clock means midnight.
func ParseCivil(date, clock string) (Civil, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return Civil{}, invalid("date", "is required")
	}

	d, err := time.Parse(civilDateLayout, date)
	if err != nil {
		// time.Parse rejects Feb 30 with a range error; report both cases alike.
		return Civil{}, invalid("date", "%q is not a valid YYYY-MM-DD date", date)
	}

	c := Civil{Year: d.Year(), Month: d.Month(), Day: d.Day()}
	if clock != "" {
		t, err := time.Parse(civilClockLayout, clock)
		if err != nil {
			return Civil{}, invalid("time", "%q is not a valid HH:MM time", clock)
		}
		c.Hour, c.Minute = t.Hour(), t.Minute()
	}
	return c, c.Validate()
}

// ParseOptionalCivil returns nil when both raw values are blank.
func ParseOptionalCivil(date, clock string) (*Civil, error) {
	if strings.TrimSpace(date) == "" && strings.TrimSpace(clock) == "" {
		return nil, nil
	}
	c, err := ParseCivil(date, clock)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ToInstant converts a civil time observed at offset o to a UTC instant.
// Hours pushed past midnight carry into the next calendar day, month and year.
func ToInstant(c Civil, o Offset) (time.Time, error) {
	if err := c.Validate(); err != nil {
		return time.Time{}, err
	}
	if err := o.Validate(); err != nil {
		return time.Time{}, err
	}
	return time.Date(c.Year, c.Month, c.Day, c.Hour, c.Minute, 0, 0, o.Location()).UTC(), nil
}

// ToCivil is the inverse of ToInstant. Seconds below the minute are dropped.
func ToCivil(t time.Time, o Offset) Civil {
	local := t.In(o.Location())
	return Civil{
		Year:   local.Year(),
		Month:  local.Month(),
		Day:    local.Day(),
		Hour:   local.Hour(),
		Minute: local.Minute(),
	}
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	// Day 0 of the following month normalises to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
