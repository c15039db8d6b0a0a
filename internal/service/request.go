package service

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"gleeworld-hub/internal/schedule"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// AnnouncementRequest is the admin form as submitted. Dates are
// "YYYY-MM-DD" and times "HH:MM" in the deployment offset.
type AnnouncementRequest struct {
	Type                string `json:"type" validate:"omitempty,max=32"`
	Title               string `json:"title" validate:"notblank,max=200"`
	Content             string `json:"content" validate:"notblank,max=20000"`
	TargetAudience      string `json:"target_audience" validate:"omitempty,oneof=all members alumnae fans executive"`
	IsFeatured          bool   `json:"is_featured"`
	PublishNow          bool   `json:"publish_now"`
	PublishDate         string `json:"publish_date" validate:"max=10"`
	PublishTime         string `json:"publish_time" validate:"max=5"`
	ExpireDate          string `json:"expire_date" validate:"max=10"`
	ExpireTime          string `json:"expire_time" validate:"max=5"`
	RecurrenceFrequency string `json:"recurrence_frequency" validate:"max=16"`
	RecurrenceStartDate string `json:"recurrence_start_date" validate:"max=10"`
	RecurrenceStartTime string `json:"recurrence_start_time" validate:"max=5"`
	RecurrenceEndDate   string `json:"recurrence_end_date" validate:"max=10"`
	RecurrenceEndTime   string `json:"recurrence_end_time" validate:"max=5"`
}

func (r AnnouncementRequest) hasPublishFields() bool {
	return r.PublishNow || strings.TrimSpace(r.PublishDate) != "" || strings.TrimSpace(r.PublishTime) != ""
}

func (r AnnouncementRequest) hasRecurrenceFields() bool {
	for _, v := range []string{
		r.RecurrenceFrequency,
		r.RecurrenceStartDate,
		r.RecurrenceStartTime,
		r.RecurrenceEndDate,
		r.RecurrenceEndTime,
	} {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func (r AnnouncementRequest) hasTimingFields() bool {
	return r.hasPublishFields() || r.hasRecurrenceFields()
}

func validateRequest(req AnnouncementRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalidRequest(err)
	}
	fe := fieldErrs[0]
	return invalidRequest(&schedule.ValidationError{Field: fe.Field(), Reason: describeFieldError(fe)})
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}

// buildSchedule converts the civil form fields to a schedule record. now is
// used for publish_now. A request with no timing at all yields a Draft.
func buildSchedule(req AnnouncementRequest, offset schedule.Offset, now time.Time) (schedule.Record, error) {
	freq, err := schedule.ParseFrequency(req.RecurrenceFrequency)
	if err != nil {
		return schedule.Record{}, err
	}

	start, err := schedule.ParseOptionalCivil(req.RecurrenceStartDate, req.RecurrenceStartTime)
	if err != nil {
		return schedule.Record{}, schedule.WithField("recurrence_start", err)
	}
	end, err := schedule.ParseOptionalCivil(req.RecurrenceEndDate, req.RecurrenceEndTime)
	if err != nil {
		return schedule.Record{}, schedule.WithField("recurrence_end", err)
	}
	rule, err := schedule.MakeRecurrenceRule(freq, start, end, offset)
	if err != nil {
		return schedule.Record{}, err
	}

	publish, err := schedule.ParseOptionalCivil(req.PublishDate, req.PublishTime)
	if err != nil {
		return schedule.Record{}, schedule.WithField("publish_at", err)
	}
	expire, err := schedule.ParseOptionalCivil(req.ExpireDate, req.ExpireTime)
	if err != nil {
		return schedule.Record{}, schedule.WithField("expire_at", err)
	}

	var rec schedule.Record
	switch {
	case rule != nil:
		if req.hasPublishFields() {
			return schedule.Record{}, &schedule.ValidationError{
				Field:  "publish_at",
				Reason: "recurring announcements go live through their recurrence start",
			}
		}
		rec.Timing = *rule
	case req.PublishNow:
		if publish != nil {
			return schedule.Record{}, &schedule.ValidationError{
				Field:  "publish_at",
				Reason: "cannot combine publish_now with an explicit publish time",
			}
		}
		rec.Timing = schedule.OneOff{PublishAt: now}
	case publish != nil:
		at, err := schedule.ToInstant(*publish, offset)
		if err != nil {
			return schedule.Record{}, schedule.WithField("publish_at", err)
		}
		rec.Timing = schedule.OneOff{PublishAt: at}
	}

	if expire != nil {
		at, err := schedule.ToInstant(*expire, offset)
		if err != nil {
			return schedule.Record{}, schedule.WithField("expire_at", err)
		}
		rec.ExpireAt = &at
	}

	if err := rec.Validate(); err != nil {
		return schedule.Record{}, err
	}
	return rec, nil
}
