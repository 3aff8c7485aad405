package store

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"community-events/internal/model"
)

// validate is shared by every store; it caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names so rejections match what the display surface sent
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// schedule is the validated time window of an event.
type schedule struct {
	start time.Time
	end   *time.Time
}

// checkDraft validates d; requireFuture controls the start-in-future rule.
func (s *EventStore) checkDraft(d model.Draft, now time.Time, requireFuture bool) (schedule, error) {
	verr := &ValidationError{}

	if err := validate.Struct(d); err != nil {
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) {
			return schedule{}, err
		}
		for _, f := range fields {
			verr.add(f.Field(), "is required")
		}
	}

	var sc schedule
	if !verr.has("startTime") {
		start, err := model.ParseInstant(d.StartTime)
		switch {
		case err != nil:
			verr.add("startTime", "is not an ISO-8601 instant")
		case requireFuture && !start.After(now):
			verr.add("startTime", "must be in the future")
		}
		sc.start = start
	}

	if d.EndTime != "" {
		end, err := model.ParseInstant(d.EndTime)
		switch {
		case err != nil:
			verr.add("endTime", "is not an ISO-8601 instant")
		case !verr.has("startTime") && !end.After(sc.start):
			verr.add("endTime", "must be after startTime")
		}
		sc.end = &end
	}

	return sc, verr.orNil()
}

// startMoved reports whether d schedules a start other than current. The edit
// form resends an unchanged start, which must not trip the future rule.
func startMoved(d model.Draft, current time.Time) bool {
	start, err := model.ParseInstant(d.StartTime)
	return err != nil || !start.Equal(current)
}

// patched overlays p onto the editable fields of e, as a draft.
func patched(e model.Event, p model.Patch) model.Draft {
	d := model.Draft{
		Title:       e.Title,
		Description: e.Description,
		StartTime:   e.StartTime.Format(time.RFC3339Nano),
		Location:    e.Location,
		Category:    e.Category,
	}
	if e.EndTime != nil {
		d.EndTime = e.EndTime.Format(time.RFC3339Nano)
	}

	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&d.Title, p.Title)
	set(&d.Description, p.Description)
	set(&d.StartTime, p.StartTime)
	set(&d.EndTime, p.EndTime)
	set(&d.Location, p.Location)
	set(&d.Category, p.Category)

	d.Normalize()
	return d
}
