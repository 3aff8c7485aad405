package model

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Anonymous is the username used when the host cannot resolve the caller.
const Anonymous = "<anon>"

type RSVP struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Location    string     `json:"location"`
	Category    string     `json:"category"`
	Creator     string     `json:"creator"`
	RSVPs       []RSVP     `json:"rsvps"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// HasRSVP reports whether user already has an entry on the event.
func (e *Event) HasRSVP(user string) bool {
	for _, r := range e.RSVPs {
		if r.UserID == user {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching a cached list.
func (e Event) Clone() Event {
	if e.EndTime != nil {
		end := *e.EndTime
		e.EndTime = &end
	}
	rsvps := make([]RSVP, len(e.RSVPs))
	copy(rsvps, e.RSVPs)
	e.RSVPs = rsvps
	return e
}

// EventList is the per-post document. It is read and written as a whole.
type EventList []Event

func (l EventList) Find(id string) (int, bool) {
	for i := range l {
		if l[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (l EventList) Clone() EventList {
	out := make(EventList, len(l))
	for i := range l {
		out[i] = l[i].Clone()
	}
	return out
}

// Categories lists the distinct non-empty categories in first-seen order.
func (l EventList) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range l {
		if e.Category == "" || seen[e.Category] {
			continue
		}
		seen[e.Category] = true
		out = append(out, e.Category)
	}
	return out
}

// FilterCategory keeps events in category c; an empty c keeps everything.
func (l EventList) FilterCategory(c string) EventList {
	if c == "" {
		return l.Clone()
	}
	out := EventList{}
	for _, e := range l {
		if e.Category == c {
			out = append(out, e.Clone())
		}
	}
	return out
}

// SortedByStart returns a copy ordered by start time, stable on ties.
func (l EventList) SortedByStart() EventList {
	out := l.Clone()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Status is derived on every read and never persisted.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusLive     Status = "live"
	StatusEnded    Status = "ended"
)

func (e *Event) StatusAt(now time.Time) Status {
	if now.Before(e.StartTime) {
		return StatusUpcoming
	}
	if e.EndTime != nil && !now.Before(*e.EndTime) {
		return StatusEnded
	}
	return StatusLive
}

// Draft is a create request as typed into a form; times are unparsed.
type Draft struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	StartTime   string `json:"startTime" validate:"required"`
	EndTime     string `json:"endTime"`
	Location    string `json:"location"`
	Category    string `json:"category" validate:"required"`
}

// Normalize trims the free-form fields the way the form did.
func (d *Draft) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.StartTime = strings.TrimSpace(d.StartTime)
	d.EndTime = strings.TrimSpace(d.EndTime)
	d.Location = strings.TrimSpace(d.Location)
	d.Category = strings.TrimSpace(d.Category)
}

// Patch carries the editable fields of an event. Nil leaves a field alone;
// an empty EndTime clears it.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	StartTime   *string `json:"startTime,omitempty"`
	EndTime     *string `json:"endTime,omitempty"`
	Location    *string `json:"location,omitempty"`
	Category    *string `json:"category,omitempty"`
}

var ErrBadInstant = errors.New("not an ISO-8601 instant")

// datetime-local inputs send no zone; those are read as UTC
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseInstant parses s and normalizes it to UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrBadInstant
}
