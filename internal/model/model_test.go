package model_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"community-events/internal/model"
)

func TestStatusAt(t *testing.T) {
	start := time.Date(2030, 5, 1, 18, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	tests := []struct {
		name string
		end  *time.Time
		now  time.Time
		want model.Status
	}{
		{"before start", &end, start.Add(-time.Minute), model.StatusUpcoming},
		{"at start", &end, start, model.StatusLive},
		{"during", &end, start.Add(time.Hour), model.StatusLive},
		{"at end", &end, end, model.StatusEnded},
		{"no end, after start", nil, start.Add(48 * time.Hour), model.StatusLive},
		{"no end, before start", nil, start.Add(-time.Hour), model.StatusUpcoming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := model.Event{StartTime: start, EndTime: tt.end}
			if got := e.StatusAt(tt.now); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseInstant(t *testing.T) {
	want := time.Date(2030, 1, 2, 15, 4, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
	}{
		{"rfc3339 utc", "2030-01-02T15:04:00Z"},
		{"rfc3339 offset", "2030-01-02T17:04:00+02:00"},
		{"fractional", "2030-01-02T15:04:00.000Z"},
		{"datetime-local", "2030-01-02T15:04"},
		{"datetime-local seconds", "2030-01-02T15:04:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := model.ParseInstant(tt.in)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !got.Equal(want) || got.Location() != time.UTC {
				t.Errorf("expected %v, got %v", want, got)
			}
		})
	}

	if _, err := model.ParseInstant("next tuesday"); err == nil {
		t.Fatal("expected error for garbage instant")
	}
}

func TestEventListJSONRoundTrip(t *testing.T) {
	end := time.Date(2030, 3, 1, 20, 30, 0, 0, time.UTC)
	list := model.EventList{
		{
			ID: "a", Title: "Meetup", StartTime: end.Add(-time.Hour), EndTime: &end,
			Category: "Social", Creator: "alice", CreatedAt: time.Date(2029, 1, 1, 0, 0, 0, 123, time.UTC),
			RSVPs: []model.RSVP{{UserID: "bob", Timestamp: time.Date(2029, 2, 1, 0, 0, 0, 0, time.UTC)}},
		},
		{ID: "b", Title: "AMA", StartTime: end, Category: "Q&A", Creator: "carol", RSVPs: []model.RSVP{}},
	}

	data, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back model.EventList
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(list, back) {
		t.Errorf("round trip mismatch:\n%+v\n%+v", list, back)
	}
}

func TestCategoriesAndSort(t *testing.T) {
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	list := model.EventList{
		{ID: "1", Category: "Social", StartTime: base.Add(3 * time.Hour)},
		{ID: "2", Category: "Gaming", StartTime: base.Add(time.Hour)},
		{ID: "3", Category: "Social", StartTime: base.Add(2 * time.Hour)},
		{ID: "4", Category: "", StartTime: base},
	}

	if got := list.Categories(); !reflect.DeepEqual(got, []string{"Social", "Gaming"}) {
		t.Errorf("categories: got %v", got)
	}

	sorted := list.SortedByStart()
	var ids []string
	for _, e := range sorted {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []string{"4", "2", "3", "1"}) {
		t.Errorf("sort order: got %v", ids)
	}
	if list[0].ID != "1" {
		t.Error("SortedByStart mutated the receiver")
	}

	if got := list.FilterCategory("Social"); len(got) != 2 {
		t.Errorf("filter: expected 2, got %d", len(got))
	}
}

func TestCloneIsDeep(t *testing.T) {
	end := time.Now()
	e := model.Event{ID: "x", EndTime: &end, RSVPs: []model.RSVP{{UserID: "bob"}}}
	c := e.Clone()
	c.RSVPs[0].UserID = "mallory"
	*c.EndTime = end.Add(time.Hour)

	if e.RSVPs[0].UserID != "bob" {
		t.Error("rsvps shared between clone and original")
	}
	if !e.EndTime.Equal(end) {
		t.Error("end time shared between clone and original")
	}
}
