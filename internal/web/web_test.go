package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"community-events/internal/auth"
	"community-events/internal/identity"
	"community-events/internal/kv"
	"community-events/internal/model"
	"community-events/internal/protocol"
	"community-events/internal/session"
	"community-events/internal/store"
	"community-events/internal/web"
)

const secret = "test-secret"

var now = time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

func init() { gin.SetMode(gin.TestMode) }

func setup(t *testing.T, b kv.Backend) http.Handler {
	t.Helper()
	f := &session.Factory{
		Backend:  b,
		Identity: &identity.ContextProvider{Moderators: identity.NewStaticModerators("carol")},
	}
	return web.NewServer(f, web.Options{Secret: secret, Now: func() time.Time { return now }}).Handler()
}

// seed writes events straight through a store with a fixed clock.
func seed(t *testing.T, b kv.Backend, post string, drafts ...model.Draft) []model.Event {
	t.Helper()
	st := store.New(b, post, store.WithClock(func() time.Time { return now.Add(-72 * time.Hour) }))
	var out []model.Event
	for _, d := range drafts {
		e, _, err := st.Create(context.Background(), d, store.Actor{Username: "alice"})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func draft(title, category string, start time.Time, end *time.Time) model.Draft {
	d := model.Draft{Title: title, Category: category, StartTime: start.Format(time.RFC3339)}
	if end != nil {
		d.EndTime = end.Format(time.RFC3339)
	}
	return d
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	w := get(t, setup(t, kv.NewMemory()), "/health")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("unexpected health %d %s", w.Code, w.Body)
	}
}

type snapshot struct {
	Data struct {
		Post   string `json:"post"`
		Events []struct {
			ID     string       `json:"id"`
			Title  string       `json:"title"`
			Status model.Status `json:"status"`
		} `json:"events"`
		Categories []string `json:"categories"`
	} `json:"data"`
}

func TestListEvents(t *testing.T) {
	b := kv.NewMemory()
	endLive := now.Add(time.Hour)
	endPast := now.Add(-time.Hour)
	seed(t, b, "p1",
		draft("Later", "Social", now.Add(24*time.Hour), nil),
		draft("Happening", "Sports", now.Add(-time.Hour), &endLive),
		draft("Over", "Social", now.Add(-2*time.Hour), &endPast),
	)
	h := setup(t, b)

	tests := []struct {
		name   string
		path   string
		titles []string
		status []model.Status
	}{
		{"all sorted by start", "/posts/p1/events", []string{"Over", "Happening", "Later"},
			[]model.Status{model.StatusEnded, model.StatusLive, model.StatusUpcoming}},
		{"category filter", "/posts/p1/events?category=Social", []string{"Over", "Later"},
			[]model.Status{model.StatusEnded, model.StatusUpcoming}},
		{"unknown category", "/posts/p1/events?category=Music", []string{}, []model.Status{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := get(t, h, tc.path)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body)
			}
			var got snapshot
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got.Data.Events) != len(tc.titles) {
				t.Fatalf("got %d events, want %d", len(got.Data.Events), len(tc.titles))
			}
			for i, e := range got.Data.Events {
				if e.Title != tc.titles[i] || e.Status != tc.status[i] {
					t.Errorf("event %d = %s/%s, want %s/%s", i, e.Title, e.Status, tc.titles[i], tc.status[i])
				}
			}
			if strings.Join(got.Data.Categories, ",") != "Social,Sports" {
				t.Errorf("categories = %v", got.Data.Categories)
			}
		})
	}
}

func TestListEventsEmptyPost(t *testing.T) {
	w := get(t, setup(t, kv.NewMemory()), "/posts/nothing/events")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"events":[]`) || !strings.Contains(w.Body.String(), `"categories":[]`) {
		t.Errorf("expected empty arrays, got %s", w.Body)
	}
}

type brokenBackend struct{}

func (brokenBackend) Get(context.Context, string) (kv.Entry, error) {
	return kv.Entry{}, errors.New("connection refused")
}

func (brokenBackend) Set(context.Context, string, string, int64) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestListEventsUnavailable(t *testing.T) {
	w := get(t, setup(t, brokenBackend{}), "/posts/p1/events")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "refused") {
		t.Errorf("backend detail leaked: %s", w.Body)
	}
}

func TestBadTokenRefused(t *testing.T) {
	h := setup(t, kv.NewMemory())
	req := httptest.NewRequest(http.MethodGet, "/posts/p1/events", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestExportICS(t *testing.T) {
	b := kv.NewMemory()
	end := now.Add(26 * time.Hour)
	events := seed(t, b, "p1",
		draft("Picnic", "Social", now.Add(24*time.Hour), &end),
		draft("Match", "Sports", now.Add(48*time.Hour), nil),
	)

	w := get(t, setup(t, b), "/posts/p1/events.ics?category=Social")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"SUMMARY:Picnic",
		"UID:" + events[0].ID + "@p1",
		"DTSTART:20300602T120000Z",
		"DTEND:20300602T140000Z",
		"CATEGORIES:Social",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("calendar missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "Match") {
		t.Errorf("category filter ignored:\n%s", body)
	}
}

func dial(t *testing.T, srv *httptest.Server, path, username string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	if username != "" {
		tok, err := auth.MakeToken(username, secret, time.Minute)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		url += "?token=" + tok
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, req protocol.Request) protocol.RawResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := protocol.Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp protocol.RawResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestWebsocketSession(t *testing.T) {
	srv := httptest.NewServer(setup(t, kv.NewMemory()))
	defer srv.Close()

	conn := dial(t, srv, "/posts/p1/session", "alice")

	resp := exchange(t, conn, protocol.Request{Type: protocol.Ready})
	var init protocol.InitialStateData
	if err := json.Unmarshal(resp.Data, &init); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Type != protocol.InitialState || init.Username != "alice" {
		t.Fatalf("unexpected %s %+v", resp.Type, init)
	}

	start := time.Now().Add(24 * time.Hour).UTC()
	resp = exchange(t, conn, protocol.Request{Type: protocol.Create, Draft: draft("Quiz", "Social", start, nil)})
	if resp.Type != protocol.Created {
		t.Fatalf("expected created, got %s: %s", resp.Type, resp.Data)
	}
	var created protocol.CreatedData
	if err := json.Unmarshal(resp.Data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp = exchange(t, conn, protocol.Request{Type: protocol.ToggleRSVP, EventID: created.Event.ID})
	if resp.Type != protocol.RSVPChanged {
		t.Errorf("expected rsvpChanged, got %s", resp.Type)
	}

	// the snapshot endpoint sees what the session wrote
	w := get(t, srv.Config.Handler, "/posts/p1/events")
	if !strings.Contains(w.Body.String(), created.Event.ID) {
		t.Errorf("snapshot missing created event: %s", w.Body)
	}
}

func TestWebsocketAnonymous(t *testing.T) {
	srv := httptest.NewServer(setup(t, kv.NewMemory()))
	defer srv.Close()

	conn := dial(t, srv, "/posts/p1/session", "")
	resp := exchange(t, conn, protocol.Request{Type: protocol.Ready})
	var init protocol.InitialStateData
	if err := json.Unmarshal(resp.Data, &init); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if init.Username != model.Anonymous {
		t.Errorf("username = %q", init.Username)
	}
}
