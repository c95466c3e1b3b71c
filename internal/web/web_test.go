package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"schedsync/internal/config"
	"schedsync/internal/model"
	"schedsync/internal/syncer"
)

type fakePipeline struct {
	cfg        *config.Config
	events     []model.Event
	eventsErr  error
	eventCalls int
	runErr     error
	runCtxErr  error
}

func (f *fakePipeline) Config() *config.Config { return f.cfg }

func (f *fakePipeline) Events(context.Context) ([]model.Event, error) {
	f.eventCalls++
	return f.events, f.eventsErr
}

func (f *fakePipeline) Run(ctx context.Context) (syncer.Report, error) {
	f.runCtxErr = ctx.Err()
	return syncer.Report{
		RunID:   "run-1",
		Events:  1,
		Results: []syncer.Result{{Outcome: syncer.Inserted}, {Outcome: syncer.SkippedSeen}},
	}, f.runErr
}

func newPipeline(t *testing.T) *fakePipeline {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.FeedsDir = t.TempDir()
	cfg.Teams = []config.Team{{ID: "icecats", Name: "Icecats"}, {ID: "yetis", Name: "Yetis"}}

	ev := model.New("Icecats vs. Yetis", time.Date(2025, 3, 10, 19, 30, 0, 0, time.UTC), time.Time{}, "UTC", 75*time.Minute)
	ev.SourceURL = "https://eriemetrosports.com/x"
	return &fakePipeline{cfg: cfg, events: []model.Event{ev}}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealth(t *testing.T) {
	rr := get(t, NewServer(newPipeline(t)).Handler(), "/health")
	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rr.Code, rr.Body.String())
	}
}

func TestEventsCached(t *testing.T) {
	p := newPipeline(t)
	h := NewServer(p).Handler()

	rr := get(t, h, "/api/events")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var resp eventsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].UID != p.events[0].Fingerprint() {
		t.Fatalf("events = %+v", resp.Events)
	}

	get(t, h, "/api/events")
	if p.eventCalls != 1 {
		t.Fatalf("cache bypassed: %d calls", p.eventCalls)
	}
}

func TestEventsError(t *testing.T) {
	p := newPipeline(t)
	p.eventsErr = errors.New("all sources down")
	if rr := get(t, NewServer(p).Handler(), "/api/events"); rr.Code != http.StatusBadGateway {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestFeedServing(t *testing.T) {
	p := newPipeline(t)
	h := NewServer(p).Handler()

	if rr := get(t, h, "/feeds/icecats.ics"); rr.Code != http.StatusNotFound {
		t.Fatalf("missing feed code = %d", rr.Code)
	}

	body := "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	if err := os.WriteFile(filepath.Join(p.cfg.FeedsDir, "icecats.ics"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rr := get(t, h, "/feeds/icecats.ics")
	if rr.Code != http.StatusOK || rr.Body.String() != body {
		t.Fatalf("feed = %d %q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}

	if rr := get(t, h, "/feeds/unknown.ics"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown team code = %d", rr.Code)
	}
}

func TestIndexListsTeams(t *testing.T) {
	rr := get(t, NewServer(newPipeline(t)).Handler(), "/")
	body := rr.Body.String()
	for _, want := range []string{
		`<a href="/feeds/icecats.ics">Subscribe to Icecats</a>`,
		`<a href="/feeds/yetis.ics">Subscribe to Yetis</a>`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("index missing %q:\n%s", want, body)
		}
	}
}

func TestSync(t *testing.T) {
	p := newPipeline(t)
	h := NewServer(p).Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var resp syncResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != "run-1" || resp.Inserted != 1 || resp.Seen != 1 {
		t.Fatalf("resp = %+v", resp)
	}

	p.runErr = errors.New("persist ledger: disk full")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("failing run code = %d", rr.Code)
	}
}

func TestSyncOutlivesClientDisconnect(t *testing.T) {
	p := newPipeline(t)
	h := NewServer(p).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync", nil).WithContext(ctx))
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	if p.runCtxErr != nil {
		t.Fatalf("pass saw cancelled context: %v", p.runCtxErr)
	}
}

func TestBasicAuth(t *testing.T) {
	p := newPipeline(t)
	p.cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	h := NewServer(p).Handler()

	if rr := get(t, h, "/health"); rr.Code != http.StatusOK {
		t.Fatalf("health should stay open: %d", rr.Code)
	}
	if rr := get(t, h, "/"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("index without auth = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("index with auth = %d", rr.Code)
	}
}
