package scrape

import (
	"context"
	"testing"
	"time"

	"schedsync/internal/fetch"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func testContext(t *testing.T, now time.Time, team string) Context {
	return Context{
		Location:        now.Location(),
		TeamName:        team,
		Venue:           "LECOM Harborcenter",
		DefaultDuration: 75 * time.Minute,
		Now:             func() time.Time { return now },
	}
}

func static(doc string) fetch.Fetcher {
	return fetch.Func(func(context.Context, string) ([]byte, error) { return []byte(doc), nil })
}

const scenarioTable = `
<table>
  <tr><th>Date</th><th>Status</th><th>Opponent</th><th>Location</th></tr>
  <tr><td>03/10/2025</td><td>7:30 PM</td><td>@ Ham Sub Club</td><td>Rink 2</td></tr>
</table>`

func TestTabularScenario(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, loc)
	url := "https://eriemetrosports.com/team/icecats/schedule"

	s := NewTabular(static(scenarioTable))
	events, err := s.Scrape(context.Background(), url, testContext(t, now, "Icecats"))
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}

	ev := events[0]
	if ev.Summary != "Icecats vs. Ham Sub Club" {
		t.Fatalf("summary = %q", ev.Summary)
	}
	wantStart := time.Date(2025, 3, 10, 19, 30, 0, 0, loc)
	if !ev.Start.Equal(wantStart) || ev.Start.Location() != loc {
		t.Fatalf("start = %v, want %v", ev.Start, wantStart)
	}
	if !ev.End.Equal(wantStart.Add(75 * time.Minute)) {
		t.Fatalf("end = %v", ev.End)
	}
	if ev.Location != "Rink 2" {
		t.Fatalf("location = %q", ev.Location)
	}
	if ev.Timezone != "America/New_York" {
		t.Fatalf("timezone = %q", ev.Timezone)
	}
	if ev.SourceURL != url || ev.Description != "Auto-imported from "+url {
		t.Fatalf("provenance = %q / %q", ev.SourceURL, ev.Description)
	}
}

const mixedTable = `
<html><body>
<table>
  <thead><tr><th>Opponent</th><th>Game Location</th><th>Game Date</th><th>Status / Time</th></tr></thead>
  <tbody>
    <tr><td>@ Ham Sub Club</td><td>Rink 2</td><td>03/10/2025</td><td>7:30 PM EDT</td></tr>
    <tr><td>Yetis</td><td>Rink 1</td><td>03/05/2025</td><td>FINAL 3-2</td></tr>
    <tr><td>Blades</td><td>Rink 1</td><td>02/20/2025</td><td>8:00 PM</td></tr>
    <tr><td>Polar Bears</td><td>Rink 3</td><td>TBD</td><td>TBD</td></tr>
    <tr><td>Moose</td><td>Rink 4</td><td>03/22/2025</td><td></td></tr>
    <tr></tr>
  </tbody>
</table>
</body></html>`

func TestTabularHeaderRolesAndSkips(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, loc)

	events, err := NewTabular(nil).Parse([]byte(mixedTable), "https://eriemetrosports.com/x", testContext(t, now, "Icecats"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}

	if events[0].Summary != "Icecats vs. Ham Sub Club" || events[0].Location != "Rink 2" {
		t.Fatalf("first = %+v", events[0])
	}
	if want := time.Date(2025, 3, 10, 19, 30, 0, 0, loc); !events[0].Start.Equal(want) {
		t.Fatalf("first start = %v", events[0].Start)
	}

	// Empty status and no other time token: default 21:00 start.
	if events[1].Summary != "Icecats vs. Moose" {
		t.Fatalf("second summary = %q", events[1].Summary)
	}
	if want := time.Date(2025, 3, 22, 21, 0, 0, 0, loc); !events[1].Start.Equal(want) {
		t.Fatalf("second start = %v, want %v", events[1].Start, want)
	}
}

func TestTabularGenericSummaryWithoutTeam(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, loc)

	events, err := NewTabular(nil).Parse([]byte(scenarioTable), "https://eriemetrosports.com/x", testContext(t, now, ""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 || events[0].Summary != "Hockey: @ Ham Sub Club" {
		t.Fatalf("events = %+v", events)
	}
}

func TestTabularPastAndNoTable(t *testing.T) {
	loc := newYork(t)
	after := time.Date(2025, 3, 10, 19, 30, 1, 0, loc)

	events, err := NewTabular(nil).Parse([]byte(scenarioTable), "u", testContext(t, after, "Icecats"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("past game kept: %+v", events)
	}

	events, err = NewTabular(nil).Parse([]byte("<p>No games scheduled</p>"), "u", testContext(t, after, "Icecats"))
	if err != nil || len(events) != 0 {
		t.Fatalf("no-table doc = %+v, %v", events, err)
	}
}

func TestTabularCanHandle(t *testing.T) {
	s := NewTabular(nil)
	if !s.CanHandle("https://www.eriemetrosports.com/schedule") {
		t.Fatalf("should claim eriemetrosports")
	}
	if s.CanHandle("https://rinksatharborcenter.com/") {
		t.Fatalf("should not claim harborcenter")
	}
	custom := NewTabular(nil, "league.example.org")
	if !custom.CanHandle("https://league.example.org/t/1") || custom.CanHandle("https://eriemetrosports.com") {
		t.Fatalf("custom hosts not honored")
	}
}
