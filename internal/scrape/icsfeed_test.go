package scrape

import (
	"strings"
	"testing"
	"time"
)

const feedFixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//league//schedule//EN
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20250101T000000Z
DTSTART;TZID=America/New_York:20250303T200000
DTEND;TZID=America/New_York:20250303T211500
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE;TZID=America/New_York:20250317T200000
SUMMARY:Icecats Practice
LOCATION:Rink 1
END:VEVENT
BEGIN:VEVENT
UID:single-1
DTSTAMP:20250101T000000Z
DTSTART:20250312T233000Z
SUMMARY:Icecats vs. Yetis
END:VEVENT
BEGIN:VEVENT
UID:cancelled-1
DTSTAMP:20250101T000000Z
DTSTART:20250313T233000Z
STATUS:CANCELLED
SUMMARY:Icecats vs. Moose
END:VEVENT
END:VCALENDAR
`

func TestICSFeedParse(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, loc)
	body := strings.ReplaceAll(feedFixture, "\n", "\r\n")

	events, err := NewICSFeed(nil).Parse([]byte(body), "https://league.example.org/icecats.ics", testContext(t, now, "Icecats"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}

	starts := map[string][]time.Time{}
	for _, ev := range events {
		starts[ev.Summary] = append(starts[ev.Summary], ev.Start)
		if ev.Start.Location() != loc {
			t.Fatalf("event %q not in target zone: %v", ev.Summary, ev.Start.Location())
		}
		if !ev.End.After(ev.Start) {
			t.Fatalf("event %q has no positive duration", ev.Summary)
		}
	}

	practice := starts["Icecats Practice"]
	if len(practice) != 2 {
		t.Fatalf("practice occurrences = %v", practice)
	}
	if !practice[0].Equal(time.Date(2025, 3, 10, 20, 0, 0, 0, loc)) || !practice[1].Equal(time.Date(2025, 3, 24, 20, 0, 0, 0, loc)) {
		t.Fatalf("practice occurrences = %v", practice)
	}

	game := starts["Icecats vs. Yetis"]
	if len(game) != 1 || !game[0].Equal(time.Date(2025, 3, 12, 19, 30, 0, 0, loc)) {
		t.Fatalf("game = %v", game)
	}
	for _, ev := range events {
		if ev.Summary == "Icecats vs. Yetis" && ev.End.Sub(ev.Start) != 75*time.Minute {
			t.Fatalf("missing DTEND should default to 75m, got %v", ev.End.Sub(ev.Start))
		}
	}
}

func TestICSFeedCanHandle(t *testing.T) {
	s := NewICSFeed(nil)
	for _, u := range []string{"https://x.org/team.ics", "https://x.org/TEAM.ICS?token=1", "webcal://x.org/feed"} {
		if !s.CanHandle(u) {
			t.Fatalf("should claim %q", u)
		}
	}
	for _, u := range []string{"https://x.org/schedule", "https://x.org/ics/page"} {
		if s.CanHandle(u) {
			t.Fatalf("should not claim %q", u)
		}
	}
}
