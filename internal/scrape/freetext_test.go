package scrape

import (
	"testing"
	"time"
)

const spaFixture = `
<html><head><title>Icecats vs. Everyone 2025</title><script>var x = "A vs. B 3/3 7pm";</script></head>
<body>
  <div class="header"><span>Home vs Away</span><span>Date</span><span>Rink</span></div>
  <div class="game">
    <div class="teams">Icecats vs. Ham Sub Club</div>
    <div class="when">Sat Mar 15</div>
    <div class="time">7:30 PM</div>
  </div>
  <div class="game">
    <div class="teams">Polar Bears vs. Icecats on Sun Mar 16 9:15 PM</div>
    <div class="rink">Rink 3</div>
  </div>
  <div class="game"><div>Blades vs. Icecats</div><div>Mar 1 6:00 PM</div></div>
  <div class="game"><div>Home vs Away</div><div>Mar 30 6:00 PM</div></div>
  <ul><li>Yetis vs. <b>Icecats</b> - Mar 20</li></ul>
</body></html>`

func TestFreeTextParse(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, loc)
	url := "https://rinksatharborcenter.com/schedule"

	events, err := NewFreeText(nil).Parse([]byte(spaFixture), url, testContext(t, now, "Icecats"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	type want struct {
		summary  string
		start    time.Time
		location string
	}
	wants := []want{
		{"Icecats vs. Ham Sub Club", time.Date(2025, 3, 15, 19, 30, 0, 0, loc), "LECOM Harborcenter"},
		{"Polar Bears vs. Icecats", time.Date(2025, 3, 16, 21, 15, 0, 0, loc), "LECOM Harborcenter - Rink 3"},
		{"Yetis vs. Icecats", time.Date(2025, 3, 20, 21, 0, 0, 0, loc), "LECOM Harborcenter"},
	}
	if len(events) != len(wants) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wants), events)
	}
	for i, w := range wants {
		ev := events[i]
		if ev.Summary != w.summary {
			t.Fatalf("event %d summary = %q, want %q", i, ev.Summary, w.summary)
		}
		if !ev.Start.Equal(w.start) {
			t.Fatalf("event %d start = %v, want %v", i, ev.Start, w.start)
		}
		if ev.Location != w.location {
			t.Fatalf("event %d location = %q, want %q", i, ev.Location, w.location)
		}
		if got := ev.End.Sub(ev.Start); got != 75*time.Minute {
			t.Fatalf("event %d duration = %v", i, got)
		}
		if ev.SourceURL != url {
			t.Fatalf("event %d source = %q", i, ev.SourceURL)
		}
	}
}

func TestFreeTextSingleLineCard(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, loc)
	doc := `<html><body><div>Tue Mar 18 9:50 PM Icecats vs. Ham Sub Club @ Rink 2</div></body></html>`

	events, err := NewFreeText(nil).Parse([]byte(doc), "https://rinksatharborcenter.com/s", testContext(t, now, "Icecats"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	ev := events[0]
	if ev.Summary != "Icecats vs. Ham Sub Club" {
		t.Fatalf("summary = %q", ev.Summary)
	}
	if want := time.Date(2025, 3, 18, 21, 50, 0, 0, loc); !ev.Start.Equal(want) {
		t.Fatalf("start = %v, want %v", ev.Start, want)
	}
	if ev.Location != "LECOM Harborcenter - Rink 2" {
		t.Fatalf("location = %q", ev.Location)
	}
}

func TestMatchup(t *testing.T) {
	cases := []struct {
		in         string
		home, away string
		ok         bool
	}{
		{"Icecats vs. Ham Sub Club", "Icecats", "Ham Sub Club", true},
		{"Icecats VS Yetis on Friday", "Icecats", "Yetis", true},
		{"Game: Icecats vs Yetis @ Rink 2", "Icecats", "Yetis", true},
		{"Icecats vs. Yetis, 7pm", "Icecats", "Yetis", true},
		{"Icecats vs. Yetis 7:30", "Icecats", "Yetis", true},
		{"Tue Mar 18 9:50 PM Icecats vs. Ham Sub Club @ Rink 2", "Icecats", "Ham Sub Club", true},
		{"Sat Mar 15 7:30pm Icecats vs Yetis", "Icecats", "Yetis", true},
		{"3/15 7:30 p.m. Sun Devils vs. Icecats", "Sun Devils", "Icecats", true},
		{"Sun Devils vs. Icecats", "Sun Devils", "Icecats", true},
		{"Tue Mar 18 9:50 PM vs Yetis", "", "", false},
		{"Home vs Away", "", "", false},
		{"Icecats vs. Score", "", "", false},
		{"Icecats versus Yetis", "", "", false},
		{"no separator here", "", "", false},
	}
	for _, c := range cases {
		home, away, ok := matchup(c.in)
		if ok != c.ok || home != c.home || away != c.away {
			t.Fatalf("matchup(%q) = %q, %q, %v; want %q, %q, %v", c.in, home, away, ok, c.home, c.away, c.ok)
		}
	}
}

func TestRinkLocation(t *testing.T) {
	texts := []string{"A vs. B", "Rink #4", "Rink 5"}
	if got := rinkLocation("Arena", texts, 0); got != "Arena - Rink 4" {
		t.Fatalf("next-node rink = %q", got)
	}
	if got := rinkLocation("", texts, 1); got != "Rink 4" {
		t.Fatalf("bare rink = %q", got)
	}
	if got := rinkLocation("Arena", []string{"A vs. B", "x", "Rink 9"}, 0); got != "Arena" {
		t.Fatalf("rink two nodes away should not be used: %q", got)
	}
}

func TestTextSequenceFlattensOnce(t *testing.T) {
	root, err := parseHTML([]byte(`<div>outer <span>inner <b>bold</b></span><script>x</script></div>`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := textSequence(root)
	want := []string{"outer", "inner bold"}
	if len(got) != len(want) {
		t.Fatalf("sequence = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence = %q, want %q", got, want)
		}
	}
}
