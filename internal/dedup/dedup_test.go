package dedup

import (
	"testing"
	"time"

	"schedsync/internal/model"
)

func ev(summary string, start time.Time, loc, desc string) model.Event {
	e := model.New(summary, start, time.Time{}, "UTC", 75*time.Minute)
	e.Location = loc
	e.Description = desc
	return e
}

func TestDeduplicateLastSeenWins(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 19, 30, 0, 0, time.UTC)
	norm := VenueNormalizer("LECOM Harborcenter", "harborcenter")

	in := []model.Event{
		ev("Icecats vs. Yetis", t0, "LECOM Harborcenter Rink 2", "first"),
		ev("Icecats vs. Yetis", t0, "lecom harborcenter", "second"),
		ev("Icecats vs. Moose", t0.Add(-24*time.Hour), "Other Arena", "only"),
	}
	out := Deduplicate(in, norm)
	if len(out) != 2 {
		t.Fatalf("got %d events: %+v", len(out), out)
	}
	if out[0].Summary != "Icecats vs. Moose" {
		t.Fatalf("not sorted by start: %+v", out)
	}
	if out[1].Description != "second" {
		t.Fatalf("later candidate should win, got %q", out[1].Description)
	}
	if out[1].Location != "LECOM Harborcenter" {
		t.Fatalf("location not normalized: %q", out[1].Location)
	}
}

func TestDeduplicateKeepsDistinctEnds(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 19, 30, 0, 0, time.UTC)
	a := ev("Game", t0, "Rink", "")
	b := a
	b.End = b.End.Add(15 * time.Minute)

	if out := Deduplicate([]model.Event{a, b}, nil); len(out) != 2 {
		t.Fatalf("different ends collapsed: %+v", out)
	}
}

func TestDeduplicateTieBreakOrder(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 19, 30, 0, 0, time.UTC)
	out := Deduplicate([]model.Event{
		ev("B", t0, "x", ""),
		ev("A", t0, "z", ""),
		ev("A", t0, "y", ""),
	}, nil)
	got := []string{out[0].Summary + out[0].Location, out[1].Summary + out[1].Location, out[2].Summary + out[2].Location}
	want := []string{"Ay", "Az", "Bx"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDeduplicateIdempotent(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 19, 30, 0, 0, time.UTC)
	norm := VenueNormalizer("LECOM Harborcenter", "harborcenter")
	in := []model.Event{
		ev("C", t0.Add(time.Hour), "Harborcenter - Rink 1", ""),
		ev("A", t0, "Rink 2", ""),
		ev("C", t0.Add(time.Hour), "LECOM HARBORCENTER", ""),
		ev("B", t0, "", ""),
	}
	once := Deduplicate(in, norm)
	twice := Deduplicate(once, norm)
	if len(once) != len(twice) {
		t.Fatalf("len %d != %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Fingerprint() != twice[i].Fingerprint() {
			t.Fatalf("index %d changed: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestVenueNormalizer(t *testing.T) {
	norm := VenueNormalizer("LECOM Harborcenter", "harborcenter", "HarborCentre")
	cases := map[string]string{
		"LECOM Harborcenter - Rink 3": "LECOM Harborcenter",
		"  HARBORCENTRE rink 1 ":      "LECOM Harborcenter",
		"  Rink 2 ":                   "Rink 2",
		"":                            "",
	}
	for in, want := range cases {
		if got := norm(in); got != want {
			t.Fatalf("norm(%q) = %q, want %q", in, got, want)
		}
	}

	if got := VenueNormalizer("")("  Arena "); got != "Arena" {
		t.Fatalf("empty canonical should only trim, got %q", got)
	}
}
