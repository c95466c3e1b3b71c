// Package dedup collapses near-duplicate event candidates gathered from
// overlapping scrapes into one event per content key.
package dedup

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"schedsync/internal/model"
)

// key is the per-run identity of a candidate. It deliberately uses the
// normalized location rather than the fingerprint.
type key struct {
	summary  string
	start    string
	end      string
	location string
}

// Deduplicate keeps at most one event per (summary, start, end, normalized
// location). Later candidates overwrite earlier ones. The result is sorted by
// start, then summary, then location. A nil normalize is the identity.
//
// Returned events carry the normalized location.
func Deduplicate(events []model.Event, normalize func(string) string) []model.Event {
	if normalize == nil {
		normalize = func(s string) string { return s }
	}

	byKey := make(map[key]model.Event, len(events))
	for _, ev := range events {
		ev.Location = normalize(ev.Location)
		k := key{
			summary:  ev.Summary,
			start:    model.ISO(ev.Start),
			end:      model.ISO(ev.End),
			location: ev.Location,
		}
		byKey[k] = ev
	}

	out := make([]model.Event, 0, len(byKey))
	for _, ev := range byKey {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Summary != b.Summary {
			return a.Summary < b.Summary
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return model.ISO(a.End) < model.ISO(b.End)
	})
	return out
}

// VenueNormalizer returns a location normalizer that maps any location
// containing one of patterns (case-insensitively) to canonical. Other
// locations are returned trimmed. With no canonical venue it only trims.
func VenueNormalizer(canonical string, patterns ...string) func(string) string {
	fold := cases.Fold()
	folded := make([]string, 0, len(patterns)+1)
	for _, p := range append([]string{canonical}, patterns...) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		folded = append(folded, fold.String(p))
	}

	return func(loc string) string {
		loc = strings.TrimSpace(loc)
		if canonical == "" || loc == "" {
			return loc
		}
		l := fold.String(loc)
		for _, p := range folded {
			if strings.Contains(l, p) {
				return canonical
			}
		}
		return loc
	}
}
