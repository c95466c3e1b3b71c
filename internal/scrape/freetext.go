package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"schedsync/internal/fetch"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
	"schedsync/internal/temporal"
)

var (
	// matchupRE finds "A vs. B". The second name stops at "on", "@", a
	// hyphen, a comma, a digit or the end of the text.
	matchupRE = regexp.MustCompile(`(?i)([A-Za-z][A-Za-z .'&]*?)\s+vs\.?\s+([A-Za-z][A-Za-z .'&]*?)\s*(?:\bon\b|@|-|,|\d|$)`)

	// meridiemRE matches an am/pm marker left in front of the home team on
	// single-line cards ("Tue Aug 12 9:50 PM Icecats vs ...").
	meridiemRE      = regexp.MustCompile(`(?i)^[ap]\.?m\.?(?:\s+|$)`)
	trailingDigitRE = regexp.MustCompile(`\d\s*$`)

	rinkRE = regexp.MustCompile(`(?i)\brink\s*#?\s*(\d+)`)

	// stopLabels are header words that look like team names in markup
	// noise ("Home vs Away").
	stopLabels = map[string]bool{
		"home":     true,
		"away":     true,
		"date":     true,
		"time":     true,
		"score":    true,
		"actions":  true,
		"rink":     true,
		"team":     true,
		"teams":    true,
		"visitor":  true,
		"opponent": true,
	}
)

// FreeText scrapes rendered single-page-app schedules where games appear as
// loose text ("Icecats vs. Ham Sub Club" / "Sat Mar 15" / "7:30 PM Rink 2").
type FreeText struct {
	fetcher fetch.Fetcher
	hosts   []string
}

// NewFreeText returns a free-text strategy claiming URLs that contain one
// of hosts.
func NewFreeText(f fetch.Fetcher, hosts ...string) *FreeText {
	if len(hosts) == 0 {
		hosts = []string{"rinksatharborcenter.com"}
	}
	return &FreeText{fetcher: f, hosts: hosts}
}

func (f *FreeText) Name() string { return "freetext" }

func (f *FreeText) CanHandle(url string) bool { return containsAny(url, f.hosts) }

func (f *FreeText) Scrape(ctx context.Context, url string, sc Context) ([]model.Event, error) {
	doc, err := f.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return f.Parse(doc, url, sc)
}

// Parse scans the document's text sequence one element at a time.
func (f *FreeText) Parse(doc []byte, url string, sc Context) ([]model.Event, error) {
	root, err := parseHTML(doc)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	texts := textSequence(root)
	norm := sc.normalizer()
	now := sc.now()

	var events []model.Event
	for i, text := range texts {
		home, away, ok := matchup(text)
		if !ok {
			continue
		}

		found, ok := findStart(norm, texts, i)
		if !ok {
			appLog.Debug("freetext: no date near matchup", "url", url, "text", text)
			continue
		}

		ev := sc.newEvent(home+" vs. "+away, found.Time, url)
		ev.Location = rinkLocation(sc.Venue, texts, i)
		events = append(events, ev)
	}

	return FutureOnly(events, now), nil
}

// matchup extracts both team names, rejecting header noise.
func matchup(text string) (string, string, bool) {
	idx := matchupRE.FindStringSubmatchIndex(text)
	if idx == nil {
		return "", "", false
	}
	home := strings.TrimSpace(text[idx[2]:idx[3]])
	away := strings.TrimSpace(text[idx[4]:idx[5]])
	// An am/pm right after a clock belongs to it, not the team.
	if trailingDigitRE.MatchString(text[:idx[2]]) {
		home = strings.TrimSpace(meridiemRE.ReplaceAllString(home, ""))
	}
	if home == "" || away == "" {
		return "", "", false
	}
	fold := cases.Fold()
	if stopLabels[fold.String(home)] || stopLabels[fold.String(away)] {
		return "", "", false
	}
	return home, away, true
}

// findStart tries the element's own text, then widens to one and two
// following texts. A window with an explicit time wins; otherwise the first
// window with a date is used with the default start clock.
func findStart(norm *temporal.Normalizer, texts []string, i int) (temporal.Result, bool) {
	var dateOnly *temporal.Result
	for width := 1; width <= 3 && i+width <= len(texts); width++ {
		window := strings.Join(texts[i:i+width], " ")
		r, err := norm.Extract(window)
		if err != nil {
			continue
		}
		if r.HasTime {
			return r, true
		}
		if dateOnly == nil {
			dateOnly = &r
		}
	}
	if dateOnly != nil {
		return *dateOnly, true
	}
	return temporal.Result{}, false
}

// rinkLocation looks for a rink number in the same or next text.
func rinkLocation(venue string, texts []string, i int) string {
	for j := i; j <= i+1 && j < len(texts); j++ {
		if m := rinkRE.FindStringSubmatch(texts[j]); m != nil {
			if venue == "" {
				return "Rink " + m[1]
			}
			return venue + " - Rink " + m[1]
		}
	}
	return venue
}
