package scrape

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"

	"schedsync/internal/fetch"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
)

// Tabular scrapes league pages that publish the schedule as an HTML table
// with a header row (Date | Time/Status | Opponent | Location ...).
type Tabular struct {
	fetcher fetch.Fetcher
	hosts   []string
}

// NewTabular returns a tabular strategy claiming URLs that contain one of
// hosts.
func NewTabular(f fetch.Fetcher, hosts ...string) *Tabular {
	if len(hosts) == 0 {
		hosts = []string{"eriemetrosports.com"}
	}
	return &Tabular{fetcher: f, hosts: hosts}
}

func (t *Tabular) Name() string { return "tabular" }

func (t *Tabular) CanHandle(url string) bool { return containsAny(url, t.hosts) }

func (t *Tabular) Scrape(ctx context.Context, url string, sc Context) ([]model.Event, error) {
	doc, err := t.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return t.Parse(doc, url, sc)
}

// columns holds the resolved index of each role, -1 when absent.
type columns struct {
	date, opponent, location, status int
}

func resolveColumns(header []string) columns {
	fold := cases.Fold()
	folded := make([]string, len(header))
	for i, h := range header {
		folded[i] = fold.String(h)
	}
	idx := func(name string) int {
		for i, h := range folded {
			if strings.Contains(h, name) {
				return i
			}
		}
		return -1
	}
	return columns{
		date:     idx("date"),
		opponent: idx("opponent"),
		location: idx("location"),
		status:   idx("status"),
	}
}

// Parse extracts future events from the first table of doc.
func (t *Tabular) Parse(doc []byte, url string, sc Context) ([]model.Event, error) {
	root, err := parseHTML(doc)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := findFirst(root, atom.Table)
	if table == nil {
		appLog.Warn("tabular: no table found", "url", url)
		return nil, nil
	}
	rows := findAll(table, atom.Tr)
	if len(rows) == 0 {
		return nil, nil
	}

	cols := resolveColumns(cells(rows[0], atom.Th, atom.Td))
	norm := sc.normalizer()
	now := sc.now()
	fold := cases.Fold()

	events := make([]model.Event, 0, len(rows)-1)
	for i, tr := range rows[1:] {
		row := cells(tr, atom.Td)
		if len(row) == 0 {
			continue
		}

		dateText, ok := cell(row, cols.date, 0)
		if !ok {
			continue
		}

		statusText, _ := cell(row, cols.status, -1)
		if strings.Contains(fold.String(statusText), "final") {
			// Completed game.
			continue
		}

		timeText := ""
		if len(row) > 1 {
			timeText = statusText
			if timeText == "" {
				timeText = row[1]
			}
		}

		start, err := norm.Parse(strings.TrimSpace(dateText + " " + timeText))
		if err != nil {
			// The time cell may carry noise the date cell alone does not.
			start, err = norm.Parse(dateText)
			if err != nil {
				appLog.Debug("tabular: skipping unparseable row", "url", url, "row", i+1, "text", dateText)
				continue
			}
		}

		opponent, ok := cell(row, cols.opponent, -1)
		if !ok {
			opponent = "Opponent"
		}
		location, _ := cell(row, cols.location, -1)

		ev := sc.newEvent(tabularSummary(sc.TeamName, opponent), start, url)
		ev.Location = location
		events = append(events, ev)
	}

	return FutureOnly(events, now), nil
}

// tabularSummary composes "{team} vs. {opponent}". Without a known team the
// raw opponent text is kept under a generic "Hockey:" prefix so downstream
// consumers can tell context was missing.
func tabularSummary(team, opponent string) string {
	if team == "" {
		return "Hockey: " + opponent
	}
	opp := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(opponent), "@"))
	return team + " vs. " + opp
}

// cell returns row[idx], or row[fallback] when idx is unresolved. A negative
// fallback means no fallback.
func cell(row []string, idx, fallback int) (string, bool) {
	if idx < 0 {
		idx = fallback
	}
	if idx < 0 || idx >= len(row) {
		return "", false
	}
	return row[idx], true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
