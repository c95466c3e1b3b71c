// Package scrape turns raw schedule documents into Event candidates.
//
// Each strategy claims URLs through CanHandle; a Registry tries strategies in
// a fixed priority order and the first claimant scrapes the URL. Strategies
// split their work into fetching (Scrape) and pure document parsing (Parse)
// so parsing can be exercised with fixture documents.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "schedsync/internal/log"
	"schedsync/internal/model"
	"schedsync/internal/temporal"
)

// ErrSourceUnavailable wraps fetch or parse failures for a single URL.
var ErrSourceUnavailable = errors.New("source unavailable")

// DefaultStartClock is the local start time assumed for date-only rows.
var DefaultStartClock = temporal.Clock{Hour: 21}

// Scraper is one extraction strategy.
type Scraper interface {
	Name() string
	CanHandle(url string) bool
	Scrape(ctx context.Context, url string, sc Context) ([]model.Event, error)
}

// Context carries everything a strategy needs besides the document.
type Context struct {
	// Location is the civil timezone events are expressed in.
	Location *time.Location

	// Timezone is the IANA name recorded on events. Empty means
	// Location's name.
	Timezone string

	// TeamName, when known, is used to compose summaries.
	TeamName string

	// Venue is the canonical venue name for sources that only name rinks.
	Venue string

	// DefaultDuration is applied when a source has no end time.
	DefaultDuration time.Duration

	// DefaultStart is assumed when a source gives a date without a time.
	// The zero value means DefaultStartClock.
	DefaultStart temporal.Clock

	// RolloverThreshold tunes year-rollover correction.
	RolloverThreshold time.Duration

	// Horizon bounds expansion of recurring events (ICS feeds).
	Horizon time.Duration

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// now returns the current instant in the context's timezone.
func (c Context) now() time.Time {
	n := time.Now
	if c.Now != nil {
		n = c.Now
	}
	return n().In(c.location())
}

func (c Context) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

func (c Context) timezone() string {
	if c.Timezone != "" {
		return c.Timezone
	}
	return c.location().String()
}

func (c Context) duration() time.Duration {
	if c.DefaultDuration <= 0 {
		return model.DefaultDuration
	}
	return c.DefaultDuration
}

func (c Context) normalizer() *temporal.Normalizer {
	clock := c.DefaultStart
	if clock == (temporal.Clock{}) {
		clock = DefaultStartClock
	}
	n := temporal.New(c.location(), c.RolloverThreshold).WithDefaultClock(clock)
	n.Now = c.Now
	return n
}

func (c Context) newEvent(summary string, start time.Time, url string) model.Event {
	ev := model.New(summary, start, time.Time{}, c.timezone(), c.duration())
	ev.SourceURL = url
	ev.Description = "Auto-imported from " + url
	return ev
}

// FutureOnly drops events that start before now. There is no grace window.
func FutureOnly(events []model.Event, now time.Time) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Start.Before(now) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Registry selects strategies by first-match in registration order.
type Registry struct {
	scrapers []Scraper
}

// NewRegistry returns a Registry that tries scrapers in the given order.
func NewRegistry(scrapers ...Scraper) *Registry {
	return &Registry{scrapers: scrapers}
}

// For returns the first scraper that claims url.
func (r *Registry) For(url string) (Scraper, bool) {
	for _, s := range r.scrapers {
		if s.CanHandle(url) {
			return s, true
		}
	}
	return nil, false
}

// Collect scrapes each URL with its claiming strategy. Unclaimed URLs and
// per-URL failures are logged and reported in the returned errors; they never
// stop the remaining URLs from being processed.
func (r *Registry) Collect(ctx context.Context, urls []string, sc Context) ([]model.Event, []error) {
	var (
		events []model.Event
		errs   []error
	)
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		s, ok := r.For(url)
		if !ok {
			appLog.Warn("no scraper available for url", "url", url)
			errs = append(errs, fmt.Errorf("%w: no scraper claims %s", ErrSourceUnavailable, url))
			continue
		}

		appLog.Info("scraping", "url", url, "scraper", s.Name(), "team", sc.TeamName)
		found, err := s.Scrape(ctx, url, sc)
		if err != nil {
			appLog.Error("failed to scrape", err, "url", url, "scraper", s.Name())
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, url, err))
			continue
		}
		appLog.Info("scraped", "url", url, "scraper", s.Name(), "events", len(found))
		events = append(events, found...)
	}
	return events, errs
}
