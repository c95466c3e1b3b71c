package scrape

import (
	"context"
	"net/url"
	"strings"
	"time"

	"schedsync/internal/fetch"
	"schedsync/internal/ics"
	"schedsync/internal/model"
)

const defaultHorizon = 180 * 24 * time.Hour

// ICSFeed consumes schedules that are already published as iCalendar
// feeds. No heuristics are involved: VEVENTs are parsed and recurring ones
// expanded between now and the context horizon.
type ICSFeed struct {
	fetcher fetch.Fetcher
}

func NewICSFeed(f fetch.Fetcher) *ICSFeed {
	return &ICSFeed{fetcher: f}
}

func (s *ICSFeed) Name() string { return "ics" }

func (s *ICSFeed) CanHandle(raw string) bool {
	if strings.HasPrefix(strings.ToLower(raw), "webcal://") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".ics")
}

func (s *ICSFeed) Scrape(ctx context.Context, raw string, sc Context) ([]model.Event, error) {
	target := raw
	if strings.HasPrefix(strings.ToLower(raw), "webcal://") {
		target = "https://" + raw[len("webcal://"):]
	}
	body, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return s.Parse(body, raw, sc)
}

// Parse expands the feed into future events in the context timezone.
func (s *ICSFeed) Parse(body []byte, raw string, sc Context) ([]model.Event, error) {
	loc := sc.location()
	parsed, err := ics.Parse(raw, body, loc)
	if err != nil {
		return nil, err
	}

	horizon := sc.Horizon
	if horizon <= 0 {
		horizon = defaultHorizon
	}
	now := sc.now()

	events, err := ics.Expand(parsed, ics.ExpandConfig{
		Location:        loc,
		Timezone:        sc.timezone(),
		RangeStart:      now,
		RangeEnd:        now.Add(horizon),
		DefaultDuration: sc.duration(),
	})
	if err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].Description == "" {
			events[i].Description = "Auto-imported from " + raw
		}
	}
	return FutureOnly(events, now), nil
}
