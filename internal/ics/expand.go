package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "schedsync/internal/log"
	"schedsync/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the timezone all events are converted into.
	// If nil, time.Local is used.
	Location *time.Location

	// Timezone is the name recorded on events. Empty means Location's name.
	Timezone string

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// DefaultDuration is applied to timed events without DTEND.
	DefaultDuration time.Duration

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed VEVENTs into concrete events within the configured
// range. It handles single events, RRULE recurrence, EXDATE removal and
// RECURRENCE-ID overrides. Cancelled events are dropped.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.Event, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = model.DefaultDuration
	}

	// Group base events and overrides by UID.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	var order []string

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	out := make([]model.Event, 0)
	for _, uid := range order {
		ov := overridesByUID[uid]
		for _, ev := range baseByUID[uid] {
			var occ []model.Event
			if ev.RawRRule == "" {
				occ = expandSingle(ev, ov, cfg)
			} else {
				var hitCap bool
				occ, hitCap = expandRecurring(ev, ov, cfg)
				if hitCap {
					appLog.Warn("expand: truncated occurrences for UID due to cap",
						"uid", uid,
						"cap", cfg.MaxOccurrencesPerEvent,
					)
				}
			}
			out = append(out, occ...)
		}
	}
	return out, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	start, end := ev.Start, endOf(ev, cfg)
	if o, ok := findOverrideForStart(overrides, start); ok {
		ev = o
		start, end = o.Start, endOf(o, cfg)
	}
	if ev.Cancelled || !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Event{toEvent(ev, start, end, cfg)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	out := make([]model.Event, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := endOf(ev, cfg).Sub(ev.Start)
	occTimes := set.Between(cfg.RangeStart.In(ev.Start.Location()).Add(-dur), cfg.RangeEnd.In(ev.Start.Location()), true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		start, end, base := occStart, occStart.Add(dur), ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			start, end, base = o.Start, endOf(o, cfg), o
		}
		if base.Cancelled || !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, toEvent(base, start, end, cfg))
	}
	return out, hitCap
}

// endOf returns DTEND, or a default end for events without one.
func endOf(ev ParsedEvent, cfg ExpandConfig) time.Time {
	if !ev.End.IsZero() && ev.End.After(ev.Start) {
		return ev.End
	}
	if ev.AllDay {
		return ev.Start.AddDate(0, 0, 1)
	}
	return ev.Start.Add(cfg.DefaultDuration)
}

// findOverrideForStart finds an override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func toEvent(ev ParsedEvent, start, end time.Time, cfg ExpandConfig) model.Event {
	out := model.New(ev.Summary, start.In(cfg.Location), end.In(cfg.Location), cfg.timezone(), cfg.DefaultDuration)
	out.Location = ev.Location
	out.Description = ev.Description
	out.SourceURL = ev.SourceURL
	return out
}

func (c ExpandConfig) timezone() string {
	if c.Timezone != "" {
		return c.Timezone
	}
	return c.Location.String()
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
