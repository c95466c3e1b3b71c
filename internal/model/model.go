package model

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultDuration is used when a source gives a start time but no end.
const DefaultDuration = 75 * time.Minute

// fingerprintPrefix keeps IDs valid for calendar APIs that require the
// first character to be a letter.
const fingerprintPrefix = "evt_"

// Event is the canonical record every source parser produces.
type Event struct {
	Summary string

	// Start / End carry the event's civil timezone in their Location.
	Start time.Time
	End   time.Time

	// Timezone is the IANA name of the civil zone (e.g. "America/New_York").
	Timezone string

	Location    string
	Description string

	// SourceURL is the page the event was scraped from. Part of identity.
	SourceURL string
}

// New builds an Event, inferring the end from defaultDur when end is zero
// or not after start.
func New(summary string, start, end time.Time, tz string, defaultDur time.Duration) Event {
	ev := Event{
		Summary:  summary,
		Start:    start,
		End:      end,
		Timezone: tz,
	}
	ev.Normalize(defaultDur)
	return ev
}

// Normalize enforces Start < End. A zero, equal or inverted end is replaced
// with Start + defaultDur.
func (e *Event) Normalize(defaultDur time.Duration) {
	if defaultDur <= 0 {
		defaultDur = DefaultDuration
	}
	if e.End.IsZero() || !e.End.After(e.Start) {
		e.End = e.Start.Add(defaultDur)
	}
}

// Fingerprint returns the deterministic identity of the event, derived from
// source URL, start, end, summary and location. Any change to one of those
// fields yields a different fingerprint.
func (e Event) Fingerprint() string {
	base := strings.Join([]string{
		e.SourceURL,
		ISO(e.Start),
		ISO(e.End),
		e.Summary,
		e.Location,
	}, "|")
	sum := sha1.Sum([]byte(base))
	return fingerprintPrefix + hex.EncodeToString(sum[:])[:40]
}

// Window returns [Start-pad, End+pad], the range used for remote
// existence probes.
func (e Event) Window(pad time.Duration) (time.Time, time.Time) {
	return e.Start.Add(-pad), e.End.Add(pad)
}

// ISO formats t with seconds and a numeric UTC offset. Fractional seconds
// appear only when non-zero.
func ISO(t time.Time) string {
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02T15:04:05.000000-07:00")
	}
	return t.Format("2006-01-02T15:04:05-07:00")
}

// Recipient is a sync target: someone whose calendar receives events.
type Recipient struct {
	Name       string
	Email      string
	CalendarID string
}

// Key returns the ledger partition key for the recipient: calendar ID,
// else email, else display name.
func (r Recipient) Key() string {
	switch {
	case r.CalendarID != "":
		return r.CalendarID
	case r.Email != "":
		return r.Email
	default:
		return r.Name
	}
}
