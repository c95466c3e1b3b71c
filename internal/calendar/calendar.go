// Package calendar defines the remote calendar capability used by the sync
// pass and provides an iCalendar builder plus a directory-backed calendar.
package calendar

import (
	"context"
	"errors"
	"time"

	ical "github.com/arran4/golang-ical"

	"schedsync/internal/model"
)

// ErrConflict reports that an event with the same deterministic ID already
// exists on the target. Callers treat it as "already synced".
var ErrConflict = errors.New("calendar: event already exists")

// ExistsWindow is the padding applied around an event when probing for an
// equivalent remote event.
const ExistsWindow = 15 * time.Minute

// DefaultProdID identifies generated feeds.
const DefaultProdID = "-//schedsync//Schedule Feeds//EN"

// Calendar is the remote calendar capability.
type Calendar interface {
	// Exists looks for an equivalent event on targetID around ev's time
	// window and returns its link when found.
	Exists(ctx context.Context, targetID string, ev model.Event) (link string, found bool, err error)

	// Insert creates ev on targetID using its fingerprint as ID. It fails
	// with ErrConflict when that ID is already present.
	Insert(ctx context.Context, targetID string, ev model.Event, attendees []string) (link string, err error)
}

// Options describes calendar-level metadata of a generated feed.
type Options struct {
	Name     string
	Timezone string
	ProdID   string
	// Now stamps DTSTAMP; nil means time.Now.
	Now func() time.Time
}

// BuildICS renders events as an iCalendar document. Timestamps are written
// in UTC and each event's UID is its fingerprint.
func BuildICS(events []model.Event, opt Options) []byte {
	cal := newCalendar(opt)
	now := time.Now
	if opt.Now != nil {
		now = opt.Now
	}
	stamp := now()
	for _, ev := range events {
		addEvent(cal, ev, stamp, nil)
	}
	return []byte(cal.Serialize())
}

func newCalendar(opt Options) *ical.Calendar {
	cal := ical.NewCalendar()
	prod := opt.ProdID
	if prod == "" {
		prod = DefaultProdID
	}
	cal.SetProductId(prod)
	cal.SetMethod(ical.MethodPublish)
	if opt.Name != "" {
		cal.SetXWRCalName(opt.Name)
	}
	if opt.Timezone != "" {
		cal.SetXWRTimezone(opt.Timezone)
	}
	return cal
}

func addEvent(cal *ical.Calendar, ev model.Event, stamp time.Time, attendees []string) *ical.VEvent {
	ve := cal.AddEvent(ev.Fingerprint())
	ve.SetDtStampTime(stamp.UTC())
	ve.SetStartAt(ev.Start.UTC())
	ve.SetEndAt(ev.End.UTC())
	ve.SetSummary(ev.Summary)
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	if ev.SourceURL != "" {
		ve.SetURL(ev.SourceURL)
	}
	for _, a := range attendees {
		ve.AddAttendee(a)
	}
	return ve
}
