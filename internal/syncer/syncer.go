// Package syncer runs sync passes: collect events from every configured
// source, then insert the ones each recipient has not seen yet.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"schedsync/internal/calendar"
	"schedsync/internal/config"
	"schedsync/internal/dedup"
	"schedsync/internal/ledger"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
	"schedsync/internal/notify"
	"schedsync/internal/scrape"
)

// Outcome is the terminal state of one (recipient, event) pair.
type Outcome int

const (
	SkippedSeen Outcome = iota
	SkippedExists
	Inserted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case SkippedSeen:
		return "skipped-seen"
	case SkippedExists:
		return "skipped-exists"
	case Inserted:
		return "inserted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result records what happened to one event for one recipient.
type Result struct {
	Recipient model.Recipient
	Target    string
	Event     model.Event
	Outcome   Outcome
	Link      string
	Err       error
}

// Report summarizes a pass.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	// Events is the number of deduplicated future events collected.
	Events int
	// SourceErrors holds per-URL failures; they never abort a pass.
	SourceErrors []error
	Results      []Result
}

// Count returns how many results ended in o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Syncer owns the dependencies of a pass. Passes are serialized.
type Syncer struct {
	registry *scrape.Registry
	calendar calendar.Calendar
	notifier notify.Notifier
	store    ledger.Store

	cfg atomic.Pointer[config.Config]
	now func() time.Time

	runMu sync.Mutex
}

// New returns a Syncer. A nil notifier logs notifications instead.
func New(cfg *config.Config, reg *scrape.Registry, cal calendar.Calendar, n notify.Notifier, store ledger.Store) *Syncer {
	if n == nil {
		n = notify.LogOnly{}
	}
	s := &Syncer{
		registry: reg,
		calendar: cal,
		notifier: n,
		store:    store,
		now:      time.Now,
	}
	s.cfg.Store(cfg)
	return s
}

// SetConfig swaps the configuration used by subsequent passes.
func (s *Syncer) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// Config returns the configuration currently in use.
func (s *Syncer) Config() *config.Config {
	return s.cfg.Load()
}

// SetClock overrides the time source; used by tests.
func (s *Syncer) SetClock(now func() time.Time) {
	s.now = now
}

// scrapeContext derives the strategy context from config.
func (s *Syncer) scrapeContext(cfg *config.Config, team string) scrape.Context {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
		loc = time.Local
	}
	clock, err := cfg.DefaultStartClock()
	if err != nil {
		appLog.Error("invalid default_start; using 21:00", err, "value", cfg.DefaultStart)
		clock = scrape.DefaultStartClock
	}
	return scrape.Context{
		Location:          loc,
		Timezone:          cfg.Timezone,
		TeamName:          team,
		Venue:             cfg.Venue.Name,
		DefaultDuration:   cfg.DefaultDuration(),
		DefaultStart:      clock,
		RolloverThreshold: cfg.RolloverThreshold(),
		Horizon:           cfg.Horizon(),
		Now:               s.now,
	}
}

// collect scrapes urls with sc, drops past events and deduplicates.
func (s *Syncer) collect(ctx context.Context, cfg *config.Config, groups []urlGroup) ([]model.Event, []error) {
	var (
		all  []model.Event
		errs []error
	)
	for _, g := range groups {
		sc := s.scrapeContext(cfg, g.team)
		events, es := s.registry.Collect(ctx, g.urls, sc)
		all = append(all, events...)
		errs = append(errs, es...)
	}
	all = scrape.FutureOnly(all, s.now())
	return dedup.Deduplicate(all, dedup.VenueNormalizer(cfg.Venue.Name, cfg.Venue.Patterns...)), errs
}

type urlGroup struct {
	team string
	urls []string
}

// allSources returns the global URLs followed by every team's URLs.
func allSources(cfg *config.Config) []urlGroup {
	groups := []urlGroup{{urls: cfg.URLs}}
	for _, t := range cfg.Teams {
		groups = append(groups, urlGroup{team: t.Name, urls: t.URLs})
	}
	return groups
}

// Events collects the deduplicated future events of every configured source
// without touching calendars or the ledger.
func (s *Syncer) Events(ctx context.Context) ([]model.Event, error) {
	cfg := s.Config()
	events, errs := s.collect(ctx, cfg, allSources(cfg))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return events, nil
}

// route resolves where a recipient's events go. Recipients without their
// own calendar share the default calendar and are invited as attendees.
func route(cfg *config.Config, r model.Recipient, shared []string) (target string, attendees []string) {
	if r.CalendarID != "" {
		return r.CalendarID, nil
	}
	if cfg.Calendar.DefaultID == "" {
		return "", nil
	}
	return cfg.Calendar.DefaultID, shared
}

// sharedAttendees lists the emails of recipients routed to the default
// calendar so the first insert invites all of them.
func sharedAttendees(rs []model.Recipient) []string {
	var out []string
	for _, r := range rs {
		if r.CalendarID == "" && r.Email != "" {
			out = append(out, r.Email)
		}
	}
	return out
}

// Run executes one sync pass.
//
// The ledger is persisted once at the end, even when some sources failed.
// A pass aborted through ctx returns early and leaves the ledger untouched.
func (s *Syncer) Run(ctx context.Context) (Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	cfg := s.Config()
	rep := Report{RunID: uuid.NewString(), Started: s.now()}
	appLog.Info("sync pass starting", "run_id", rep.RunID, "recipients", len(cfg.Recipients))

	l := ledger.Open(ctx, s.store)

	events, errs := s.collect(ctx, cfg, allSources(cfg))
	rep.Events = len(events)
	rep.SourceErrors = errs
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	recipients := cfg.RecipientList()
	shared := sharedAttendees(recipients)
	insertedOn := make(map[string][]Result)

	for _, r := range recipients {
		target, attendees := route(cfg, r, shared)
		if target == "" {
			appLog.Warn("recipient has no calendar target; skipping",
				"run_id", rep.RunID, "recipient", r.Name)
			continue
		}
		key := r.Key()
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			res := s.syncOne(ctx, l, rep.RunID, r, key, target, ev, attendees)
			rep.Results = append(rep.Results, res)
			if res.Outcome == Inserted {
				insertedOn[target] = append(insertedOn[target], res)
			}
		}
	}

	s.notifyRecipients(ctx, cfg, recipients, shared, insertedOn)

	rep.Finished = s.now()
	appLog.Info("sync pass finished",
		"run_id", rep.RunID,
		"events", rep.Events,
		"inserted", rep.Count(Inserted),
		"exists", rep.Count(SkippedExists),
		"seen", rep.Count(SkippedSeen),
		"failed", rep.Count(Failed),
		"source_errors", len(rep.SourceErrors),
	)

	if err := s.store.Save(ctx, l); err != nil {
		appLog.Error("failed to persist ledger", err, "run_id", rep.RunID)
		return rep, fmt.Errorf("persist ledger: %w", err)
	}
	return rep, nil
}

// syncOne drives the per-pair state machine.
func (s *Syncer) syncOne(ctx context.Context, l *ledger.Ledger, runID string, r model.Recipient, key, target string, ev model.Event, attendees []string) Result {
	fp := ev.Fingerprint()
	res := Result{Recipient: r, Target: target, Event: ev}

	if l.HasSeen(key, fp) {
		res.Outcome = SkippedSeen
		return res
	}

	link, found, err := s.calendar.Exists(ctx, target, ev)
	if err != nil {
		// A failed probe is not proof of absence; the insert's conflict
		// signal still guards against duplicates.
		appLog.Warn("existence check failed", "run_id", runID, "target", target, "uid", fp, "error", err.Error())
	} else if found {
		l.MarkSeen(key, fp)
		res.Outcome, res.Link = SkippedExists, link
		appLog.Debug("event exists remotely", "run_id", runID, "target", target, "uid", fp)
		return res
	}

	link, err = s.calendar.Insert(ctx, target, ev, attendees)
	switch {
	case err == nil:
		l.MarkSeen(key, fp)
		res.Outcome, res.Link = Inserted, link
		appLog.Info("event inserted", "run_id", runID, "target", target, "summary", ev.Summary, "start", model.ISO(ev.Start))
	case errors.Is(err, calendar.ErrConflict):
		l.MarkSeen(key, fp)
		res.Outcome = SkippedExists
		appLog.Info("event already exists (conflict)", "run_id", runID, "target", target, "uid", fp)
	default:
		res.Outcome, res.Err = Failed, err
		appLog.Error("failed to insert event", err, "run_id", runID, "target", target, "uid", fp)
	}
	return res
}

// notifyRecipients sends one personal message per recipient whose target got
// new events, then one summary of every insert.
func (s *Syncer) notifyRecipients(ctx context.Context, cfg *config.Config, recipients []model.Recipient, shared []string, insertedOn map[string][]Result) {
	var all []Result
	for _, r := range recipients {
		target, _ := route(cfg, r, shared)
		results := insertedOn[target]
		if target == "" || len(results) == 0 || r.Email == "" {
			continue
		}
		subject := fmt.Sprintf("%d new game(s) added to your calendar", len(results))
		notify.Send(ctx, s.notifier, []string{r.Email}, subject, describe(results))
	}
	for _, t := range sortedTargets(insertedOn) {
		all = append(all, insertedOn[t]...)
	}
	if len(all) == 0 {
		return
	}
	subject := fmt.Sprintf("Schedule sync: %d new event(s)", len(all))
	notify.Send(ctx, s.notifier, cfg.Notify.SummaryTo, subject, describe(all))
}

func describe(results []Result) string {
	var b strings.Builder
	for _, res := range results {
		ev := res.Event
		fmt.Fprintf(&b, "- %s | %s", ev.Summary, ev.Start.Format("Mon Jan 2 2006 3:04 PM MST"))
		if ev.Location != "" {
			b.WriteString(" | " + ev.Location)
		}
		if res.Target != "" {
			b.WriteString(" | calendar " + res.Target)
		}
		if res.Link != "" {
			b.WriteString(" | " + res.Link)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
