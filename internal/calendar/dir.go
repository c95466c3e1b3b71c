package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"

	"schedsync/internal/atomicfile"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._@-]+`)

// DirCalendar stores one iCalendar file per target under a directory. Each
// target file can be subscribed to directly by calendar clients.
type DirCalendar struct {
	dir    string
	window time.Duration
	now    func() time.Time

	mu sync.Mutex
}

// NewDirCalendar returns a calendar rooted at dir.
func NewDirCalendar(dir string) *DirCalendar {
	return &DirCalendar{dir: dir, window: ExistsWindow, now: time.Now}
}

// Path returns the file backing targetID.
func (c *DirCalendar) Path(targetID string) string {
	name := unsafeName.ReplaceAllString(targetID, "_")
	if name == "" || strings.Trim(name, ".") == "" {
		name = "_"
	}
	return filepath.Join(c.dir, name+".ics")
}

func (c *DirCalendar) link(targetID, uid string) string {
	p := c.Path(targetID)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return "file://" + filepath.ToSlash(p) + "#" + uid
}

// load reads the target file. A missing file is an empty calendar.
func (c *DirCalendar) load(targetID string) (*ical.Calendar, error) {
	data, err := os.ReadFile(c.Path(targetID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newCalendar(Options{Name: targetID}), nil
		}
		return nil, err
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.Path(targetID), err)
	}
	return cal, nil
}

// Exists reports an event as present when its UID equals ev's fingerprint,
// or when an event in the probe window has the same summary
// (case-insensitive) and mentions ev's source URL.
func (c *DirCalendar) Exists(ctx context.Context, targetID string, ev model.Event) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, err := c.load(targetID)
	if err != nil {
		return "", false, err
	}

	fp := ev.Fingerprint()
	lo, hi := ev.Window(c.window)
	summary := strings.ToLower(strings.TrimSpace(ev.Summary))
	source := strings.ToLower(ev.SourceURL)

	for _, ve := range cal.Events() {
		uid := ve.Id()
		if uid == fp {
			return c.link(targetID, uid), true, nil
		}
		if source == "" {
			continue
		}
		start, err := ve.GetStartAt()
		if err != nil || start.Before(lo) || start.After(hi) {
			continue
		}
		if strings.ToLower(strings.TrimSpace(propText(ve, ical.ComponentPropertySummary))) != summary {
			continue
		}
		desc := strings.ToLower(propText(ve, ical.ComponentPropertyDescription))
		url := strings.ToLower(propText(ve, ical.ComponentPropertyUrl))
		if strings.Contains(desc, source) || strings.Contains(url, source) {
			return c.link(targetID, uid), true, nil
		}
	}
	return "", false, nil
}

// Insert appends ev to the target file and rewrites it atomically.
func (c *DirCalendar) Insert(ctx context.Context, targetID string, ev model.Event, attendees []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, err := c.load(targetID)
	if err != nil {
		return "", err
	}

	fp := ev.Fingerprint()
	for _, ve := range cal.Events() {
		if ve.Id() == fp {
			return "", fmt.Errorf("%w: %s on %s", ErrConflict, fp, targetID)
		}
	}

	addEvent(cal, ev, c.now(), attendees)
	if err := atomicfile.Write(c.Path(targetID), []byte(cal.Serialize()), 0o644); err != nil {
		return "", fmt.Errorf("write calendar %s: %w", targetID, err)
	}

	appLog.Debug("calendar event written", "target", targetID, "uid", fp)
	return c.link(targetID, fp), nil
}

func propText(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}
