// Package temporal turns free-text date/time fragments scraped from schedule
// pages into timezone-aware timestamps.
//
// Parsing is lenient: the first recognizable date token and the first
// recognizable time token are used and everything else in the fragment is
// ignored. When the fragment carries no year, a rollover heuristic decides
// between this year and next.
package temporal

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultRolloverThreshold is how far in the past a year-less date may fall
// before it is assumed to belong to next year.
const DefaultRolloverThreshold = 180 * 24 * time.Hour

// ErrNoDate is returned when no date token can be recovered from a fragment.
var ErrNoDate = errors.New("temporal: no date found")

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, err
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Normalizer parses fragments into Location.
type Normalizer struct {
	// Location is the civil timezone results are expressed in.
	Location *time.Location

	// RolloverThreshold; zero means DefaultRolloverThreshold.
	RolloverThreshold time.Duration

	// DefaultClock is used when a fragment has a date but no time.
	// Nil means midnight.
	DefaultClock *Clock

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// New returns a Normalizer for loc with the given rollover threshold.
func New(loc *time.Location, threshold time.Duration) *Normalizer {
	return &Normalizer{Location: loc, RolloverThreshold: threshold}
}

// WithDefaultClock returns a copy of n that falls back to c when a fragment
// has no time token.
func (n *Normalizer) WithDefaultClock(c Clock) *Normalizer {
	cp := *n
	cp.DefaultClock = &c
	return &cp
}

// Result is a parsed fragment.
type Result struct {
	Time time.Time
	// HasTime reports whether the fragment carried an explicit time of day.
	HasTime bool
	// HasYear reports whether the fragment carried an explicit year.
	HasYear bool
	// Rolled reports whether year-rollover correction was applied.
	Rolled bool
}

// Parse returns the timestamp found in text, or ErrNoDate.
func (n *Normalizer) Parse(text string) (time.Time, error) {
	r, err := n.Extract(text)
	if err != nil {
		return time.Time{}, err
	}
	return r.Time, nil
}

// Extract is Parse with details about what the fragment contained.
func (n *Normalizer) Extract(text string) (Result, error) {
	loc := n.location()
	now := n.now().In(loc)

	d, ok := findDate(text)
	if !ok {
		return Result{}, ErrNoDate
	}

	c, hasTime := findClock(text)
	if d.hasClock {
		c, hasTime = d.clock, true
	}
	if !hasTime && n.DefaultClock != nil {
		c = *n.DefaultClock
	}

	res := Result{HasTime: hasTime, HasYear: d.hasYear}

	year := d.year
	if !d.hasYear {
		year = now.Year()
	}

	zone := loc
	if d.offset != nil {
		zone = time.FixedZone("", *d.offset)
	}
	build := func(y int) (time.Time, bool) {
		t := time.Date(y, time.Month(d.month), d.day, c.Hour, c.Minute, d.second, 0, zone)
		// Reject impossible dates such as 2/30 rather than silently
		// normalizing them into the next month.
		if t.Month() != time.Month(d.month) || t.Day() != d.day {
			return time.Time{}, false
		}
		return t.In(loc), true
	}

	t, valid := build(year)
	if !valid {
		return Result{}, ErrNoDate
	}

	if !d.hasYear && now.Sub(t) > n.threshold() {
		if next, ok := build(year + 1); ok && next.After(now) {
			t = next
			res.Rolled = true
		}
	}

	res.Time = t
	return res, nil
}

// Localize interprets the wall clock of t (ignoring its zone) in Location.
func (n *Normalizer) Localize(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), n.location())
}

// Convert expresses an already-zoned t in Location.
func (n *Normalizer) Convert(t time.Time) time.Time {
	return t.In(n.location())
}

func (n *Normalizer) location() *time.Location {
	if n.Location == nil {
		return time.Local
	}
	return n.Location
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Normalizer) threshold() time.Duration {
	if n.RolloverThreshold <= 0 {
		return DefaultRolloverThreshold
	}
	return n.RolloverThreshold
}

type dateToken struct {
	year, month, day int
	hasYear          bool

	// ISO timestamps carry their own time and, optionally, offset.
	hasClock bool
	clock    Clock
	second   int
	offset   *int
}

const monthAlt = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?`

var (
	isoRE       = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ](\d{1,2}):(\d{2})(?::(\d{2}))?(?:\.\d+)?(Z|[+-]\d{2}:?\d{2})?)?`)
	numericRE   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	monthDayRE  = regexp.MustCompile(`(?i)\b` + monthAlt + `\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4})\b)?`)
	dayMonthRE  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthAlt + `(?:\s+|\b)(?:,?\s*(\d{4})\b)?`)
	clock12RE   = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?(?:\s?m\.?)?\b`)
	clock24RE   = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	monthLookup = map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}
)

// findDate returns the left-most date token in text.
func findDate(text string) (dateToken, bool) {
	type candidate struct {
		pos int
		tok dateToken
	}
	var best *candidate
	consider := func(pos int, tok dateToken) {
		if best == nil || pos < best.pos {
			best = &candidate{pos: pos, tok: tok}
		}
	}

	if m := isoRE.FindStringSubmatchIndex(text); m != nil {
		s := submatches(text, m)
		tok := dateToken{year: atoi(s[1]), month: atoi(s[2]), day: atoi(s[3]), hasYear: true}
		if s[4] != "" {
			tok.hasClock = true
			tok.clock = Clock{Hour: atoi(s[4]), Minute: atoi(s[5])}
			tok.second = atoi(s[6])
			if s[7] != "" {
				off := parseOffset(s[7])
				tok.offset = &off
			}
		}
		if validMonthDay(tok.month, tok.day) {
			consider(m[0], tok)
		}
	}
	if m := numericRE.FindStringSubmatchIndex(text); m != nil {
		s := submatches(text, m)
		tok := dateToken{month: atoi(s[1]), day: atoi(s[2])}
		if s[3] != "" {
			tok.year = expandYear(atoi(s[3]))
			tok.hasYear = true
		}
		if validMonthDay(tok.month, tok.day) {
			consider(m[0], tok)
		}
	}
	if m := monthDayRE.FindStringSubmatchIndex(text); m != nil {
		s := submatches(text, m)
		tok := dateToken{month: monthNumber(s[1]), day: atoi(s[2])}
		if s[3] != "" {
			tok.year = atoi(s[3])
			tok.hasYear = true
		}
		if validMonthDay(tok.month, tok.day) {
			consider(m[0], tok)
		}
	}
	if m := dayMonthRE.FindStringSubmatchIndex(text); m != nil {
		s := submatches(text, m)
		tok := dateToken{month: monthNumber(s[2]), day: atoi(s[1])}
		if s[3] != "" {
			tok.year = atoi(s[3])
			tok.hasYear = true
		}
		if validMonthDay(tok.month, tok.day) {
			consider(m[0], tok)
		}
	}

	if best == nil {
		return dateToken{}, false
	}
	return best.tok, true
}

// findClock returns the first time-of-day token. 12h tokens win over 24h
// ones so "7:30 PM" is not read as 07:30, and "H:MM am/pm" wins over a bare
// "H am/pm" so a stray letter after a rink number is not taken as a time.
func findClock(text string) (Clock, bool) {
	matches := clock12RE.FindAllStringSubmatch(text, -1)
	for _, withMinutes := range []bool{true, false} {
		for _, m := range matches {
			if withMinutes != (m[2] != "") {
				continue
			}
			if c, ok := clock12(m); ok {
				return c, true
			}
		}
	}
	if m := clock24RE.FindStringSubmatch(text); m != nil {
		return Clock{Hour: atoi(m[1]), Minute: atoi(m[2])}, true
	}
	return Clock{}, false
}

func clock12(m []string) (Clock, bool) {
	h := atoi(m[1])
	min := atoi(m[2])
	if h < 1 || h > 12 || min > 59 {
		return Clock{}, false
	}
	pm := strings.EqualFold(m[3], "p")
	switch {
	case pm && h != 12:
		h += 12
	case !pm && h == 12:
		h = 0
	}
	return Clock{Hour: h, Minute: min}, true
}

func submatches(text string, idx []int) []string {
	out := make([]string, len(idx)/2)
	for i := range out {
		if idx[2*i] >= 0 {
			out[i] = text[idx[2*i]:idx[2*i+1]]
		}
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func expandYear(y int) int {
	if y < 100 {
		return 2000 + y
	}
	return y
}

func monthNumber(s string) int {
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	if len(s) < 3 {
		return 0
	}
	return monthLookup[s[:3]]
}

func validMonthDay(month, day int) bool {
	return month >= 1 && month <= 12 && day >= 1 && day <= 31
}

// parseOffset converts "Z", "+05:30", "-0400" to seconds east of UTC.
func parseOffset(s string) int {
	if s == "Z" {
		return 0
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	digits := strings.ReplaceAll(s[1:], ":", "")
	if len(digits) != 4 {
		return 0
	}
	return sign * (atoi(digits[:2])*3600 + atoi(digits[2:])*60)
}
