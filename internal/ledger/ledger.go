// Package ledger records which event fingerprints have already been synced
// to each recipient.
//
// The ledger is a cache in front of the remote calendar's own existence
// check: losing it costs extra probes, never duplicate inserts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	appLog "schedsync/internal/log"
)

// ErrCorrupt is returned by stores whose persisted state cannot be read
// back as a ledger.
var ErrCorrupt = errors.New("ledger corrupt")

// Ledger maps recipient keys to the set of fingerprints already synced.
// It is owned by one sync pass and is not safe for concurrent use.
type Ledger struct {
	seen map[string]map[string]struct{}
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{seen: make(map[string]map[string]struct{})}
}

// FromSnapshot builds a ledger from a recipient -> fingerprints mapping.
func FromSnapshot(snap map[string][]string) *Ledger {
	l := New()
	for recipient, fps := range snap {
		for _, fp := range fps {
			l.MarkSeen(recipient, fp)
		}
	}
	return l
}

// HasSeen reports whether fingerprint was synced to recipient.
func (l *Ledger) HasSeen(recipient, fingerprint string) bool {
	_, ok := l.seen[recipient][fingerprint]
	return ok
}

// MarkSeen records fingerprint for recipient. Repeated calls are no-ops.
func (l *Ledger) MarkSeen(recipient, fingerprint string) {
	set, ok := l.seen[recipient]
	if !ok {
		set = make(map[string]struct{})
		l.seen[recipient] = set
	}
	set[fingerprint] = struct{}{}
}

// Snapshot returns a copy of the ledger with each fingerprint list sorted.
func (l *Ledger) Snapshot() map[string][]string {
	out := make(map[string][]string, len(l.seen))
	for recipient, set := range l.seen {
		fps := make([]string, 0, len(set))
		for fp := range set {
			fps = append(fps, fp)
		}
		sort.Strings(fps)
		out[recipient] = fps
	}
	return out
}

// Len returns the total number of (recipient, fingerprint) entries.
func (l *Ledger) Len() int {
	n := 0
	for _, set := range l.seen {
		n += len(set)
	}
	return n
}

// Store persists a ledger. Save replaces the stored state as a whole.
type Store interface {
	Load(ctx context.Context) (*Ledger, error)
	Save(ctx context.Context, l *Ledger) error
}

// Open loads the ledger from store. Any load failure yields an empty ledger
// and a warning so the pass can continue on remote existence checks alone.
func Open(ctx context.Context, store Store) *Ledger {
	l, err := store.Load(ctx)
	if err != nil {
		appLog.Warn("ledger unreadable, starting empty", "error", err.Error())
		return New()
	}
	if l == nil {
		return New()
	}
	return l
}

// Options selects and configures a Store.
type Options struct {
	// Driver is "file" (default) or "postgres".
	Driver string
	// Path is the JSON file used by the file driver.
	Path string
	// DSN is the connection string used by the postgres driver.
	DSN string
}

// NewStore builds the store named by opt.Driver. The returned close function
// releases any connections and is never nil.
func NewStore(ctx context.Context, opt Options) (Store, func(), error) {
	switch opt.Driver {
	case "", "file":
		return NewFileStore(opt.Path), func() {}, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, opt.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		return s, s.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("ledger: unknown driver %q", opt.Driver)
	}
}
