package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"path/filepath"
	"sort"

	"schedsync/internal/atomicfile"
	"schedsync/internal/calendar"
	"schedsync/internal/config"
	appLog "schedsync/internal/log"
)

// Feed describes one generated team feed.
type Feed struct {
	TeamID string
	Name   string
	Path   string
	Events int
}

// FeedPath returns the file a team's feed is written to.
func FeedPath(cfg *config.Config, teamID string) string {
	return filepath.Join(cfg.FeedsDir, teamID+".ics")
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Schedule Feeds</title></head>
<body>
  <h1>Team Subscriptions</h1>
  <ul>
{{- range .Feeds}}
    <li><a href="{{$.Prefix}}{{.TeamID}}.ics">Subscribe to {{.Name}}</a></li>
{{- end}}
  </ul>
  <p>Click a link above to subscribe in your calendar app.</p>
</body>
</html>
`))

// RenderIndex renders the subscription index for feeds. Links are prefix
// followed by "{team}.ics".
func RenderIndex(prefix string, feeds []Feed) ([]byte, error) {
	data := struct {
		Prefix string
		Feeds  []Feed
	}{prefix, feeds}
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFeeds writes {feeds_dir}/{team}.ics for every team plus an
// index.html linking them. A team whose sources all fail still gets a feed,
// possibly empty. Write failures are collected and returned together.
func (s *Syncer) BuildFeeds(ctx context.Context) ([]Feed, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	cfg := s.Config()
	var (
		feeds []Feed
		errs  []error
	)
	for _, team := range cfg.Teams {
		if err := ctx.Err(); err != nil {
			return feeds, err
		}
		events, _ := s.collect(ctx, cfg, []urlGroup{{team: team.Name, urls: team.URLs}})
		data := calendar.BuildICS(events, calendar.Options{
			Name:     team.Name,
			Timezone: cfg.Timezone,
			Now:      s.now,
		})
		path := FeedPath(cfg, team.ID)
		if err := atomicfile.Write(path, data, 0o644); err != nil {
			appLog.Error("failed to write feed", err, "team", team.ID, "path", path)
			errs = append(errs, fmt.Errorf("feed %s: %w", team.ID, err))
			continue
		}
		appLog.Info("feed written", "team", team.ID, "events", len(events), "path", path)
		feeds = append(feeds, Feed{TeamID: team.ID, Name: team.Name, Path: path, Events: len(events)})
	}

	index, err := RenderIndex("", feeds)
	if err == nil {
		err = atomicfile.Write(filepath.Join(cfg.FeedsDir, "index.html"), index, 0o644)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("feed index: %w", err))
	}
	return feeds, errors.Join(errs...)
}

func sortedTargets(m map[string][]Result) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
