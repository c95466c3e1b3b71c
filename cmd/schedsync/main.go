package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"schedsync/internal/calendar"
	"schedsync/internal/config"
	"schedsync/internal/fetch"
	"schedsync/internal/ledger"
	appLog "schedsync/internal/log"
	"schedsync/internal/notify"
	"schedsync/internal/scrape"
	"schedsync/internal/syncer"
	"schedsync/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	feedsOnly  bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	appLog.Init(appLog.Options{Level: appLog.ParseLevel(conf.Log.Level), Format: conf.Log.Format})
	appLog.Info("schedsync starting", "version", version)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"urls", len(conf.URLs),
		"teams", len(conf.Teams),
		"recipients", len(conf.Recipients),
		"ledger_driver", conf.Ledger.Driver,
		"once", flags.once,
		"feeds_only", flags.feedsOnly,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := ledger.NewStore(ctx, ledger.Options{
		Driver: conf.Ledger.Driver,
		Path:   conf.StatePath,
		DSN:    conf.Ledger.DSN,
	})
	if err != nil {
		appLog.Error("failed to open ledger store", err, "driver", conf.Ledger.Driver)
		return 1
	}
	defer closeStore()

	s := syncer.New(conf, newRegistry(conf), calendar.NewDirCalendar(conf.Calendar.Dir), newNotifier(conf), store)

	switch {
	case flags.feedsOnly:
		return exitCode(buildFeeds(ctx, s))
	case flags.once:
		passErr := runPass(ctx, s)
		feedsErr := buildFeeds(ctx, s)
		if passErr != nil {
			return 1
		}
		return exitCode(feedsErr)
	}

	return daemon(ctx, flags.configPath, conf, s)
}

// daemon runs passes on the refresh schedule, serves HTTP and follows
// config edits until ctx is cancelled.
func daemon(ctx context.Context, configPath string, conf *config.Config, s *syncer.Syncer) int {
	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
		loc = time.Local
	}

	sched := cron.New(cron.WithLocation(loc))
	job := func() {
		_ = runPass(ctx, s)
		_ = buildFeeds(ctx, s)
	}

	var (
		mu      sync.Mutex
		entryID cron.EntryID
		spec    = conf.RefreshCron
	)
	entryID, err = sched.AddFunc(spec, job)
	if err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", spec)
		return 1
	}
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
	}()

	// Initial pass so feeds exist before the first tick.
	go job()

	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			next.Listen = conf.Listen
			s.SetConfig(next)
			appLog.Init(appLog.Options{Level: appLog.ParseLevel(next.Log.Level), Format: next.Log.Format})

			mu.Lock()
			defer mu.Unlock()
			if next.RefreshCron == spec {
				return
			}
			id, err := sched.AddFunc(next.RefreshCron, job)
			if err != nil {
				appLog.Error("reload: invalid refresh schedule, keeping previous", err, "refresh", next.RefreshCron)
				return
			}
			sched.Remove(entryID)
			entryID, spec = id, next.RefreshCron
			appLog.Info("refresh schedule updated", "refresh", spec)
		})
		if err != nil {
			appLog.Error("config watcher stopped", err, "config_path", configPath)
		}
	}()

	if err := web.StartServer(ctx, conf.Listen, s); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		return 1
	}
	appLog.Info("schedsync exiting")
	return 0
}

func runPass(ctx context.Context, s *syncer.Syncer) error {
	rep, err := s.Run(ctx)
	if err != nil {
		appLog.Error("sync pass failed", err, "run_id", rep.RunID)
	}
	return err
}

func buildFeeds(ctx context.Context, s *syncer.Syncer) error {
	feeds, err := s.BuildFeeds(ctx)
	if err != nil {
		appLog.Error("feed build incomplete", err, "written", len(feeds))
	}
	return err
}

// newRegistry wires strategies in priority order. Published ICS feeds are
// claimed first; the free-text strategy renders pages in a headless browser
// and falls back to a plain GET under a browser identity.
func newRegistry(conf *config.Config) *scrape.Registry {
	plain := fetch.NewHTTP(fetch.WithCacheDir(conf.CacheDir))
	rendered := fetch.Fallback{
		fetch.NewBrowser(conf.BrowserTimeout()),
		fetch.NewHTTP(fetch.WithUserAgent(fetch.BrowserUserAgent)),
	}
	return scrape.NewRegistry(
		scrape.NewICSFeed(plain),
		scrape.NewTabular(plain),
		scrape.NewFreeText(rendered),
	)
}

func newNotifier(conf *config.Config) notify.Notifier {
	if conf.SMTP.Server == "" {
		appLog.Info("no SMTP server configured; notifications are logged only")
		return notify.LogOnly{}
	}
	return notify.NewSMTP(notify.SMTPConfig{
		Server:   conf.SMTP.Server,
		Port:     conf.SMTP.Port,
		Username: conf.SMTP.Username,
		Password: conf.SMTP.Password,
		From:     conf.SMTP.From,
		UseTLS:   conf.SMTP.UseTLS,
	})
}

func exitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/schedsync/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync pass, write feeds and exit")
	flag.BoolVar(&cfg.feedsOnly, "feeds-only", false, "Write team feeds and exit without syncing calendars")

	flag.Parse()

	return cfg
}
