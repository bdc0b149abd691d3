package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/tabtint/internal/config"
	"github.com/asheshgoplani/tabtint/internal/daemon"
	"github.com/asheshgoplani/tabtint/internal/logging"
	"github.com/asheshgoplani/tabtint/internal/statedb"
	"github.com/asheshgoplani/tabtint/internal/tmux"
)

const (
	heartbeatInterval = 10 * time.Second
	primaryTimeout    = 30 * time.Second
)

func daemonOptions(cfg *config.Config) daemon.Options {
	return daemon.Options{
		Interval:       cfg.Daemon.Interval.Duration,
		Concurrency:    cfg.Daemon.Concurrency,
		ApplyPerSecond: cfg.Daemon.ApplyPerSecond,
		MaxTitleWidth:  cfg.MaxTitleWidth,
	}
}

// liveConfig tracks the config and theme the daemon currently runs with,
// rebuilding the classifier when either changes.
type liveConfig struct {
	mu     sync.Mutex
	cfg    *config.Config
	isDark bool
	d      *daemon.Daemon

	// interval given on the command line; it wins over reloads
	interval time.Duration
}

func (l *liveConfig) setConfig(cfg *config.Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.interval > 0 {
		cfg.Daemon.Interval = config.Duration{Duration: l.interval}
	}
	l.cfg = cfg
	l.rebuildLocked()
	l.d.SetOptions(daemonOptions(cfg))
}

func (l *liveConfig) setDark(isDark bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if isDark == l.isDark {
		return
	}
	l.isDark = isDark
	cliLog.Info("theme_changed", slog.Bool("dark", isDark))
	l.rebuildLocked()
}

func (l *liveConfig) rebuildLocked() {
	c, err := l.cfg.ClassifierFor(l.isDark)
	if err != nil {
		cliLog.Warn("classifier_rebuild_failed", slog.String("error", err.Error()))
		return
	}
	l.d.SetClassifier(c)
}

func handleDaemon(cfg *config.Config, cfgPath string, args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	interval := fs.Duration("interval", cfg.Daemon.Interval.Duration, "Time between passes")
	once := fs.Bool("once", false, "Run a single pass and exit")
	force := fs.Bool("force", false, "Run even if another daemon is primary")
	jsonOutput := fs.Bool("json", false, "Output as JSON (with --once)")
	if !parseFlags(fs, args) {
		return exitFailed
	}
	out := NewCLIOutput(*jsonOutput, false)
	var intervalFlag time.Duration
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "interval" {
			intervalFlag = *interval
			cfg.Daemon.Interval = config.Duration{Duration: *interval}
		}
	})

	ctx, stop := signalContext()
	defer stop()

	client := tmux.New(tmux.WithEnvOption(cfg.Daemon.EnvOption))
	if err := client.Available(ctx); err != nil {
		return out.Fail(err)
	}

	live := &liveConfig{cfg: cfg, isDark: cfg.IsDark(), interval: intervalFlag}
	classifier, err := cfg.ClassifierFor(live.isDark)
	if err != nil {
		return out.Fail(err)
	}

	var opts []daemon.Option
	db, err := openState()
	if err != nil {
		cliLog.Warn("state_open_failed", slog.String("error", err.Error()))
	} else {
		defer db.Close()
		opts = append(opts, daemon.WithStore(db))
	}
	d := daemon.New(client, classifier, daemonOptions(cfg), opts...)
	live.d = d

	if *once {
		stats, err := d.Tick(ctx)
		if err != nil {
			return out.Fail(err)
		}
		out.Print(fmt.Sprintf("%d windows: %d applied, %d unchanged, %d failed\n",
			stats.Windows, stats.Applied, stats.Skipped, stats.Failed), stats)
		return exitOK
	}

	if db != nil {
		if err := claimPrimary(db, *force); err != nil {
			out.Error(err.Error(), ErrCodeFailed)
			return exitFailed
		}
		defer func() {
			_ = db.ResignPrimary()
			_ = db.UnregisterDaemon()
		}()
	}

	go dumpOnSIGUSR1(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })

	if w, err := config.NewFileWatcher(cfgPath, live.setConfig, func(err error) {
		cliLog.Warn("config_reload_rejected", slog.String("error", err.Error()))
	}); err != nil {
		cliLog.Warn("config_watch_failed", slog.String("error", err.Error()))
	} else {
		g.Go(func() error { w.Run(gctx); return nil })
	}

	if cfg.Theme == "system" {
		startDark := live.isDark
		g.Go(func() error {
			if err := daemon.FollowTheme(gctx, startDark, live.setDark); err != nil {
				cliLog.Warn("theme_watch_failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if db != nil {
		g.Go(func() error { heartbeat(gctx, db); return nil })
	}

	if err := g.Wait(); err != nil {
		return out.Fail(err)
	}
	return exitOK
}

// claimPrimary registers this daemon and refuses to start a second one per
// user unless forced.
func claimPrimary(db *statedb.StateDB, force bool) error {
	if err := db.CleanDeadDaemons(primaryTimeout); err != nil {
		cliLog.Debug("clean_dead_daemons_failed", slog.String("error", err.Error()))
	}
	if err := db.RegisterDaemon(); err != nil {
		return fmt.Errorf("register daemon: %w", err)
	}
	primary, err := db.ElectPrimary(primaryTimeout)
	if err != nil {
		return fmt.Errorf("elect primary: %w", err)
	}
	if !primary && !force {
		_ = db.UnregisterDaemon()
		return fmt.Errorf("another tabtint daemon is running (use --force to run anyway)")
	}
	cliLog.Info("daemon_registered", slog.Int("pid", os.Getpid()), slog.Bool("primary", primary))
	return nil
}

func heartbeat(ctx context.Context, db *statedb.StateDB) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := db.Heartbeat(); err != nil {
				cliLog.Warn("heartbeat_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// dumpOnSIGUSR1 writes the in-memory log ring buffer to ~/.tabtint on
// SIGUSR1.
func dumpOnSIGUSR1(ctx context.Context) {
	dir, err := config.Dir()
	if err != nil {
		return
	}
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			path := filepath.Join(dir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err != nil {
				cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				cliLog.Info("crash_dump_written", slog.String("path", path))
			}
		}
	}
}
