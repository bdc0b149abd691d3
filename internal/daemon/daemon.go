// Package daemon keeps every tmux window colored and titled after what is
// running in it. Each tick lists all panes in one call, classifies the
// active pane of every window concurrently, and pushes only decisions that
// changed since the last tick.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/tabtint/internal/classify"
	"github.com/asheshgoplani/tabtint/internal/logging"
	"github.com/asheshgoplani/tabtint/internal/statedb"
	"github.com/asheshgoplani/tabtint/internal/tmux"
)

var daemonLog = logging.ForComponent(logging.CompDaemon)

// Defaults for Options.
const (
	DefaultInterval       = 2 * time.Second
	DefaultConcurrency    = 4
	DefaultApplyPerSecond = 20
)

// Host is the slice of tmux.Client the daemon drives.
type Host interface {
	ServerID(ctx context.Context) (string, error)
	ListPanes(ctx context.Context) ([]tmux.PaneInfo, error)
	Facts(ctx context.Context, target string) (classify.Facts, error)
	Apply(ctx context.Context, target string, res classify.Result, maxTitleWidth int) error
}

// Store persists applied decisions across restarts. *statedb.StateDB
// implements it.
type Store interface {
	SaveDecision(d *statedb.DecisionRow) error
	LoadDecisions() ([]*statedb.DecisionRow, error)
	PruneDecisions(live []string) (int64, error)
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
}

// metaServer holds the tmux server the stored decisions were applied on.
const metaServer = "tmux_server"

// Options tune a Daemon. Zero values take the defaults above.
type Options struct {
	Interval       time.Duration
	Concurrency    int
	ApplyPerSecond float64
	MaxTitleWidth  int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ApplyPerSecond <= 0 {
		o.ApplyPerSecond = DefaultApplyPerSecond
	}
	return o
}

// applied is what a window currently shows.
type applied struct {
	hex   string
	title string
}

// Stats summarize one tick.
type Stats struct {
	Windows  int `json:"windows"`
	Applied  int `json:"applied"`
	Skipped  int `json:"skipped"` // decision unchanged
	Failed   int `json:"failed"`
	Vanished int `json:"vanished"` // window closed between listing and classifying
}

// Daemon is safe to reconfigure from other goroutines while Run is active.
type Daemon struct {
	host  Host
	store Store

	mu         sync.RWMutex
	classifier *classify.Classifier
	opts       Options
	limiter    *rate.Limiter

	// only touched by Tick, which never runs concurrently with itself
	tickMu  sync.Mutex
	applied map[string]applied
	server  string // ServerID the applied map belongs to
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithStore persists decisions so a restarted daemon does not repaint
// windows that already show the right thing.
func WithStore(s Store) Option {
	return func(d *Daemon) { d.store = s }
}

// New builds a daemon. classifier must not be nil.
func New(host Host, classifier *classify.Classifier, opts Options, options ...Option) *Daemon {
	opts = opts.withDefaults()
	d := &Daemon{
		host:       host,
		classifier: classifier,
		opts:       opts,
		limiter:    rate.NewLimiter(rate.Limit(opts.ApplyPerSecond), burst(opts.ApplyPerSecond)),
		applied:    make(map[string]applied),
	}
	for _, o := range options {
		o(d)
	}
	if d.store != nil {
		d.loadApplied()
	}
	return d
}

func burst(perSecond float64) int {
	if perSecond < 1 {
		return 1
	}
	return int(perSecond)
}

func (d *Daemon) loadApplied() {
	rows, err := d.store.LoadDecisions()
	if err != nil {
		daemonLog.Warn("load_decisions_failed", slog.String("error", err.Error()))
		return
	}
	server, err := d.store.GetMeta(metaServer)
	if err != nil {
		daemonLog.Warn("load_server_failed", slog.String("error", err.Error()))
		return
	}
	d.server = server
	for _, r := range rows {
		d.applied[r.WindowID] = applied{hex: r.Hex, title: r.Title}
	}
	daemonLog.Debug("decisions_loaded", slog.Int("count", len(rows)), slog.String("server", server))
}

// adoptServer drops every cached decision when the tmux server differs from
// the one they were applied on.
func (d *Daemon) adoptServer(id string) {
	if id == "" || id == d.server {
		return
	}
	if len(d.applied) > 0 {
		daemonLog.Info("tmux_server_changed",
			slog.String("previous", d.server),
			slog.String("current", id),
			slog.Int("forgotten", len(d.applied)))
		clear(d.applied)
		if d.store != nil {
			if _, err := d.store.PruneDecisions(nil); err != nil {
				daemonLog.Warn("prune_decisions_failed", slog.String("error", err.Error()))
			}
		}
	}
	d.server = id
	if d.store != nil {
		if err := d.store.SetMeta(metaServer, id); err != nil {
			daemonLog.Warn("save_server_failed", slog.String("error", err.Error()))
		}
	}
}

// SetClassifier swaps the rule table. Windows whose decision changes under
// the new table are repainted on the next tick.
func (d *Daemon) SetClassifier(c *classify.Classifier) {
	d.mu.Lock()
	d.classifier = c
	d.mu.Unlock()
	daemonLog.Info("classifier_replaced", slog.Int("rules", len(c.Rules())))
}

// SetOptions replaces the tuning options; the interval takes effect after
// the current wait.
func (d *Daemon) SetOptions(opts Options) {
	opts = opts.withDefaults()
	d.mu.Lock()
	d.opts = opts
	d.limiter.SetLimit(rate.Limit(opts.ApplyPerSecond))
	d.limiter.SetBurst(burst(opts.ApplyPerSecond))
	d.mu.Unlock()
}

func (d *Daemon) snapshot() (*classify.Classifier, Options) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.classifier, d.opts
}

// Run ticks until ctx is done. It returns nil on cancellation.
func (d *Daemon) Run(ctx context.Context) error {
	_, opts := d.snapshot()
	daemonLog.Info("daemon_started",
		slog.Duration("interval", opts.Interval),
		slog.Int("concurrency", opts.Concurrency))

	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			daemonLog.Warn("tick_failed", slog.String("error", err.Error()))
		}
		_, opts = d.snapshot()
		t := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			daemonLog.Info("daemon_stopped")
			return nil
		case <-t.C:
		}
	}
}

type windowDecision struct {
	pane  tmux.PaneInfo
	facts classify.Facts
	res   classify.Result
	err   error
}

// Tick runs one classification pass.
func (d *Daemon) Tick(ctx context.Context) (Stats, error) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	classifier, opts := d.snapshot()

	server, err := d.host.ServerID(ctx)
	if err != nil {
		return Stats{}, err
	}
	d.adoptServer(server)

	panes, err := d.host.ListPanes(ctx)
	if err != nil {
		return Stats{}, err
	}
	windows := activePanes(panes)
	stats := Stats{Windows: len(windows)}

	decisions := make([]windowDecision, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, p := range windows {
		g.Go(func() error {
			f, err := d.host.Facts(gctx, p.PaneID)
			decisions[i] = windowDecision{pane: p, facts: f, err: err}
			if err == nil {
				decisions[i].res = classifier.Classify(f)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	live := make([]string, 0, len(decisions))
	for _, wd := range decisions {
		live = append(live, wd.pane.WindowID)
		switch {
		case errors.Is(wd.err, tmux.ErrSessionNotFound):
			stats.Vanished++
			continue
		case wd.err != nil:
			stats.Failed++
			daemonLog.Debug("facts_failed",
				slog.String("window", wd.pane.WindowID),
				slog.String("error", wd.err.Error()))
			continue
		}

		want := applied{hex: wd.res.Hex(), title: tmux.TruncateTitle(wd.res.Title, opts.MaxTitleWidth)}
		if d.applied[wd.pane.WindowID] == want {
			stats.Skipped++
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		if err := d.host.Apply(ctx, wd.pane.WindowID, wd.res, opts.MaxTitleWidth); err != nil {
			if errors.Is(err, tmux.ErrSessionNotFound) {
				stats.Vanished++
				continue
			}
			stats.Failed++
			daemonLog.Warn("apply_failed",
				slog.String("window", wd.pane.WindowID),
				slog.String("error", err.Error()))
			continue
		}
		d.applied[wd.pane.WindowID] = want
		stats.Applied++
		d.record(wd, want)
	}

	d.forgetExcept(live)
	logging.Aggregate(logging.CompDaemon, "tick",
		slog.Int("windows", stats.Windows),
		slog.Int("applied", stats.Applied))
	return stats, nil
}

func (d *Daemon) record(wd windowDecision, a applied) {
	daemonLog.Info("window_applied",
		slog.String("window", wd.pane.WindowID),
		slog.String("target", wd.pane.Target()),
		slog.String("rule", wd.res.Rule),
		slog.String("color", wd.res.Color),
		slog.String("title", a.title))
	if d.store == nil {
		return
	}
	err := d.store.SaveDecision(&statedb.DecisionRow{
		WindowID:  wd.pane.WindowID,
		Session:   wd.pane.Session,
		Window:    wd.pane.WindowIndex,
		Rule:      wd.res.Rule,
		Color:     wd.res.Color,
		Hex:       a.hex,
		Title:     a.title,
		Process:   wd.facts.ProcessName,
		Cwd:       wd.facts.WorkingDirectory,
		AppliedAt: time.Now(),
	})
	if err != nil {
		daemonLog.Warn("save_decision_failed", slog.String("error", err.Error()))
	}
}

// forgetExcept drops cached decisions for windows that no longer exist, so
// a reused window id starts clean.
func (d *Daemon) forgetExcept(live []string) {
	keep := make(map[string]struct{}, len(live))
	for _, id := range live {
		keep[id] = struct{}{}
	}
	dropped := 0
	for id := range d.applied {
		if _, ok := keep[id]; !ok {
			delete(d.applied, id)
			dropped++
		}
	}
	if dropped == 0 || d.store == nil {
		return
	}
	if _, err := d.store.PruneDecisions(live); err != nil {
		daemonLog.Warn("prune_decisions_failed", slog.String("error", err.Error()))
	}
}

// activePanes picks the active pane of each window, ordered by session and
// window index.
func activePanes(panes []tmux.PaneInfo) []tmux.PaneInfo {
	byWindow := make(map[string]tmux.PaneInfo)
	for _, p := range panes {
		cur, seen := byWindow[p.WindowID]
		if !seen || (p.Active && !cur.Active) {
			byWindow[p.WindowID] = p
		}
	}
	out := make([]tmux.PaneInfo, 0, len(byWindow))
	for _, p := range byWindow {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Session != out[j].Session {
			return out[i].Session < out[j].Session
		}
		return out[i].WindowIndex < out[j].WindowIndex
	})
	return out
}
