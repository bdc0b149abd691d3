// Package watch blocks until a pattern shows up in a session's output.
//
// A wait re-reads the whole buffered region of the session (scrollback plus
// visible lines) on every poll and counts matching lines. Occurrences
// accumulate across polls for the lifetime of one Wait call, so a line that
// stays on screen is counted again on each poll. This keeps matching correct
// for sessions whose buffer gets rewritten, e.g. after a clear.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/asheshgoplani/tabtint/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompWatch)

// Defaults applied by Spec.withDefaults.
const (
	DefaultTimeout      = 300 * time.Second
	DefaultPollInterval = time.Second
)

var (
	// ErrTimeout is matched by errors.Is on every *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for content")

	// ErrSessionNotFound is returned by sessions whose handle no longer
	// resolves. Wait gives up immediately when it sees it.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is the read-only view of a terminal buffer Wait needs.
type Session interface {
	// LineBufferExtent reports the visible height and the number of lines
	// of scrollback currently retained.
	LineBufferExtent(ctx context.Context) (visible, scrollback int, err error)

	// ReadLines returns count lines starting at start, where 0 is the oldest
	// retained scrollback line.
	ReadLines(ctx context.Context, start, count int) ([]string, error)
}

// TimeoutPolicy selects what happens when the timeout elapses.
type TimeoutPolicy int

const (
	// Fail makes Wait return a *TimeoutError.
	Fail TimeoutPolicy = iota
	// Warn logs a warning and returns TimedOut.
	Warn
)

func (p TimeoutPolicy) String() string {
	if p == Warn {
		return "warn"
	}
	return "fail"
}

// ParsePolicy accepts "warn" or "fail" (case-insensitive). Empty means fail.
func ParsePolicy(s string) (TimeoutPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail", "error":
		return Fail, nil
	case "warn", "warning":
		return Warn, nil
	}
	return Fail, fmt.Errorf("invalid timeout policy %q: want warn or fail", s)
}

// Spec describes one wait.
type Spec struct {
	Pattern      *regexp.Regexp
	Occurrences  int           // lines that must match; <= 0 means 1
	Timeout      time.Duration // <= 0 means DefaultTimeout
	PollInterval time.Duration // <= 0 means DefaultPollInterval
	OnTimeout    TimeoutPolicy

	// Label names what is being waited on in log lines and timeout errors,
	// e.g. a window title. Optional.
	Label string
}

func (s Spec) withDefaults() Spec {
	if s.Occurrences <= 0 {
		s.Occurrences = 1
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	return s
}

// Outcome is how a wait ended without error.
type Outcome int

const (
	Matched Outcome = iota
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Result reports a finished wait.
type Result struct {
	Outcome     Outcome
	Occurrences int
	Polls       int
	Elapsed     time.Duration
}

// TimeoutError is returned under the Fail policy.
type TimeoutError struct {
	Label       string
	Pattern     string
	Occurrences int
	Required    int
	Elapsed     time.Duration
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	what := "content"
	if e.Label != "" {
		what = e.Label + " content"
	}
	return fmt.Sprintf("timeout waiting for %s %q: saw %d of %d occurrences after %s (timeout %s)",
		what, e.Pattern, e.Occurrences, e.Required,
		e.Elapsed.Round(time.Millisecond), e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Clock is the time source of a Watcher. Sleep returns early with the
// context's error when ctx is done.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watcher runs waits. The zero value is not usable; call New.
type Watcher struct {
	clock Clock
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// New returns a Watcher using the wall clock unless overridden.
func New(opts ...Option) *Watcher {
	w := &Watcher{clock: realClock{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait polls s until spec.Pattern has matched spec.Occurrences lines in
// total, the timeout elapses, or ctx is done, whichever comes first.
func Wait(ctx context.Context, s Session, spec Spec) (Result, error) {
	return New().Wait(ctx, s, spec)
}

// Wait behaves like the package-level Wait, timed by w's clock.
func (w *Watcher) Wait(ctx context.Context, s Session, spec Spec) (Result, error) {
	if spec.Pattern == nil {
		return Result{}, errors.New("watch: nil pattern")
	}
	if s == nil {
		return Result{}, errors.New("watch: nil session")
	}
	spec = spec.withDefaults()
	pattern := spec.Pattern.String()

	watchLog.Info("wait_started",
		slog.String("label", spec.Label),
		slog.String("pattern", pattern),
		slog.Int("occurrences", spec.Occurrences),
		slog.Duration("timeout", spec.Timeout),
		slog.Duration("poll_interval", spec.PollInterval))

	start := w.clock.Now()
	res := Result{}
	for {
		res.Elapsed = w.clock.Now().Sub(start)
		if res.Elapsed >= spec.Timeout {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		lines, err := w.poll(ctx, s)
		res.Polls++
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return res, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			watchLog.Debug("poll_failed",
				slog.String("label", spec.Label),
				slog.Int("poll", res.Polls),
				slog.String("error", err.Error()))
		}

		for _, line := range lines {
			if !spec.Pattern.MatchString(line) {
				continue
			}
			res.Occurrences++
			if res.Occurrences >= spec.Occurrences {
				res.Outcome = Matched
				res.Elapsed = w.clock.Now().Sub(start)
				watchLog.Info("content_found",
					slog.String("label", spec.Label),
					slog.String("pattern", pattern),
					slog.Int("occurrences", res.Occurrences),
					slog.Int("polls", res.Polls),
					slog.Duration("elapsed", res.Elapsed))
				return res, nil
			}
		}

		if err := w.clock.Sleep(ctx, spec.PollInterval); err != nil {
			res.Elapsed = w.clock.Now().Sub(start)
			return res, err
		}
	}

	if spec.OnTimeout == Warn {
		res.Outcome = TimedOut
		watchLog.Warn("wait_timeout",
			slog.String("label", spec.Label),
			slog.String("pattern", pattern),
			slog.Int("occurrences", res.Occurrences),
			slog.Int("required", spec.Occurrences),
			slog.Duration("elapsed", res.Elapsed))
		return res, nil
	}
	return res, &TimeoutError{
		Label:       spec.Label,
		Pattern:     pattern,
		Occurrences: res.Occurrences,
		Required:    spec.Occurrences,
		Elapsed:     res.Elapsed,
		Timeout:     spec.Timeout,
	}
}

func (w *Watcher) poll(ctx context.Context, s Session) ([]string, error) {
	visible, scrollback, err := s.LineBufferExtent(ctx)
	if err != nil {
		return nil, fmt.Errorf("line buffer extent: %w", err)
	}
	count := visible + scrollback
	if count <= 0 {
		return nil, nil
	}
	lines, err := s.ReadLines(ctx, 0, count)
	if err != nil {
		return nil, fmt.Errorf("read %d lines: %w", count, err)
	}
	return lines, nil
}
