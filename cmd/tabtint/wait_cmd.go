package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/asheshgoplani/tabtint/internal/config"
	"github.com/asheshgoplani/tabtint/internal/statedb"
	"github.com/asheshgoplani/tabtint/internal/tmux"
	"github.com/asheshgoplani/tabtint/internal/watch"
)

// waitFlags are shared by wait and run. Defaults come from [watch].
type waitFlags struct {
	occurrences *int
	timeout     *time.Duration
	poll        *time.Duration
	warn        *bool
}

func addWaitFlags(fs *flag.FlagSet, cfg *config.Config) *waitFlags {
	policy, _ := watch.ParsePolicy(cfg.Watch.OnTimeout)
	return &waitFlags{
		occurrences: fs.Int("occurrences", cfg.Watch.Occurrences, "Matching lines required"),
		timeout:     fs.Duration("timeout", cfg.Watch.Timeout.Duration, "Give up after this long"),
		poll:        fs.Duration("poll", cfg.Watch.PollInterval.Duration, "Delay between reads"),
		warn:        fs.Bool("warn", policy == watch.Warn, "Warn and exit 0 on timeout instead of failing"),
	}
}

// spec compiles pattern into a watch spec.
func (w *waitFlags) spec(pattern, label string) (watch.Spec, error) {
	if pattern == "" {
		return watch.Spec{}, errors.New("a pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return watch.Spec{}, fmt.Errorf("invalid pattern: %w", err)
	}
	if *w.occurrences < 1 {
		return watch.Spec{}, fmt.Errorf("--occurrences must be at least 1, got %d", *w.occurrences)
	}
	policy := watch.Fail
	if *w.warn {
		policy = watch.Warn
	}
	return watch.Spec{
		Pattern:      re,
		Occurrences:  *w.occurrences,
		Timeout:      *w.timeout,
		PollInterval: *w.poll,
		OnTimeout:    policy,
		Label:        label,
	}, nil
}

type waitOutput struct {
	Target      string `json:"target"`
	Label       string `json:"label,omitempty"`
	Pattern     string `json:"pattern"`
	Outcome     string `json:"outcome"`
	Occurrences int    `json:"occurrences"`
	Required    int    `json:"required"`
	Polls       int    `json:"polls"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	Warning     string `json:"warning,omitempty"`
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func handleWait(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("wait", flag.ContinueOnError)
	target := fs.String("target", "", "tmux pane, window or session (default: current pane)")
	targetShort := fs.String("t", "", "Target (short)")
	pattern := fs.String("pattern", "", "Regular expression matched against each line")
	patternShort := fs.String("p", "", "Pattern (short)")
	send := fs.String("send", "", "Text to type into the pane before waiting (\\n presses Enter)")
	label := fs.String("label", "", "Name used in messages (default: target)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	wf := addWaitFlags(fs, cfg)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: tabtint wait --pattern RE [--target T] [options]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Exits 0 when the pattern matched, 3 on timeout (0 with --warn), 2 when the pane is gone.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}
	if !parseFlags(fs, args) {
		return exitFailed
	}
	out := NewCLIOutput(*jsonOutput, false)

	spec, err := wf.spec(firstNonEmpty(*pattern, *patternShort, fs.Arg(0)), *label)
	if err != nil {
		out.Error(err.Error(), ErrCodeInvalidUsage)
		return exitFailed
	}

	ctx, stop := signalContext()
	defer stop()

	client := tmux.New()
	paneID, err := client.Resolve(ctx, firstNonEmpty(*target, *targetShort))
	if err != nil {
		return out.Fail(err)
	}
	if spec.Label == "" {
		spec.Label = paneID
	}
	pane := client.Pane(paneID)
	if *send != "" {
		if err := pane.SendText(ctx, unescapeText(*send)); err != nil {
			return out.Fail(err)
		}
	}

	return finishWait(ctx, out, pane, paneID, spec)
}

// finishWait runs the wait, records it and reports the outcome.
func finishWait(ctx context.Context, out *CLIOutput, s watch.Session, target string, spec watch.Spec) int {
	started := time.Now()
	what := fmt.Sprintf("%s content %q", spec.Label, spec.Pattern)
	run := func(ctx context.Context) (watch.Result, error) { return watch.Wait(ctx, s, spec) }

	var (
		res watch.Result
		err error
	)
	if out.jsonMode {
		res, err = run(ctx)
	} else {
		res, err = waitWithSpinner(ctx, what, spec.Timeout, run)
	}
	recordWait(target, spec, res, err, started)

	data := waitOutput{
		Target:      target,
		Label:       spec.Label,
		Pattern:     spec.Pattern.String(),
		Outcome:     waitOutcome(res, err),
		Occurrences: res.Occurrences,
		Required:    spec.Occurrences,
		Polls:       res.Polls,
		ElapsedMS:   res.Elapsed.Milliseconds(),
	}
	if err != nil {
		return out.Fail(err)
	}
	if res.Outcome == watch.TimedOut {
		data.Warning = timeoutMessage(spec)
		out.Warn(data.Warning)
		out.Print("", data)
		return exitOK
	}
	out.Success(fmt.Sprintf("%s matched after %s (%d polls)", what, res.Elapsed.Round(time.Millisecond), res.Polls), data)
	return exitOK
}

func timeoutMessage(spec watch.Spec) string {
	return fmt.Sprintf("Timeout waiting for %s content: %s", spec.Label, spec.Pattern)
}

func waitOutcome(res watch.Result, err error) string {
	switch {
	case err == nil:
		return res.Outcome.String()
	case errors.Is(err, watch.ErrTimeout):
		return "timed_out"
	case errors.Is(err, watch.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "failed"
}

// recordWait appends the wait to the history database. Failures only
// reach the debug log.
func recordWait(target string, spec watch.Spec, res watch.Result, err error, started time.Time) {
	db, openErr := openState()
	if openErr != nil {
		cliLog.Debug("state_open_failed", slog.String("error", openErr.Error()))
		return
	}
	defer db.Close()
	row := &statedb.WaitRow{
		Target:      target,
		Label:       spec.Label,
		Pattern:     spec.Pattern.String(),
		Outcome:     waitOutcome(res, err),
		Occurrences: res.Occurrences,
		Required:    spec.Occurrences,
		Polls:       res.Polls,
		Elapsed:     res.Elapsed,
		StartedAt:   started,
	}
	if err := db.RecordWait(row); err != nil {
		cliLog.Debug("record_wait_failed", slog.String("error", err.Error()))
		return
	}
	_ = db.TrimWaits(maxWaitHistory)
}

// unescapeText turns the two-character sequences \n and \t typed on a
// command line into the real characters.
func unescapeText(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b = append(b, '\n')
				i++
				continue
			case 't':
				b = append(b, '\t')
				i++
				continue
			case '\\':
				b = append(b, '\\')
				i++
				continue
			}
		}
		b = append(b, s[i])
	}
	return string(b)
}
