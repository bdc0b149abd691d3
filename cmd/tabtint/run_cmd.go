package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/asheshgoplani/tabtint/internal/classify"
	"github.com/asheshgoplani/tabtint/internal/config"
	"github.com/asheshgoplani/tabtint/internal/ptyhost"
	"github.com/asheshgoplani/tabtint/internal/tmux"
	"github.com/asheshgoplani/tabtint/internal/watch"
)

type runOptions struct {
	session  string
	title    string
	command  string
	dir      string
	send     string
	waitFor  string
	attach   bool
	backend  string
	tailSize int
}

func handleRun(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	name := fs.String("name", "", "tmux session receiving the window (created when missing)")
	nameShort := fs.String("n", "", "Session name (short)")
	title := fs.String("title", "", "Window title (default: session name)")
	command := fs.String("cmd", "", "Command to run (default: [launch] command)")
	dir := fs.String("dir", "", "Working directory")
	send := fs.String("send", "", "Text typed into the window once it is up (\\n presses Enter)")
	waitFor := fs.String("wait-for", "", "Wait until this regular expression shows up")
	backend := fs.String("backend", "tmux", "tmux, or pty to run headless without a window")
	attach := fs.Bool("attach", false, "Switch to the new window when done (tmux)")
	tail := fs.Int("tail", 20, "Output lines printed when done (pty)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	wf := addWaitFlags(fs, cfg)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: tabtint run --name SESSION [--title T] [--cmd C] [--send TEXT] [--wait-for RE] [options]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Opens a window in the launch color, names it, optionally types text and waits for output.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Examples:")
		fmt.Fprintln(stderr, "  tabtint run -n build --title BUILD --send 'make\\n' --wait-for 'Build complete'")
		fmt.Fprintln(stderr, "  tabtint run --backend pty --cmd 'python3 -i' --send 'print(6*7)\\n' --wait-for '^42$'")
	}
	if !parseFlags(fs, args) {
		return exitFailed
	}
	out := NewCLIOutput(*jsonOutput, false)

	opts := runOptions{
		session:  firstNonEmpty(*name, *nameShort),
		title:    *title,
		command:  firstNonEmpty(*command, cfg.Launch.Command),
		dir:      *dir,
		send:     unescapeText(*send),
		waitFor:  *waitFor,
		attach:   *attach,
		backend:  *backend,
		tailSize: *tail,
	}
	if opts.title == "" {
		opts.title = firstNonEmpty(opts.session, "tabtint")
	}

	var spec *watch.Spec
	if opts.waitFor != "" {
		s, err := wf.spec(opts.waitFor, opts.title)
		if err != nil {
			out.Error(err.Error(), ErrCodeInvalidUsage)
			return exitFailed
		}
		spec = &s
	}

	ctx, stop := signalContext()
	defer stop()

	switch opts.backend {
	case "tmux":
		if opts.session == "" {
			out.Error("--name is required with the tmux backend", ErrCodeInvalidUsage)
			return exitFailed
		}
		return runTmux(ctx, cfg, out, opts, spec)
	case "pty":
		if opts.attach {
			out.Error("--attach needs the tmux backend", ErrCodeInvalidUsage)
			return exitFailed
		}
		return runPTY(ctx, cfg, out, opts, spec)
	}
	out.Error(fmt.Sprintf("unknown backend %q: want tmux or pty", opts.backend), ErrCodeInvalidUsage)
	return exitFailed
}

func runTmux(ctx context.Context, cfg *config.Config, out *CLIOutput, opts runOptions, spec *watch.Spec) int {
	client := tmux.New(tmux.WithEnvOption(cfg.Daemon.EnvOption))
	pane, err := client.NewWindow(ctx, tmux.WindowOptions{
		Session: opts.session,
		Name:    opts.title,
		Command: opts.command,
		Dir:     opts.dir,
		Cols:    cfg.Launch.Cols,
		Rows:    cfg.Launch.Rows,
	})
	if err != nil {
		return out.Fail(err)
	}
	// A window that never got its color or input is closed again.
	abandon := func(err error) int {
		if kerr := client.KillPane(context.WithoutCancel(ctx), pane.Target()); kerr != nil {
			cliLog.Warn("launch_cleanup_failed",
				slog.String("pane", pane.Target()),
				slog.String("error", kerr.Error()))
		}
		return out.Fail(err)
	}

	// Let the shell's own startup finish so our style is applied last.
	if err := sleepCtx(ctx, cfg.Launch.SettleDelay.Duration); err != nil {
		return abandon(err)
	}

	pal := cfg.Palette(cfg.IsDark())
	launch := classify.Result{
		Rule:  "launch",
		Color: cfg.Launch.Color,
		RGB:   cfg.LaunchRGB(pal),
		Title: opts.title,
	}
	if err := pane.Apply(ctx, launch, cfg.MaxTitleWidth); err != nil {
		return abandon(err)
	}
	cliLog.Info("window_launched",
		slog.String("pane", pane.Target()),
		slog.String("session", opts.session),
		slog.String("title", opts.title))

	if opts.send != "" {
		if err := pane.SendText(ctx, opts.send); err != nil {
			return abandon(err)
		}
	}

	code := exitOK
	if spec != nil {
		code = finishWait(ctx, out, pane, pane.Target(), *spec)
	} else {
		out.Success(fmt.Sprintf("opened %s in session %s (%s)", opts.title, opts.session, pane.Target()), map[string]any{
			"target":  pane.Target(),
			"session": opts.session,
			"title":   opts.title,
			"hex":     launch.Hex(),
		})
	}

	if opts.attach && code != exitNotFound {
		if err := client.Focus(ctx, pane.Target()); err != nil {
			return out.Fail(err)
		}
	}
	return code
}

func runPTY(ctx context.Context, cfg *config.Config, out *CLIOutput, opts runOptions, spec *watch.Spec) int {
	argv := []string{"/bin/sh", "-c", opts.command}
	if len(strings.Fields(opts.command)) == 1 {
		argv = []string{strings.TrimSpace(opts.command)}
	}
	sess, err := ptyhost.Start(ctx, ptyhost.Options{
		Command: argv,
		Dir:     opts.dir,
		Cols:    cfg.Launch.Cols,
		Rows:    cfg.Launch.Rows,
	})
	if err != nil {
		return out.Fail(err)
	}
	defer sess.Close()

	if opts.send != "" {
		if err := sess.SendText(ctx, opts.send); err != nil {
			return out.Fail(err)
		}
	}

	code := exitOK
	if spec != nil {
		code = finishWait(ctx, out, sess, fmt.Sprintf("pty:%d", sess.PID()), *spec)
	} else if err := sess.Wait(ctx); err != nil {
		cliLog.Debug("pty_command_failed", slog.String("error", err.Error()))
	}

	if out.jsonMode {
		return code
	}
	// No tab to color: show what it would have been.
	if classifier, err := cfg.Classifier(); err == nil {
		if facts, err := sess.Facts(ctx); err == nil {
			res := classifier.Classify(facts)
			fmt.Fprintf(stdout, "%s %s  %s\n", swatch(res.Hex()), res.Color, tmux.TruncateTitle(res.Title, cfg.MaxTitleWidth))
		}
	}
	if opts.tailSize > 0 {
		printTail(sess, opts.tailSize)
	}
	return code
}

// printTail prints the last n lines of a pty session's output.
func printTail(sess *ptyhost.Session, n int) {
	ctx := context.Background()
	visible, scrollback, err := sess.LineBufferExtent(ctx)
	if err != nil {
		return
	}
	total := visible + scrollback
	start := max(total-n, 0)
	lines, err := sess.ReadLines(ctx, start, total-start)
	if err != nil {
		return
	}
	for _, l := range lines {
		fmt.Fprintln(stdout, dimStyle.Render("│ ")+l)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
