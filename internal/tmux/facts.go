package tmux

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/asheshgoplani/tabtint/internal/classify"
)

// Facts reads what the classifier needs for target's pane:
//   - the foreground process name (pane_current_command)
//   - its command line, from ps on the terminal's foreground process group
//   - the working directory (pane_current_path)
//   - the virtual environment, from the pane option set by a shell hook
//
// Concurrent calls for the same target share one lookup. A value tmux or ps
// cannot report comes back empty rather than as an error; only a missing
// pane or server fails the call.
func (c *Client) Facts(ctx context.Context, target string) (classify.Facts, error) {
	ch := c.factsSf.DoChan(target, func() (interface{}, error) {
		// The lookup is shared; the caller that started it may leave early.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.facts(lctx, target)
	})
	select {
	case <-ctx.Done():
		return classify.Facts{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return classify.Facts{}, r.Err
		}
		return r.Val.(classify.Facts), nil
	}
}

func (c *Client) facts(ctx context.Context, target string) (classify.Facts, error) {
	out, err := c.display(ctx, target, "#{pane_pid}\t#{pane_current_command}\t#{pane_current_path}")
	if err != nil {
		return classify.Facts{}, err
	}
	parts := strings.SplitN(out, "\t", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	f := classify.Facts{
		ProcessName:      parts[1],
		WorkingDirectory: parts[2],
	}

	if pid, err := strconv.Atoi(parts[0]); err == nil && pid > 0 {
		args, err := c.foregroundArgs(ctx, pid)
		if err != nil {
			tmuxLog.Debug("foreground_args_failed",
				slog.String("target", target),
				slog.Int("pane_pid", pid),
				slog.String("error", err.Error()))
		}
		f.CommandLine = args
	}
	if len(f.CommandLine) == 0 && f.ProcessName != "" {
		f.CommandLine = []string{f.ProcessName}
	}

	if c.envOption != "" {
		env, err := c.run(ctx, "show-options", "-p", "-q", "-v", "-t", target, c.envOption)
		if err != nil {
			tmuxLog.Debug("env_option_failed",
				slog.String("target", target),
				slog.String("option", c.envOption),
				slog.String("error", err.Error()))
		}
		f.VirtualEnv = env
	}
	return f, nil
}

// foregroundArgs returns the argv of the process group leader in the
// foreground of the pane's terminal. ps joins argv with spaces, so arguments
// that contained spaces come back split.
func (c *Client) foregroundArgs(ctx context.Context, panePID int) ([]string, error) {
	out, stderr, err := c.exec(ctx, "ps", "-o", "tpgid=", "-p", strconv.Itoa(panePID))
	if err != nil {
		return nil, fmt.Errorf("ps tpgid: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	pgid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || pgid <= 0 {
		// No controlling terminal; fall back to the pane process itself.
		pgid = panePID
	}
	out, stderr, err = c.exec(ctx, "ps", "-o", "args=", "-p", strconv.Itoa(pgid))
	if err != nil {
		return nil, fmt.Errorf("ps args: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return strings.Fields(string(out)), nil
}
