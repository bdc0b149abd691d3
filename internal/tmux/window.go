package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
)

var validSessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// WindowOptions describe a window opened by NewWindow.
type WindowOptions struct {
	// Session receives the window; it is created detached when missing.
	Session string
	// Name is the initial window name.
	Name string
	// Command replaces the default shell. Empty runs the default shell.
	Command string
	Dir     string
	// Cols and Rows size a newly created session. Ignored when the
	// session already exists.
	Cols, Rows int
}

// NewWindow opens a window and returns its pane.
func (c *Client) NewWindow(ctx context.Context, opts WindowOptions) (*Pane, error) {
	if !validSessionNameRe.MatchString(opts.Session) {
		return nil, fmt.Errorf("invalid session name %q: must match %s", opts.Session, validSessionNameRe)
	}

	var args []string
	exists, err := c.hasSession(ctx, opts.Session)
	if err != nil {
		return nil, err
	}
	if exists {
		args = []string{"new-window", "-P", "-F", "#{pane_id}", "-t", opts.Session + ":"}
	} else {
		args = []string{"new-session", "-d", "-P", "-F", "#{pane_id}", "-s", opts.Session}
		if opts.Cols > 0 && opts.Rows > 0 {
			args = append(args, "-x", strconv.Itoa(opts.Cols), "-y", strconv.Itoa(opts.Rows))
		}
	}
	if opts.Name != "" {
		args = append(args, "-n", opts.Name)
	}
	if opts.Dir != "" {
		args = append(args, "-c", opts.Dir)
	}
	if opts.Command != "" {
		args = append(args, opts.Command)
	}

	id, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	tmuxLog.Info("window_opened",
		slog.String("session", opts.Session),
		slog.String("pane", id),
		slog.Bool("new_session", !exists))
	return c.Pane(id), nil
}

func (c *Client) hasSession(ctx context.Context, name string) (bool, error) {
	_, err := c.run(ctx, "has-session", "-t", "="+name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNoServer):
		return false, nil
	}
	return false, err
}

// KillPane closes a pane; used to clean up after failed launches.
func (c *Client) KillPane(ctx context.Context, target string) error {
	_, err := c.run(ctx, "kill-pane", "-t", target)
	return err
}
