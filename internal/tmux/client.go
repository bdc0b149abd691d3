// Package tmux drives a tmux server through its CLI: it reads pane facts
// and scrollback, colors and renames windows, and opens new windows.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/tabtint/internal/logging"
	"github.com/asheshgoplani/tabtint/internal/watch"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

var (
	// ErrNoServer means no tmux server is listening on the socket.
	ErrNoServer = errors.New("no tmux server running")

	// ErrSessionNotFound is the watch sentinel, so a pane that disappears
	// mid-wait ends the wait.
	ErrSessionNotFound = watch.ErrSessionNotFound

	// ErrSessionExists is returned when creating a session whose name is taken.
	ErrSessionExists = errors.New("session already exists")
)

// DefaultCommandTimeout bounds every tmux invocation that has no deadline of
// its own.
const DefaultCommandTimeout = 3 * time.Second

// execFunc runs name with args and returns its stdout and stderr.
type execFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Client talks to one tmux server. It is safe for concurrent use.
type Client struct {
	socket    string
	timeout   time.Duration
	envOption string
	exec      execFunc

	factsSf singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithSocket targets a named server socket (tmux -L).
func WithSocket(name string) Option {
	return func(c *Client) { c.socket = name }
}

// WithCommandTimeout overrides DefaultCommandTimeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithEnvOption names the pane user option that carries the active virtual
// environment. Shell hooks set it with `tmux set -p @virtual_env "$VIRTUAL_ENV"`.
func WithEnvOption(name string) Option {
	return func(c *Client) { c.envOption = name }
}

// New returns a client for the default server unless WithSocket is given.
func New(opts ...Option) *Client {
	c := &Client{
		timeout:   DefaultCommandTimeout,
		envOption: "@virtual_env",
		exec:      execCommand,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether the tmux binary can be executed.
func (c *Client) Available(ctx context.Context) error {
	out, stderr, err := c.exec(ctx, "tmux", "-V")
	if err != nil {
		return fmt.Errorf("tmux not found or not working: %w (output: %s)", err, strings.TrimSpace(string(out)+string(stderr)))
	}
	return nil
}

// run executes a tmux subcommand and returns its trimmed stdout. -u forces
// UTF-8 regardless of locale.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	out, err := c.runRaw(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// runRaw is run without trimming, for captures where leading blank lines
// are content.
func (c *Client) runRaw(ctx context.Context, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	all := []string{"-u"}
	if c.socket != "" {
		all = append(all, "-L", c.socket)
	}
	all = append(all, args...)

	stdout, stderr, err := c.exec(ctx, "tmux", all...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("tmux %s: %w", args[0], ctxErr)
		}
		return "", wrapError(err, string(stderr), args)
	}
	return string(stdout), nil
}

// wrapError maps tmux's stderr onto the package sentinels.
func wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	switch {
	case strings.Contains(stderr, "no server running"),
		strings.Contains(stderr, "error connecting to"),
		strings.Contains(stderr, "server exited unexpectedly"):
		return ErrNoServer
	case strings.Contains(stderr, "duplicate session"):
		return ErrSessionExists
	case strings.Contains(stderr, "can't find session"),
		strings.Contains(stderr, "can't find window"),
		strings.Contains(stderr, "can't find pane"),
		strings.Contains(stderr, "session not found"):
		return fmt.Errorf("tmux %s: %s: %w", args[0], stderr, ErrSessionNotFound)
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// ListSessions returns the names of all sessions. No server means none.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// PaneInfo is one row of `list-panes -a`.
type PaneInfo struct {
	PaneID       string // %N, stable for the pane's lifetime
	WindowID     string // @N
	Session      string
	WindowIndex  int
	WindowName   string
	PID          int // pid of the pane's initial process, usually the shell
	Active       bool
	WindowActive bool
	Command      string // pane_current_command
	Path         string // pane_current_path
}

// Target is session:window.pane by index, for display.
func (p PaneInfo) Target() string {
	return fmt.Sprintf("%s:%d", p.Session, p.WindowIndex)
}

const paneFormat = "#{pane_id}\t#{window_id}\t#{session_name}\t#{window_index}\t#{window_name}\t" +
	"#{pane_pid}\t#{pane_active}\t#{window_active}\t#{pane_current_command}\t#{pane_current_path}"

// ListPanes returns every pane on the server in one call.
func (c *Client) ListPanes(ctx context.Context) ([]PaneInfo, error) {
	out, err := c.run(ctx, "list-panes", "-a", "-F", paneFormat)
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	return parsePanes(out), nil
}

func parsePanes(out string) []PaneInfo {
	var panes []PaneInfo
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 10 {
			tmuxLog.Debug("list_panes_short_row", slog.String("row", line))
			continue
		}
		idx, _ := strconv.Atoi(fields[3])
		pid, _ := strconv.Atoi(fields[5])
		panes = append(panes, PaneInfo{
			PaneID:       fields[0],
			WindowID:     fields[1],
			Session:      fields[2],
			WindowIndex:  idx,
			WindowName:   fields[4],
			PID:          pid,
			Active:       fields[6] == "1",
			WindowActive: fields[7] == "1",
			Command:      fields[8],
			// A path containing a tab would have been split; rejoin the tail.
			Path: strings.Join(fields[9:], "\t"),
		})
	}
	return panes
}

// ServerID identifies the running server by its pid and start time. Window
// ids restart at @0 with every server, so callers keying state by window id
// use it to notice a restart. It returns "" when no server is running.
func (c *Client) ServerID(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "display-message", "-p", "#{pid}-#{start_time}")
	if errors.Is(err, ErrNoServer) {
		return "", nil
	}
	return out, err
}

// display runs display-message for target and returns the expanded format.
func (c *Client) display(ctx context.Context, target, format string) (string, error) {
	return c.run(ctx, "display-message", "-p", "-t", target, format)
}
