package tmux

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/asheshgoplani/tabtint/internal/classify"
)

// Pane is a handle on one tmux pane. It implements watch.Session.
type Pane struct {
	c      *Client
	target string

	mu      sync.Mutex
	history int // history_size seen by the last LineBufferExtent
	known   bool
}

// Pane returns a handle for target, which can be anything tmux accepts
// after -t. Use Resolve first to fail early on a bad target.
func (c *Client) Pane(target string) *Pane {
	return &Pane{c: c, target: target}
}

// Target returns the tmux target the pane was opened with.
func (p *Pane) Target() string { return p.target }

// LineBufferExtent reports the pane height and the lines of history tmux
// currently retains.
func (p *Pane) LineBufferExtent(ctx context.Context) (int, int, error) {
	out, err := p.c.display(ctx, p.target, "#{pane_height}\t#{history_size}")
	if err != nil {
		return 0, 0, err
	}
	visible, history, err := parseExtent(out)
	if err != nil {
		return 0, 0, err
	}
	p.mu.Lock()
	p.history = history
	p.known = true
	p.mu.Unlock()
	return visible, history, nil
}

func parseExtent(out string) (visible, history int, err error) {
	parts := strings.Split(strings.TrimSpace(out), "\t")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected extent %q", out)
	}
	if visible, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("pane height %q: %w", parts[0], err)
	}
	if history, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("history size %q: %w", parts[1], err)
	}
	return visible, history, nil
}

// ReadLines captures count lines starting at start, where 0 is the oldest
// history line. Wrapped lines are joined (-J), so fewer lines than count may
// come back.
func (p *Pane) ReadLines(ctx context.Context, start, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	p.mu.Lock()
	history, known := p.history, p.known
	p.mu.Unlock()
	if !known {
		var err error
		if _, history, err = p.LineBufferExtent(ctx); err != nil {
			return nil, err
		}
	}

	// tmux numbers visible lines from 0 and history lines negatively.
	first := start - history
	last := first + count - 1
	out, err := p.c.runRaw(ctx, "capture-pane", "-p", "-J", "-t", p.target,
		"-S", strconv.Itoa(first), "-E", strconv.Itoa(last))
	if err != nil {
		return nil, err
	}
	return splitCapture(out), nil
}

func splitCapture(out string) []string {
	out = strings.TrimSuffix(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// SendText types text into the pane literally. A trailing newline is sent
// as a separate Enter key so the shell runs the line.
func (p *Pane) SendText(ctx context.Context, text string) error {
	body, enter := strings.CutSuffix(text, "\n")
	if body != "" {
		if _, err := p.c.run(ctx, "send-keys", "-l", "-t", p.target, "--", body); err != nil {
			return err
		}
	}
	if enter {
		if _, err := p.c.run(ctx, "send-keys", "-t", p.target, "Enter"); err != nil {
			return err
		}
	}
	return nil
}

// Facts gathers the classifier input for the pane.
func (p *Pane) Facts(ctx context.Context) (classify.Facts, error) {
	return p.c.Facts(ctx, p.target)
}

// Apply colors and renames the pane's window.
func (p *Pane) Apply(ctx context.Context, res classify.Result, maxTitleWidth int) error {
	return p.c.Apply(ctx, p.target, res, maxTitleWidth)
}

// Apply sets the window's status-line background to the decision's color
// and renames the window to its title. Automatic renaming is turned off for
// the window or tmux would overwrite the title on the next command.
func (c *Client) Apply(ctx context.Context, target string, res classify.Result, maxTitleWidth int) error {
	style := "bg=" + res.Hex()
	for _, opt := range []string{"window-status-style", "window-status-current-style"} {
		if _, err := c.run(ctx, "set-window-option", "-t", target, opt, style); err != nil {
			return fmt.Errorf("set %s: %w", opt, err)
		}
	}
	if _, err := c.run(ctx, "set-window-option", "-t", target, "automatic-rename", "off"); err != nil {
		return fmt.Errorf("disable automatic-rename: %w", err)
	}
	title := TruncateTitle(res.Title, maxTitleWidth)
	if _, err := c.run(ctx, "rename-window", "-t", target, "--", title); err != nil {
		return fmt.Errorf("rename window: %w", err)
	}
	return nil
}

// TruncateTitle shortens title to width terminal cells, ending it with an
// ellipsis. width <= 0 leaves it alone.
func TruncateTitle(title string, width int) string {
	if width <= 0 || runewidth.StringWidth(title) <= width {
		return title
	}
	return runewidth.Truncate(title, width, "…")
}
