package tmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sahilm/fuzzy"
)

// NotFoundError is returned by Resolve when the target names nothing. It
// unwraps to ErrSessionNotFound.
type NotFoundError struct {
	Target      string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("tmux target %q not found", e.Target)
	if len(e.Suggestions) > 0 {
		msg += " (did you mean " + strings.Join(e.Suggestions, ", ") + "?)"
	}
	return msg
}

func (e *NotFoundError) Unwrap() error { return ErrSessionNotFound }

// maxSuggestions caps NotFoundError.Suggestions.
const maxSuggestions = 3

// Resolve checks that target names a pane and returns the pane's stable id
// (%N). An empty target means the pane this process runs in ($TMUX_PANE).
func (c *Client) Resolve(ctx context.Context, target string) (string, error) {
	if target == "" {
		target = os.Getenv("TMUX_PANE")
		if target == "" {
			return "", errors.New("no target given and not running inside tmux")
		}
	}
	id, err := c.display(ctx, target, "#{pane_id}")
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return "", err
	}

	sessions, _ := c.ListSessions(ctx)
	return "", &NotFoundError{Target: target, Suggestions: suggest(target, sessions)}
}

type sessionSource []string

func (s sessionSource) String(i int) string { return s[i] }
func (s sessionSource) Len() int            { return len(s) }

// suggest ranks session names by fuzzy similarity to the session part of
// target.
func suggest(target string, sessions []string) []string {
	query, _, _ := strings.Cut(target, ":")
	if query == "" || len(sessions) == 0 {
		return nil
	}
	matches := fuzzy.FindFrom(query, sessionSource(sessions))
	out := make([]string, 0, maxSuggestions)
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.Str)
	}
	return out
}
