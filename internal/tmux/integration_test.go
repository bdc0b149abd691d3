package tmux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/tabtint/internal/classify"
	"github.com/asheshgoplani/tabtint/internal/palette"
	"github.com/asheshgoplani/tabtint/internal/watch"
)

// newTestServer returns a client on a private socket so tests never touch
// the user's sessions. The server is killed on cleanup.
func newTestServer(t *testing.T) *Client {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not available")
	}
	socket := fmt.Sprintf("tabtint-test-%d", os.Getpid())
	c := New(WithSocket(socket))
	t.Cleanup(func() {
		_ = exec.Command("tmux", "-L", socket, "kill-server").Run()
	})
	return c
}

func TestIntegration_WindowLifecycle(t *testing.T) {
	c := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pane, err := c.NewWindow(ctx, WindowOptions{Session: "tabtint", Name: "itest", Command: "/bin/sh", Cols: 80, Rows: 10})
	if err != nil {
		t.Skipf("cannot start tmux server: %v", err)
	}

	id, err := c.Resolve(ctx, pane.Target())
	require.NoError(t, err)
	assert.Equal(t, pane.Target(), id)

	require.NoError(t, pane.SendText(ctx, "echo tabtint-$((40+2))\n"))
	res, err := watch.Wait(ctx, pane, watch.Spec{
		Pattern:      regexp.MustCompile(`^tabtint-42$`),
		Timeout:      10 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, watch.Matched, res.Outcome)

	facts, err := pane.Facts(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, facts.ProcessName)
	assert.NotEmpty(t, facts.CommandLine)

	decision := classify.Result{Color: palette.Blue, RGB: palette.Default().Resolve(palette.Blue), Title: "PROBE"}
	require.NoError(t, pane.Apply(ctx, decision, 0))
	name, err := c.display(ctx, pane.Target(), "#{window_name}")
	require.NoError(t, err)
	assert.Equal(t, "PROBE", name)

	panes, err := c.ListPanes(ctx)
	require.NoError(t, err)
	require.Len(t, panes, 1)
	assert.Equal(t, "tabtint", panes[0].Session)

	require.NoError(t, c.KillPane(ctx, pane.Target()))
	// The last pane took the server with it.
	_, err = c.Resolve(ctx, pane.Target())
	assert.Error(t, err)
}
