//go:build !windows

package tmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// detachKey is Ctrl+Q.
const detachKey = 17

// Focus brings target to the front. Inside tmux it switches the current
// client; outside it attaches this terminal through a PTY until the user
// presses Ctrl+Q or detaches with the tmux prefix.
func (c *Client) Focus(ctx context.Context, target string) error {
	if os.Getenv("TMUX") != "" {
		if _, err := c.run(ctx, "switch-client", "-t", target); err != nil {
			return fmt.Errorf("switch client: %w", err)
		}
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("cannot attach: stdin is not a terminal")
	}
	return c.attach(ctx, target)
}

func (c *Client) attach(ctx context.Context, target string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := []string{"-u"}
	if c.socket != "" {
		args = append(args, "-L", c.socket)
	}
	args = append(args, "attach-session", "-t", target)
	cmd := exec.CommandContext(ctx, "tmux", args...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("failed to start pty: %w", err)
	}
	defer ptmx.Close()

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	defer signal.Stop(sigwinch)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigwinch:
				if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
					_ = pty.Setsize(ptmx, ws)
				}
			}
		}
	}()
	sigwinch <- syscall.SIGWINCH

	detached := make(chan struct{})
	go func() {
		_, _ = io.Copy(os.Stdout, ptmx)
	}()
	go func() {
		// Terminal capability replies arrive right after attach; drop them.
		start := time.Now()
		buf := make([]byte, 32)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if time.Since(start) < 50*time.Millisecond {
				continue
			}
			if n == 1 && buf[0] == detachKey {
				close(detached)
				return
			}
			if _, err := ptmx.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	defer wg.Wait()
	defer cancel()
	select {
	case <-detached:
		return nil
	case <-ctx.Done():
		return nil
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() <= 1 {
			return nil
		}
		return err
	}
}
