//go:build !windows

// Package ptyhost runs a command on a private pseudo-terminal and keeps its
// output as a bounded scrollback of plain text lines. A Session can be
// watched, typed into and classified like a tmux pane, without a terminal
// multiplexer.
package ptyhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/asheshgoplani/tabtint/internal/classify"
	"github.com/asheshgoplani/tabtint/internal/logging"
	"github.com/asheshgoplani/tabtint/internal/watch"
)

var ptyLog = logging.ForComponent(logging.CompPTY)

// Defaults for Options.
const (
	DefaultCols       = 100
	DefaultRows       = 20
	DefaultScrollback = 10000
)

// ErrClosed is returned by SendText after Close. It is also
// watch.ErrSessionNotFound for reads, so a wait on a closed session ends.
var ErrClosed = fmt.Errorf("pty session closed: %w", watch.ErrSessionNotFound)

// Options describe the command to run.
type Options struct {
	// Command is argv; empty runs $SHELL, or /bin/sh.
	Command []string
	Dir     string
	// Env is appended to the current environment.
	Env []string

	Cols, Rows int
	// Scrollback caps retained lines, visible rows included.
	Scrollback int
}

// Session is a running command on a pty. It implements watch.Session.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File
	buf  *lineBuffer
	dir  string
	env  []string

	mu     sync.Mutex
	rows   int
	closed bool

	done    chan struct{}
	exitErr error
}

// Start launches opts.Command. ctx bounds the process lifetime: cancelling
// it kills the command.
func Start(ctx context.Context, opts Options) (*Session, error) {
	argv := opts.Command
	if len(argv) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		argv = []string{shell}
	}
	if opts.Cols <= 0 {
		opts.Cols = DefaultCols
	}
	if opts.Rows <= 0 {
		opts.Rows = DefaultRows
	}
	if opts.Scrollback <= 0 {
		opts.Scrollback = DefaultScrollback
	}
	if opts.Scrollback < opts.Rows {
		opts.Scrollback = opts.Rows
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(opts.Cols), Rows: uint16(opts.Rows)})
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	dir := opts.Dir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	s := &Session{
		cmd:  cmd,
		ptmx: ptmx,
		buf:  newLineBuffer(opts.Scrollback, opts.Cols),
		dir:  dir,
		env:  cmd.Env,
		rows: opts.Rows,
		done: make(chan struct{}),
	}

	go s.pump()
	ptyLog.Info("pty_started",
		slog.String("command", argv[0]),
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("cols", opts.Cols),
		slog.Int("rows", opts.Rows))
	return s, nil
}

// pump copies pty output into the line buffer until the child exits.
func (s *Session) pump() {
	_, err := io.Copy(s.buf, s.ptmx)
	// Linux reports EIO once the child side of the pty is gone.
	if err != nil && !errors.Is(err, os.ErrClosed) && !isEIO(err) {
		ptyLog.Debug("pty_read_failed", slog.String("error", err.Error()))
	}
	s.exitErr = s.cmd.Wait()
	ptyLog.Info("pty_exited",
		slog.Int("pid", s.cmd.Process.Pid),
		slog.Int("exit_code", s.cmd.ProcessState.ExitCode()))
	close(s.done)
}

func isEIO(err error) bool {
	return errors.Is(err, syscall.EIO)
}

// LineBufferExtent reports the terminal height and how many lines have
// scrolled above it. Output stays readable after the command exits.
func (s *Session) LineBufferExtent(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	rows, closed := s.rows, s.closed
	s.mu.Unlock()
	if closed {
		return 0, 0, ErrClosed
	}
	total := len(s.buf.snapshot())
	if total <= rows {
		return total, 0, nil
	}
	return rows, total - rows, nil
}

// ReadLines returns count lines from start, 0 being the oldest retained.
func (s *Session) ReadLines(ctx context.Context, start, count int) ([]string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	lines := s.buf.snapshot()
	if start < 0 {
		start = 0
	}
	if start >= len(lines) || count <= 0 {
		return nil, nil
	}
	end := start + count
	if end > len(lines) {
		end = len(lines)
	}
	return lines[start:end], nil
}

// SendText writes text to the terminal as if typed.
func (s *Session) SendText(ctx context.Context, text string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case <-s.done:
		return errors.New("pty session exited")
	default:
	}
	if _, err := io.WriteString(s.ptmx, text); err != nil {
		return fmt.Errorf("write to pty: %w", err)
	}
	return nil
}

// Facts describes the command the session was started with. The working
// directory is the start directory and the virtual environment comes from
// the session's VIRTUAL_ENV.
func (s *Session) Facts(ctx context.Context) (classify.Facts, error) {
	return classify.Facts{
		ProcessName:      filepath.Base(s.cmd.Path),
		CommandLine:      append([]string(nil), s.cmd.Args...),
		WorkingDirectory: s.dir,
		VirtualEnv:       lookupEnv(s.env, "VIRTUAL_ENV"),
	}, nil
}

// lookupEnv returns the last value of key in env, matching exec's
// precedence.
func lookupEnv(env []string, key string) string {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(env[i], prefix); ok {
			return v
		}
	}
	return ""
}

// PID returns the child's process id.
func (s *Session) PID() int { return s.cmd.Process.Pid }

// Wait blocks until the command exits or ctx is done and returns the
// command's exit error.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close kills the command if it is still running and releases the pty.
// Buffered output is no longer readable afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case <-s.done:
	default:
		_ = s.cmd.Process.Kill()
	}
	err := s.ptmx.Close()
	<-s.done
	return err
}
