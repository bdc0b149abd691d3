package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/asheshgoplani/tabtint/internal/watch"
)

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#006e24"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// interactive reports whether a spinner can be drawn: both stdin and stderr
// are terminals and output is not redirected by a test.
func interactive() bool {
	return stderr == os.Stderr &&
		term.IsTerminal(int(os.Stderr.Fd())) &&
		term.IsTerminal(int(os.Stdin.Fd()))
}

type waitDoneMsg struct{}

type waitModel struct {
	spinner spinner.Model
	what    string
	start   time.Time
	timeout time.Duration
	cancel  context.CancelFunc
	done    bool
}

func newWaitModel(what string, timeout time.Duration, cancel context.CancelFunc) waitModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return waitModel{spinner: s, what: what, start: time.Now(), timeout: timeout, cancel: cancel}
}

func (m waitModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancel()
			m.done = true
			return m, tea.Quit
		}
	case waitDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m waitModel) View() string {
	if m.done {
		return ""
	}
	elapsed := time.Since(m.start).Round(time.Second)
	return fmt.Sprintf("%s waiting for %s %s\n", m.spinner.View(), m.what,
		dimStyle.Render(fmt.Sprintf("%s / %s  (q to cancel)", elapsed, m.timeout)))
}

// waitWithSpinner runs fn, drawing a spinner on stderr when attached to a
// terminal. Cancelling from the keyboard cancels fn's context.
func waitWithSpinner(ctx context.Context, what string, timeout time.Duration, fn func(context.Context) (watch.Result, error)) (watch.Result, error) {
	if !interactive() {
		return fn(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newWaitModel(what, timeout, cancel), tea.WithOutput(os.Stderr))

	type outcome struct {
		res watch.Result
		err error
	}
	finished := make(chan outcome, 1)
	go func() {
		res, err := fn(ctx)
		finished <- outcome{res, err}
		p.Send(waitDoneMsg{})
	}()

	if _, err := p.Run(); err != nil {
		cliLog.Debug("spinner_failed", slog.String("error", err.Error()))
		cancel()
	}
	o := <-finished
	return o.res, o.err
}
