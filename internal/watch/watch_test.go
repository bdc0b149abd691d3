package watch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

// scriptedSession serves one screen per poll. After the script runs out the
// last screen repeats.
type scriptedSession struct {
	screens [][]string
	errs    []error
	polls   int
	reads   []int
}

func (s *scriptedSession) current() []string {
	if len(s.screens) == 0 {
		return nil
	}
	if s.polls < len(s.screens) {
		return s.screens[s.polls]
	}
	return s.screens[len(s.screens)-1]
}

func (s *scriptedSession) LineBufferExtent(ctx context.Context) (int, int, error) {
	if s.polls < len(s.errs) && s.errs[s.polls] != nil {
		err := s.errs[s.polls]
		s.polls++
		return 0, 0, err
	}
	lines := s.current()
	// Pretend the first line is scrollback and the rest is visible.
	if len(lines) == 0 {
		return 0, 0, nil
	}
	return len(lines) - 1, 1, nil
}

func (s *scriptedSession) ReadLines(ctx context.Context, start, count int) ([]string, error) {
	lines := s.current()
	s.polls++
	s.reads = append(s.reads, count)
	end := start + count
	if end > len(lines) {
		end = len(lines)
	}
	return lines[start:end], nil
}

func TestWait_MatchesOnFirstPoll(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{screens: [][]string{{"$ ./serve", "listening on :8080", "READY"}}}

	res, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern:      regexp.MustCompile(`READY`),
		Timeout:      10 * time.Second,
		PollInterval: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, Matched, res.Outcome)
	assert.Equal(t, 1, res.Polls)
	assert.Equal(t, 1, res.Occurrences)
	assert.Empty(t, clock.sleeps)
	assert.Equal(t, []int{3}, sess.reads, "reads scrollback plus visible lines")
}

func TestWait_OccurrencesAccumulateAcrossPolls(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{screens: [][]string{
		{"boot", "READY"},
		{"clear"},
		{"READY", "more"},
		{"READY"},
	}}

	res, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern:      regexp.MustCompile(`READY`),
		Occurrences:  2,
		Timeout:      time.Minute,
		PollInterval: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, Matched, res.Outcome)
	assert.Equal(t, 3, res.Polls, "returns right after the third poll")
	assert.Equal(t, 2, res.Occurrences)
	assert.Equal(t, 2*time.Second, res.Elapsed)
}

func TestWait_RescanCountsLinesStillOnScreen(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{screens: [][]string{{"x", "READY"}}}

	res, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern:      regexp.MustCompile(`READY`),
		Occurrences:  3,
		Timeout:      time.Minute,
		PollInterval: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Polls)
}

func TestWait_SeveralMatchesInOnePoll(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{screens: [][]string{{"ok 1", "ok 2", "fail", "ok 3"}}}

	res, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern:     regexp.MustCompile(`^ok \d`),
		Occurrences: 3,
		Timeout:     time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Polls)
	assert.Equal(t, 3, res.Occurrences)
}

func TestWait_FailPolicyTimesOut(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{screens: [][]string{{"nothing here"}}}

	res, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern:      regexp.MustCompile(`READY`),
		Timeout:      5 * time.Second,
		PollInterval: time.Second,
		OnTimeout:    Fail,
		Label:        "build",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "READY", te.Pattern)
	assert.Equal(t, 5*time.Second, te.Timeout)
	assert.Equal(t, 5*time.Second, te.Elapsed)
	assert.Contains(t, err.Error(), "build content")
	assert.Contains(t, err.Error(), "READY")
	assert.Equal(t, 5, res.Polls)
}

func TestWait_WarnPolicyReturnsTimedOut(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{screens: [][]string{{"READY once"}, {"gone"}}}

	res, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern:      regexp.MustCompile(`READY`),
		Occurrences:  2,
		Timeout:      3 * time.Second,
		PollInterval: time.Second,
		OnTimeout:    Warn,
	})
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Equal(t, 1, res.Occurrences)
	assert.Equal(t, 3*time.Second, res.Elapsed)
}

func TestWait_TimeoutBoundedByPollInterval(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{screens: [][]string{{"idle"}}}

	_, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern:      regexp.MustCompile(`READY`),
		Timeout:      10 * time.Second,
		PollInterval: 3 * time.Second,
	})
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.GreaterOrEqual(t, te.Elapsed, te.Timeout)
	assert.Less(t, te.Elapsed, te.Timeout+3*time.Second)
}

func TestWait_RealClockReturnsAfterTimeout(t *testing.T) {
	sess := &scriptedSession{screens: [][]string{{"idle"}}}
	timeout := 60 * time.Millisecond
	poll := 10 * time.Millisecond

	start := time.Now()
	_, err := Wait(context.Background(), sess, Spec{
		Pattern:      regexp.MustCompile(`READY`),
		Timeout:      timeout,
		PollInterval: poll,
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+poll+500*time.Millisecond)
}

func TestWait_SessionNotFoundIsFatal(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{
		screens: [][]string{{"READY"}},
		errs:    []error{fmt.Errorf("tmux: %w", ErrSessionNotFound)},
	}

	res, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern: regexp.MustCompile(`READY`),
		Timeout: time.Minute,
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, res.Polls)
	assert.Empty(t, clock.sleeps)
}

func TestWait_TransientErrorsKeepPolling(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{
		screens: [][]string{nil, {"READY"}},
		errs:    []error{errors.New("capture-pane timed out")},
	}

	res, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern:      regexp.MustCompile(`READY`),
		Timeout:      time.Minute,
		PollInterval: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, Matched, res.Outcome)
	assert.Equal(t, 2, res.Polls)
}

func TestWait_ContextCancelWins(t *testing.T) {
	sess := &scriptedSession{screens: [][]string{{"idle"}}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Wait(ctx, sess, Spec{
		Pattern:      regexp.MustCompile(`READY`),
		Timeout:      time.Minute,
		PollInterval: 10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWait_Defaults(t *testing.T) {
	clock := newFakeClock()
	sess := &scriptedSession{screens: [][]string{{"a"}, {"b"}, {"READY"}}}

	res, err := New(WithClock(clock)).Wait(context.Background(), sess, Spec{
		Pattern: regexp.MustCompile(`READY`),
	})
	require.NoError(t, err)
	assert.Equal(t, Matched, res.Outcome)
	assert.Equal(t, []time.Duration{DefaultPollInterval, DefaultPollInterval}, clock.sleeps)
}

func TestWait_RejectsMissingPattern(t *testing.T) {
	_, err := Wait(context.Background(), &scriptedSession{}, Spec{})
	assert.Error(t, err)
}

func TestWait_EmptySessionTimesOut(t *testing.T) {
	clock := newFakeClock()
	res, err := New(WithClock(clock)).Wait(context.Background(), &scriptedSession{}, Spec{
		Pattern:      regexp.MustCompile(`.`),
		Timeout:      2 * time.Second,
		PollInterval: time.Second,
		OnTimeout:    Warn,
	})
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Equal(t, 2, res.Polls)
}

func TestWait_IndependentWaitsRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := &scriptedSession{screens: [][]string{{"x"}, {fmt.Sprintf("READY %d", i)}}}
			res, err := New(WithClock(newFakeClock())).Wait(context.Background(), sess, Spec{
				Pattern: regexp.MustCompile(`READY`),
				Timeout: time.Minute,
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, Matched, r.Outcome)
		assert.Equal(t, 2, r.Polls)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("WARN")
	require.NoError(t, err)
	assert.Equal(t, Warn, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Fail, p)

	_, err = ParsePolicy("ignore")
	assert.Error(t, err)
}
