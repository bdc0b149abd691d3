package daemon

import (
	"context"
	"fmt"
	"log/slog"

	dark "github.com/thiagokokada/dark-mode-go"
)

// themeSource streams OS dark-mode states; dark.WatchDarkMode has this shape.
type themeSource func(ctx context.Context) (<-chan bool, <-chan error, error)

// FollowTheme blocks until ctx is done, calling onChange each time the OS
// switches between dark and light. isDark is the state the caller already
// uses, so repeats of it are not reported. It fails only when the platform
// cannot report theme changes at all.
func FollowTheme(ctx context.Context, isDark bool, onChange func(isDark bool)) error {
	return followTheme(ctx, dark.WatchDarkMode, isDark, onChange)
}

func followTheme(ctx context.Context, watch themeSource, last bool, onChange func(bool)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	states, errs, err := watch(ctx)
	if err != nil {
		return fmt.Errorf("watch dark mode: %w", err)
	}
	for states != nil {
		select {
		case <-ctx.Done():
			return nil
		case isDark, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if isDark == last {
				continue
			}
			last = isDark
			onChange(isDark)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				daemonLog.Warn("theme_watch_error", slog.String("error", err.Error()))
			}
		}
	}
	daemonLog.Debug("theme_watch_ended")
	return nil
}
