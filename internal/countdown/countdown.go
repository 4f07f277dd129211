package countdown

import (
	"context"
	"fmt"
	"time"
)

// Expired is the display value once a session's window has elapsed.
const Expired = "EXPIRED"

// DefaultInterval is the refresh granularity of the countdown display.
const DefaultInterval = time.Second

// Format renders the time left until expiresAt as "m:ss remaining".
// A zero expiresAt means no active session and yields "".
func Format(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return ""
	}
	left := expiresAt.Sub(now)
	if left <= 0 {
		return Expired
	}
	total := int64(left / time.Second)
	return fmt.Sprintf("%d:%02d remaining", total/60, total%60)
}

// Options tunes Run. Zero values fall back to DefaultInterval and time.Now.
type Options struct {
	Interval time.Duration
	Now      func() time.Time
}

// Run emits the countdown text immediately and then once per interval until
// ctx is cancelled or the expired sentinel has been emitted.
func Run(ctx context.Context, expiresAt time.Time, opts Options, emit func(string)) {
	if expiresAt.IsZero() {
		emit("")
		return
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	text := Format(expiresAt, opts.Now())
	emit(text)
	if text == Expired {
		return
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			text = Format(expiresAt, opts.Now())
			emit(text)
			if text == Expired {
				return
			}
		}
	}
}
