package roster

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rollcall/internal/model"
)

// DefaultInterval is how often the roster is refetched.
const DefaultInterval = 4 * time.Second

// FetchFunc loads the full roster of a session.
type FetchFunc func(ctx context.Context, sessionID string) ([]model.Record, error)

// ApplyFunc receives every successful snapshot. It is never called for a
// failed fetch.
type ApplyFunc func(sessionID string, records []model.Record)

// Poller periodically refetches one session's roster.
type Poller struct {
	fetch     FetchFunc
	apply     ApplyFunc
	sessionID string
	interval  time.Duration
	log       *zap.Logger
	bound     context.Context

	// fetchMu serializes timer fetches and out-of-cycle refreshes so the last
	// applied snapshot is also the last one requested.
	fetchMu sync.Mutex
}

// NewPoller creates a poller for sessionID. A non-positive interval falls
// back to DefaultInterval.
func NewPoller(sessionID string, interval time.Duration, fetch FetchFunc, apply ApplyFunc, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		fetch:     fetch,
		apply:     apply,
		sessionID: sessionID,
		interval:  interval,
		log:       log,
	}
}

// Bind ties every fetch, including out-of-cycle refreshes run under a
// caller's context, to ctx. Call it before Run.
func (p *Poller) Bind(ctx context.Context) { p.bound = ctx }

// SessionID returns the session this poller follows.
func (p *Poller) SessionID() string { return p.sessionID }

// Run fetches immediately and then every interval until ctx is cancelled.
// Without a session id it returns at once.
func (p *Poller) Run(ctx context.Context) {
	if p.sessionID == "" {
		return
	}
	p.Refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Refresh performs one fetch and applies it on success. Failures are logged
// and leave the previous snapshot in place.
func (p *Poller) Refresh(ctx context.Context) error {
	if p.sessionID == "" {
		return nil
	}
	if p.bound != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(p.bound, cancel)
		defer stop()
	}

	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	records, err := p.fetch(ctx, p.sessionID)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("roster fetch failed", zap.String("session_id", p.sessionID), zap.Error(err))
		}
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.apply(p.sessionID, records)
	return nil
}
