package dashboard

import (
	"sync"
	"time"

	"rollcall/internal/metrics"
	"rollcall/internal/model"
)

type entry struct {
	ctl       *Controller
	expiresAt time.Time // zero never expires
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Registry holds one Controller per signed-in dashboard.
type Registry struct {
	mu      sync.Mutex
	svc     Service
	opts    Options
	metrics *metrics.Metrics
	byID    map[string]entry
}

// NewRegistry creates an empty registry whose controllers share svc and opts.
func NewRegistry(svc Service, opts Options) *Registry {
	return &Registry{
		svc:     svc,
		opts:    opts,
		metrics: opts.Metrics,
		byID:    make(map[string]entry),
	}
}

// Get returns the controller for id, if any.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	return e.ctl, ok
}

// Open returns the controller for id, creating a logged-out one that never
// expires if needed.
func (r *Registry) Open(id string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		return e.ctl
	}
	c := NewController(r.svc, r.opts)
	r.byID[id] = entry{ctl: c}
	r.metrics.DashboardOpened()
	return c
}

// Restore returns the controller for id, rebuilding it from a stored
// credential when the process no longer holds one.
func (r *Registry) Restore(id, token string, teacher model.Teacher, expiresAt time.Time) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		return e.ctl
	}
	c := NewController(r.svc, r.opts)
	c.Restore(token, teacher)
	r.byID[id] = entry{ctl: c, expiresAt: expiresAt}
	r.metrics.DashboardOpened()
	return c
}

// Put installs c under id until expiresAt, closing any controller it
// replaces.
func (r *Registry) Put(id string, c *Controller, expiresAt time.Time) {
	r.mu.Lock()
	old, existed := r.byID[id]
	r.byID[id] = entry{ctl: c, expiresAt: expiresAt}
	r.mu.Unlock()
	if existed && old.ctl != c {
		old.ctl.Close()
		return
	}
	if !existed {
		r.metrics.DashboardOpened()
	}
}

// New builds a controller sharing the registry's service and options
// without registering it.
func (r *Registry) New() *Controller {
	return NewController(r.svc, r.opts)
}

// Remove closes and forgets the controller for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if ok {
		e.ctl.Close()
		r.metrics.DashboardClosed()
	}
}

// Sweep closes every dashboard whose login expired at or before now and
// returns how many were closed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var stale []*Controller
	for id, e := range r.byID {
		if e.expired(now) {
			stale = append(stale, e.ctl)
			delete(r.byID, id)
		}
	}
	r.mu.Unlock()
	for _, c := range stale {
		c.Close()
		r.metrics.DashboardClosed()
	}
	return len(stale)
}

// CloseAll stops every controller; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.byID
	r.byID = make(map[string]entry)
	r.mu.Unlock()
	for _, e := range all {
		e.ctl.Close()
		r.metrics.DashboardClosed()
	}
}

// Len reports how many dashboards are open.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
