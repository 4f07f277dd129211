package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/model"
)

// ErrLoginNotFound is returned for unknown or expired dashboard logins.
var ErrLoginNotFound = errors.New("login not found")

// Login ties a dashboard id to the upstream credential it was issued for.
type Login struct {
	DashboardID string        `json:"dashboard_id"`
	Token       string        `json:"token"`
	Teacher     model.Teacher `json:"teacher"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// LoginStore keeps dashboard logins so a restarted process can rebuild the
// controller for a still-valid browser token.
type LoginStore interface {
	Save(ctx context.Context, l Login) error
	Get(ctx context.Context, dashboardID string) (Login, error)
	Delete(ctx context.Context, dashboardID string) error
}

func (l Login) validate() error {
	if l.DashboardID == "" || l.Token == "" {
		return fmt.Errorf("login: missing dashboard_id or token")
	}
	if !l.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("login: expires_at must be in the future")
	}
	return nil
}

// RedisLogins stores logins as JSON under a prefixed key with a TTL.
type RedisLogins struct {
	client *redis.Client
	prefix string
}

// NewRedisLogins creates a Redis-backed login store keyed under prefix.
func NewRedisLogins(client *redis.Client, prefix string) *RedisLogins {
	if prefix == "" {
		prefix = DefaultNamespace + ":login:"
	}
	return &RedisLogins{client: client, prefix: prefix}
}

func (r *RedisLogins) key(id string) string {
	return r.prefix + id
}

func (r *RedisLogins) Save(ctx context.Context, l Login) error {
	if err := l.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("login: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, r.key(l.DashboardID), data, time.Until(l.ExpiresAt)).Err()
}

func (r *RedisLogins) Get(ctx context.Context, dashboardID string) (Login, error) {
	val, err := r.client.Get(ctx, r.key(dashboardID)).Result()
	if errors.Is(err, redis.Nil) {
		return Login{}, ErrLoginNotFound
	}
	if err != nil {
		return Login{}, err
	}
	var l Login
	if err := json.Unmarshal([]byte(val), &l); err != nil {
		return Login{}, fmt.Errorf("login: failed to unmarshal: %w", err)
	}
	return l, nil
}

func (r *RedisLogins) Delete(ctx context.Context, dashboardID string) error {
	return r.client.Del(ctx, r.key(dashboardID)).Err()
}

// MemoryLogins is the single-process LoginStore.
type MemoryLogins struct {
	mu     sync.Mutex
	logins map[string]Login
	now    func() time.Time
}

// NewMemoryLogins creates an empty in-memory store.
func NewMemoryLogins() *MemoryLogins {
	return &MemoryLogins{logins: make(map[string]Login), now: time.Now}
}

func (m *MemoryLogins) Save(_ context.Context, l Login) error {
	if err := l.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.logins[l.DashboardID] = l
	m.mu.Unlock()
	return nil
}

func (m *MemoryLogins) Get(_ context.Context, dashboardID string) (Login, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logins[dashboardID]
	if !ok {
		return Login{}, ErrLoginNotFound
	}
	if !l.ExpiresAt.After(m.now()) {
		delete(m.logins, dashboardID)
		return Login{}, ErrLoginNotFound
	}
	return l, nil
}

func (m *MemoryLogins) Delete(_ context.Context, dashboardID string) error {
	m.mu.Lock()
	delete(m.logins, dashboardID)
	m.mu.Unlock()
	return nil
}
