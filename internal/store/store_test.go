package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/model"
)

func testLoginStore(t *testing.T, s LoginStore) {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()

	_, err := s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrLoginNotFound)

	in := Login{
		DashboardID: id,
		Token:       "upstream-token",
		Teacher:     model.Teacher{Name: "Grace Hopper", Username: "grace"},
		ExpiresAt:   time.Now().Add(time.Minute).UTC().Truncate(time.Second),
	}
	require.NoError(t, s.Save(ctx, in))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, in.Token, got.Token)
	assert.Equal(t, in.Teacher, got.Teacher)
	assert.True(t, in.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrLoginNotFound)

	assert.Error(t, s.Save(ctx, Login{DashboardID: id, ExpiresAt: in.ExpiresAt}))
	assert.Error(t, s.Save(ctx, Login{DashboardID: id, Token: "x", ExpiresAt: time.Now().Add(-time.Second)}))
}

func TestMemoryLogins(t *testing.T) {
	testLoginStore(t, NewMemoryLogins())
}

func TestMemoryLoginsExpire(t *testing.T) {
	s := NewMemoryLogins()
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, Login{DashboardID: "d", Token: "t", ExpiresAt: now.Add(time.Minute)}))
	_, err := s.Get(ctx, "d")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "d")
	assert.ErrorIs(t, err, ErrLoginNotFound)
}

func TestRedisLogins(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	r := NewRedis(RedisOptions{Addr: addr, Namespace: "rollcall-test"})
	defer r.Close()
	require.True(t, r.Healthy(context.Background()))
	testLoginStore(t, r.Logins())
}

func TestRedisKeys(t *testing.T) {
	r := NewRedis(RedisOptions{Addr: "localhost:0"})
	defer r.Close()
	assert.Equal(t, "rollcall:audit", r.Key("audit"))
	assert.Equal(t, "rollcall:login:d1", r.Logins().key("d1"))

	r2 := NewRedis(RedisOptions{Addr: "localhost:0", Namespace: "school-a:"})
	defer r2.Close()
	assert.Equal(t, "school-a:login:d1", r2.Logins().key("d1"))
}

func TestNewDBRequiresURL(t *testing.T) {
	_, err := NewDB(context.Background(), "")
	assert.Error(t, err)

	var db *DB
	assert.False(t, db.Healthy(context.Background()))
	assert.NoError(t, db.Close())
}
