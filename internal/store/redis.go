package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every key rollcall writes.
const DefaultNamespace = "rollcall"

// RedisOptions configures the shared Redis connection.
type RedisOptions struct {
	Addr      string
	Password  string
	Namespace string
}

// Redis is the connection shared by the login store and the audit queue.
type Redis struct {
	Client    *redis.Client
	Namespace string
}

// NewRedis connects to redis with short timeouts under opts.Namespace
// (DefaultNamespace when empty).
func NewRedis(opts RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: time.Second,
	})
	ns := strings.TrimSuffix(opts.Namespace, ":")
	if ns == "" {
		ns = DefaultNamespace
	}
	return &Redis{Client: client, Namespace: ns}
}

// Key namespaces name, e.g. Key("audit") is "rollcall:audit".
func (r *Redis) Key(name string) string {
	return r.Namespace + ":" + name
}

// Logins returns the login store kept under Key("login:").
func (r *Redis) Logins() *RedisLogins {
	return NewRedisLogins(r.Client, r.Key("login:"))
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
