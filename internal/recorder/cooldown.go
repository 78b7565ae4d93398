package recorder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownTable remembers when each label was last recorded.
type CooldownTable interface {
	// LastRecorded returns the last recorded time for label, if any.
	LastRecorded(ctx context.Context, label string) (time.Time, bool, error)
	// MarkRecorded stores at as the last recorded time for label.
	MarkRecorded(ctx context.Context, label string, at time.Time, cooldown time.Duration) error
	// Forget drops label, used once a subject can never be seen again.
	Forget(ctx context.Context, label string) error
}

// MemoryCooldown is the in-process cooldown table. It is lost on restart.
type MemoryCooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryCooldown creates an empty in-process table.
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{last: make(map[string]time.Time)}
}

func (m *MemoryCooldown) LastRecorded(ctx context.Context, label string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.last[label]
	return at, ok, nil
}

func (m *MemoryCooldown) MarkRecorded(ctx context.Context, label string, at time.Time, cooldown time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[label] = at
	return nil
}

func (m *MemoryCooldown) Forget(ctx context.Context, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, label)
	return nil
}

// Prune drops entries recorded before cutoff and returns how many were dropped.
func (m *MemoryCooldown) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for label, at := range m.last {
		if at.Before(cutoff) {
			delete(m.last, label)
			n++
		}
	}
	return n
}

// Len returns the number of tracked labels.
func (m *MemoryCooldown) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}

const (
	redisKeyPrefix = "barrio:cooldown:"
	minRedisKeyTTL = time.Minute
)

// RedisCooldown keeps the cooldown table in Redis so several gate processes
// watching the same entrance share it. Keys expire after twice the cooldown.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldown connects to the Redis server at url (redis://host:port/db).
// An empty prefix uses the default key prefix.
func NewRedisCooldown(ctx context.Context, url, prefix string) (*RedisCooldown, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisCooldownFromClient(client, prefix), nil
}

// NewRedisCooldownFromClient wraps an existing client.
func NewRedisCooldownFromClient(client *redis.Client, prefix string) *RedisCooldown {
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	return &RedisCooldown{client: client, prefix: prefix}
}

func (r *RedisCooldown) key(label string) string {
	return r.prefix + label
}

func (r *RedisCooldown) LastRecorded(ctx context.Context, label string) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, r.key(label)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get: %w", err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt cooldown value %q: %w", val, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (r *RedisCooldown) MarkRecorded(ctx context.Context, label string, at time.Time, cooldown time.Duration) error {
	ttl := max(2*cooldown, minRedisKeyTTL)
	if err := r.client.Set(ctx, r.key(label), strconv.FormatInt(at.UnixNano(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCooldown) Forget(ctx context.Context, label string) error {
	if err := r.client.Del(ctx, r.key(label)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisCooldown) Close() error {
	return r.client.Close()
}
