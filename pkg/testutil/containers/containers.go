//go:build integration

// Package containers starts the backing services of the receipt server
// (Postgres, Redis, Redpanda) once per test binary and shares them.
package containers

import (
	"sync"
	"testing"
)

// Manager hands out lazily started, process-wide containers.
type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
	redis    *RedisContainer
	kafka    *KafkaContainer
}

var (
	globalManager *Manager
	initOnce      sync.Once
)

func GetManager() *Manager {
	initOnce.Do(func() {
		globalManager = &Manager{}
	})
	return globalManager
}

func lazy[T any](m *Manager, t *testing.T, slot **T, start func(*testing.T) *T) *T {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if *slot == nil {
		*slot = start(t)
	}
	return *slot
}

// GetPostgres returns Postgres with the receipt migrations applied.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	return lazy(m, t, &m.postgres, NewPostgresContainer)
}

// GetRedis returns the Redis instance used for receipt slots and rate limits.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	return lazy(m, t, &m.redis, NewRedisContainer)
}

// GetKafka returns a Redpanda broker with topic auto-creation enabled.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	return lazy(m, t, &m.kafka, NewKafkaContainer)
}
