package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"klarogeo/internal/platform/config"
)

// poolCollectors mirror go-redis pool statistics.
type poolCollectors struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	timeouts   prometheus.Counter
	totalConns prometheus.Gauge
	idleConns  prometheus.Gauge
}

func newPoolCollectors(reg prometheus.Registerer) *poolCollectors {
	factory := promauto.With(reg)
	return &poolCollectors{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "klaro_geo_redis_pool_hits_total",
			Help: "Number of times a connection was found in the pool",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "klaro_geo_redis_pool_misses_total",
			Help: "Number of times a connection was not found in the pool",
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "klaro_geo_redis_pool_timeouts_total",
			Help: "Number of times a connection was not obtained due to timeout",
		}),
		totalConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "klaro_geo_redis_pool_total_conns",
			Help: "Number of total connections in the pool",
		}),
		idleConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "klaro_geo_redis_pool_idle_conns",
			Help: "Number of idle connections in the pool",
		}),
	}
}

// Client wraps the go-redis client backing the shared receipt slot.
type Client struct {
	*redis.Client
	collectors *poolCollectors
	lastStats  *redis.PoolStats
}

// New creates a Redis client from cfg and registers pool metrics on reg.
// Returns nil if the URL is empty (Redis not configured).
func New(cfg config.RedisConfig, reg prometheus.Registerer) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Client{Client: client, collectors: newPoolCollectors(reg)}, nil
}

// Health checks if the Redis connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RecordPoolStats copies the current pool statistics into the collectors.
func (c *Client) RecordPoolStats() {
	stats := c.PoolStats()
	c.collectors.totalConns.Set(float64(stats.TotalConns))
	c.collectors.idleConns.Set(float64(stats.IdleConns))

	var last redis.PoolStats
	if c.lastStats != nil {
		last = *c.lastStats
	}
	if stats.Hits > last.Hits {
		c.collectors.hits.Add(float64(stats.Hits - last.Hits))
	}
	if stats.Misses > last.Misses {
		c.collectors.misses.Add(float64(stats.Misses - last.Misses))
	}
	if stats.Timeouts > last.Timeouts {
		c.collectors.timeouts.Add(float64(stats.Timeouts - last.Timeouts))
	}
	c.lastStats = stats
}

// RunStats records pool statistics every interval until ctx is done.
func (c *Client) RunStats(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.RecordPoolStats()
		}
	}
}
