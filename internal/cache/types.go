package cache

import "time"

// CachedMapping is the Redis-resident form of one pseudonym mapping. Only
// the irreversible fingerprint and the pseudonym cross the wire; original
// values never reach the cache.
type CachedMapping struct {
	Fingerprint string    `json:"fingerprint"`
	Pseudonym   string    `json:"pseudonym"`
	Category    string    `json:"category"`
	CachedAt    time.Time `json:"cached_at"`
	TTL         int64     `json:"ttl"`
}

// Stats represents cache performance statistics.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration.
type Config struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
