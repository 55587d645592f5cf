package changemaster

import "time"

type (
	Config struct {
		Store             StoreConfig   `yaml:"store" envPrefix:"STORE_"`
		ChangeHorizon     int64         `yaml:"change_horizon" env:"CHANGE_HORIZON"`
		PruneInterval     time.Duration `yaml:"prune_interval" env:"PRUNE_INTERVAL"`
		CacheSize         int           `yaml:"cache_size" env:"CACHE_SIZE"`
		PageSize          int           `yaml:"page_size" env:"PAGE_SIZE"`
		SubscriberTimeout time.Duration `yaml:"subscriber_timeout" env:"SUBSCRIBER_TIMEOUT"`
		ConsumerBuffer    int           `yaml:"consumer_buffer" env:"CONSUMER_BUFFER"`
	}

	StoreConfig struct {
		Backend  string `yaml:"backend" env:"BACKEND"`
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		Prefix   string `yaml:"prefix" env:"PREFIX"`
		DSN      string `yaml:"dsn" env:"DSN"`
		Path     string `yaml:"path" env:"PATH"`
		DB       int    `yaml:"db" env:"DB"`
	}
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
)

const (
	DefaultBackend           = BackendBolt
	DefaultRedisEndpoint     = "localhost:6379"
	DefaultRedisPrefix       = "changemaster"
	DefaultRedisDB           = 0
	DefaultBoltPath          = "changes.db"
	DefaultChangeHorizon     = 0
	DefaultPruneInterval     = time.Second
	DefaultCacheSize         = 4096
	DefaultPageSize          = 256
	DefaultSubscriberTimeout = 10 * time.Second
	DefaultConsumerBuffer    = 64
)

// EnvPrefix is prepended to every environment variable read into a Config
const EnvPrefix = "CHANGEMASTER_"

func DefaultConfig() Config {
	return Config{
		Store:             DefaultStoreConfig(),
		ChangeHorizon:     DefaultChangeHorizon,
		PruneInterval:     DefaultPruneInterval,
		CacheSize:         DefaultCacheSize,
		PageSize:          DefaultPageSize,
		SubscriberTimeout: DefaultSubscriberTimeout,
		ConsumerBuffer:    DefaultConsumerBuffer,
	}
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:  DefaultBackend,
		Addr:     DefaultRedisEndpoint,
		Password: "",
		DB:       DefaultRedisDB,
		Prefix:   DefaultRedisPrefix,
		Path:     DefaultBoltPath,
	}
}

// normalize replaces unusable values with their defaults
func (c Config) normalize() Config {
	if c.ChangeHorizon < 0 {
		c.ChangeHorizon = 0
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = DefaultPruneInterval
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.SubscriberTimeout <= 0 {
		c.SubscriberTimeout = DefaultSubscriberTimeout
	}
	if c.ConsumerBuffer <= 0 {
		c.ConsumerBuffer = DefaultConsumerBuffer
	}
	return c
}
