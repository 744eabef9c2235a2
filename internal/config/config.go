package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay runtime parameters.
type Config struct {
	HTTPAddress         string             `mapstructure:"http_address"`
	LogLevel            string             `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration      `mapstructure:"-"`
	Mongo               MongoConfig        `mapstructure:"mongo"`
	Redis               RedisConfig        `mapstructure:"redis"`
	MessageStore        MessageStoreConfig `mapstructure:"message_store"`
	Audit               AuditConfig        `mapstructure:"audit"`
	Relay               RelayConfig        `mapstructure:"relay"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MessageStoreConfig selects where chat history lives.
type MessageStoreConfig struct {
	Backend    string        `mapstructure:"backend"`
	HistoryTTL time.Duration `mapstructure:"-"`
}

// AuditConfig describes the best-effort audit side channel.
type AuditConfig struct {
	Sink      string        `mapstructure:"sink"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"-"`
}

type RelayConfig struct {
	CollaboratorTimeout time.Duration `mapstructure:"-"`
	StrictJoin          bool          `mapstructure:"strict_join"`
	VerifyRoundTrip     bool          `mapstructure:"verify_roundtrip"`
	SendBuffer          int           `mapstructure:"send_buffer"`
}

const (
	BackendMongo = "mongo"
	BackendRedis = "redis"
	SinkMongo    = "mongo"
	SinkLog      = "log"
)

const (
	defaultHTTPAddress         = "localhost:8080"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultMongoURI            = "mongodb://localhost:27017"
	defaultMongoDatabase       = "hybrid_chat"
	defaultRedisAddr           = "localhost:6379"
	defaultMessageBackend      = BackendMongo
	defaultHistoryTTL          = 0
	defaultAuditSink           = SinkMongo
	defaultAuditQueueSize      = 1024
	defaultAuditTimeout        = 5 * time.Second
	defaultCollaboratorTimeout = 5 * time.Second
	defaultSendBuffer          = 64
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with HYBRIDCHAT_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HYBRIDCHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_address", defaultHTTPAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("mongo.uri", defaultMongoURI)
	v.SetDefault("mongo.database", defaultMongoDatabase)
	v.SetDefault("redis.addr", defaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("message_store.backend", defaultMessageBackend)
	v.SetDefault("message_store.history_ttl", time.Duration(defaultHistoryTTL).String())
	v.SetDefault("audit.sink", defaultAuditSink)
	v.SetDefault("audit.queue_size", defaultAuditQueueSize)
	v.SetDefault("audit.timeout", defaultAuditTimeout.String())
	v.SetDefault("relay.collaborator_timeout", defaultCollaboratorTimeout.String())
	v.SetDefault("relay.strict_join", true)
	v.SetDefault("relay.verify_roundtrip", true)
	v.SetDefault("relay.send_buffer", defaultSendBuffer)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod},
		{"message_store.history_ttl", &cfg.MessageStore.HistoryTTL},
		{"audit.timeout", &cfg.Audit.Timeout},
		{"relay.collaborator_timeout", &cfg.Relay.CollaboratorTimeout},
	}
	for _, d := range durations {
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if dur < 0 {
			return Config{}, fmt.Errorf("invalid %s: must not be negative", d.key)
		}
		*d.dst = dur
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.MessageStore.Backend {
	case BackendMongo, BackendRedis:
	default:
		return fmt.Errorf("unknown message_store.backend %q", c.MessageStore.Backend)
	}
	switch c.Audit.Sink {
	case SinkMongo, SinkLog:
	default:
		return fmt.Errorf("unknown audit.sink %q", c.Audit.Sink)
	}
	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = defaultAuditQueueSize
	}
	if c.Relay.SendBuffer <= 0 {
		c.Relay.SendBuffer = defaultSendBuffer
	}
	if c.Audit.Timeout == 0 {
		c.Audit.Timeout = defaultAuditTimeout
	}
	if c.Relay.CollaboratorTimeout == 0 {
		c.Relay.CollaboratorTimeout = defaultCollaboratorTimeout
	}
	if c.HTTPAddress == "" {
		c.HTTPAddress = defaultHTTPAddress
	}
	return nil
}

// NeedsRedis reports whether the redis client has to be dialed.
func (c Config) NeedsRedis() bool {
	return c.MessageStore.Backend == BackendRedis
}
