package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Instance  InstanceConfig  `mapstructure:"instance"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Points    PointsConfig    `mapstructure:"points"`
	Bidding   BiddingConfig   `mapstructure:"bidding"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// CacheConfig selects the AuctionCache backend. "memory" is only safe with a single bidding instance.
type CacheConfig struct {
	Driver        string        `mapstructure:"driver"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
	LeaseRetry    time.Duration `mapstructure:"lease_retry"`
	GraceWindow   time.Duration `mapstructure:"grace_window"`
	RehydrateWait time.Duration `mapstructure:"rehydrate_wait"`
}

type PointsConfig struct {
	Driver         string        `mapstructure:"driver"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

type BiddingConfig struct {
	Shards           int           `mapstructure:"shards"`
	QueueSize        int           `mapstructure:"queue_size"`
	PersistRetries   int           `mapstructure:"persist_retries"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
	PublishTimeout   time.Duration `mapstructure:"publish_timeout"`
	BroadcastTimeout time.Duration `mapstructure:"broadcast_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
}

type SchedulerConfig struct {
	Spec      string        `mapstructure:"spec"`
	LockName  string        `mapstructure:"lock_name"`
	MinHold   time.Duration `mapstructure:"min_hold"`
	MaxHold   time.Duration `mapstructure:"max_hold"`
	BatchSize int           `mapstructure:"batch_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_grace", 30*time.Second)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("mysql.migrate", false)
	v.SetDefault("instance.id", "auction-marketplace-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("cache.driver", "redis")
	v.SetDefault("cache.lease_ttl", 5*time.Second)
	v.SetDefault("cache.lease_retry", 5*time.Millisecond)
	v.SetDefault("cache.grace_window", 10*time.Minute)
	v.SetDefault("cache.rehydrate_wait", 2*time.Second)
	v.SetDefault("points.driver", "redis")
	v.SetDefault("points.timeout", 2*time.Second)
	v.SetDefault("points.max_retries", 3)
	v.SetDefault("points.retry_base_delay", 100*time.Millisecond)
	v.SetDefault("points.retry_max_delay", 2*time.Second)
	v.SetDefault("bidding.shards", 8)
	v.SetDefault("bidding.queue_size", 1024)
	v.SetDefault("bidding.persist_retries", 3)
	v.SetDefault("bidding.persist_timeout", 3*time.Second)
	v.SetDefault("bidding.publish_timeout", time.Second)
	v.SetDefault("bidding.broadcast_timeout", time.Second)
	v.SetDefault("bidding.write_timeout", 5*time.Second)
	v.SetDefault("bidding.send_buffer", 32)
	v.SetDefault("bidding.pong_wait", 60*time.Second)
	v.SetDefault("scheduler.spec", "@every 1s")
	v.SetDefault("scheduler.lock_name", "auction-lifecycle-sweep")
	v.SetDefault("scheduler.min_hold", 500*time.Millisecond)
	v.SetDefault("scheduler.max_hold", 30*time.Second)
	v.SetDefault("scheduler.batch_size", 100)
}

var envBindings = map[string]string{
	"server.port":             "SERVER_PORT",
	"server.host":             "SERVER_HOST",
	"redis.address":           "REDIS_ADDRESS",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"mysql.dsn":               "MYSQL_DSN",
	"mysql.max_open_conns":    "MYSQL_MAX_OPEN_CONNS",
	"mysql.max_idle_conns":    "MYSQL_MAX_IDLE_CONNS",
	"mysql.conn_max_lifetime": "MYSQL_CONN_MAX_LIFETIME",
	"mysql.migrate":           "MYSQL_MIGRATE",
	"instance.id":             "INSTANCE_ID",
	"log.level":               "LOG_LEVEL",
	"cache.driver":            "CACHE_DRIVER",
	"cache.lease_ttl":         "CACHE_LEASE_TTL",
	"points.driver":           "POINTS_DRIVER",
	"points.timeout":          "POINTS_TIMEOUT",
	"bidding.shards":          "BIDDING_SHARDS",
	"scheduler.spec":          "SCHEDULER_SPEC",
	"scheduler.min_hold":      "SCHEDULER_MIN_HOLD",
	"scheduler.max_hold":      "SCHEDULER_MAX_HOLD",
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/auction-marketplace/")

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if err := bindEnv(v); err != nil {
		return nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	return unmarshal(v)
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported cache driver %q", c.Cache.Driver)
	}
	switch c.Points.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported points driver %q", c.Points.Driver)
	}
	if c.Bidding.Shards <= 0 {
		return errors.New("bidding.shards must be positive")
	}
	// the point hold runs while the auction lease is held
	if c.Cache.Driver == "redis" && c.Cache.LeaseTTL > 0 && c.Cache.LeaseTTL <= c.Points.Timeout {
		return errors.New("cache.lease_ttl must exceed points.timeout")
	}
	if c.Scheduler.MinHold > c.Scheduler.MaxHold {
		return errors.New("scheduler.min_hold must not exceed scheduler.max_hold")
	}
	return nil
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s, Redis: %s, Cache: %s, Points: %s, Instance: %s",
		c.Address(),
		c.Redis.Address,
		c.Cache.Driver,
		c.Points.Driver,
		c.Instance.ID,
	)
}
