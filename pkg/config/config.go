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
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Model     ModelConfig     `mapstructure:"model"`
	Media     MediaConfig     `mapstructure:"media"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	// SubmitLimit caps run submissions per client per minute. 0 disables it.
	SubmitLimit int `mapstructure:"submit_limit"`
	// InstanceID identifies this replica on the runs it owns. Defaults to the hostname.
	InstanceID string `mapstructure:"instance_id"`
}

type DatabaseConfig struct {
	// Driver is one of postgres, sqlite or memory.
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	KeyTTL   int    `mapstructure:"key_ttl"` // seconds
}

type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	Topic         string   `mapstructure:"topic"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

type SchedulerConfig struct {
	// MaxConcurrency bounds in-flight nodes per run. 0 means unbounded.
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	NodeTimeout    time.Duration `mapstructure:"node_timeout"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
	// HeartbeatInterval renews the lease of in-flight runs. LeaseTTL is how
	// stale a lease must be before another replica closes the run.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
}

type ModelConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	DefaultModel      string        `mapstructure:"default_model"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
}

type MediaConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	WorkDir     string `mapstructure:"work_dir"`
}

type StorageConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

func Load(serviceName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/weaveflow")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("WEAVEFLOW")

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine, defaults and env vars still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideFromEnv(v, &config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 30)
	v.SetDefault("server.submit_limit", 60)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "weaveflow")
	v.SetDefault("database.password", "weaveflow")
	v.SetDefault("database.name", "weaveflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "weaveflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.log_level", "warn")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_ttl", 86400)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "weaveflow-group")
	v.SetDefault("kafka.topic", "weaveflow.runs")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.jaeger_url", "http://localhost:14268/api/traces")
	v.SetDefault("telemetry.service_name", "weaveflow")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.add_caller", true)
	v.SetDefault("logger.stacktrace", false)

	// Scheduler defaults
	v.SetDefault("scheduler.max_concurrency", 0)
	v.SetDefault("scheduler.node_timeout", 5*time.Minute)
	v.SetDefault("scheduler.run_timeout", 30*time.Minute)
	v.SetDefault("scheduler.heartbeat_interval", 15*time.Second)
	v.SetDefault("scheduler.lease_ttl", time.Minute)

	// Model defaults
	v.SetDefault("model.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("model.default_model", "gemini-2.0-flash")
	v.SetDefault("model.requests_per_second", 5.0)
	v.SetDefault("model.burst", 5)
	v.SetDefault("model.breaker_failures", 5)
	v.SetDefault("model.breaker_timeout", 60*time.Second)

	// Media defaults
	v.SetDefault("media.enabled", false)
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.work_dir", "")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.region", "us-east-1")
}

func overrideFromEnv(v *viper.Viper, cfg *Config) {
	// AutomaticEnv does not split list values.
	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if key := v.GetString("MODEL_API_KEY"); key != "" {
		cfg.Model.APIKey = key
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid database driver %q", c.Database.Driver)
	}
	if c.Scheduler.MaxConcurrency < 0 {
		return fmt.Errorf("scheduler.max_concurrency must be >= 0, got %d", c.Scheduler.MaxConcurrency)
	}
	if c.Scheduler.HeartbeatInterval > 0 && c.Scheduler.LeaseTTL > 0 && c.Scheduler.LeaseTTL <= c.Scheduler.HeartbeatInterval {
		return fmt.Errorf("scheduler.lease_ttl (%s) must exceed scheduler.heartbeat_interval (%s)",
			c.Scheduler.LeaseTTL, c.Scheduler.HeartbeatInterval)
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required when storage is enabled")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
