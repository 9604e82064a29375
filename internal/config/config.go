package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BackendKind names the storage adapter a configured engine instance binds
// to (§6 "BackendConfig — discriminated union").
type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendFile   BackendKind = "file"
	BackendRedis  BackendKind = "redis"
	BackendSQL    BackendKind = "sql"
	BackendCustom BackendKind = "custom"
)

// BackendConfig is the discriminated union selecting the storage adapter and
// its parameters. Only the sub-struct matching Kind is populated; the rest
// are left zero. A Custom backend carries no parameters here at all — the
// caller supplies its own storage.Adapter directly to engine.New.
type BackendConfig struct {
	Kind  BackendKind
	File  FileBackendConfig
	Redis RedisBackendConfig
	SQL   SQLBackendConfig
}

type FileBackendConfig struct {
	FilePath string
}

type RedisBackendConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	StorageName  string
}

type SQLBackendConfig struct {
	DSN        string
	Schema     string
	TableName  string
	UseMigrate bool
}

// Validate rejects unknown backend kinds and kind/parameter mismatches
// (§7 "Configuration" errors, fatal at construction).
func (b BackendConfig) Validate() error {
	switch b.Kind {
	case BackendMemory, BackendCustom:
		return nil
	case BackendFile:
		if b.File.FilePath == "" {
			return fmt.Errorf("%w: file backend requires filePath", ErrInvalidBackendConfig)
		}
		return nil
	case BackendRedis:
		if b.Redis.Addr == "" {
			return fmt.Errorf("%w: redis backend requires addr", ErrInvalidBackendConfig)
		}
		return nil
	case BackendSQL:
		if b.SQL.DSN == "" {
			return fmt.Errorf("%w: sql backend requires a dsn", ErrInvalidBackendConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, b.Kind)
	}
}

// EngineConfig mirrors engine.Options' external shape (§6 "Engine
// configuration") so it can be decoded by viper without internal/config
// importing internal/engine (cmd/ wires the two together).
type EngineConfig struct {
	Delay              time.Duration
	Singleton          bool
	MaxRetries         int
	MaxProcessingTime  time.Duration
	CrashOnWorkerError bool
	SkipOnPayloadError bool
}

type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Engine   EngineConfig
	Worker   WorkerConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
	LogLevel string
}

type ServerConfig struct {
	Host         string
	Port         int
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type WorkerConfig struct {
	ID                string
	Concurrency       int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ShutdownTimeout   time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

// Load reads configuration from an optional local .env file, an optional
// YAML config file, and TASKQUEUE_*-prefixed environment variables, in that
// precedence order (env wins), matching the teacher's existing viper setup.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/taskqueue")

	setDefaults()

	viper.SetEnvPrefix("TASKQUEUE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Backend.Kind = BackendKind(viper.GetString("backend.kind"))

	if err := cfg.Backend.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.adminport", 8081)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	viper.SetDefault("backend.kind", "memory")
	viper.SetDefault("backend.file.filepath", "./data/tasks.json")
	viper.SetDefault("backend.redis.addr", "localhost:6379")
	viper.SetDefault("backend.redis.password", "")
	viper.SetDefault("backend.redis.db", 0)
	viper.SetDefault("backend.redis.poolsize", 100)
	viper.SetDefault("backend.redis.minidleconns", 10)
	viper.SetDefault("backend.redis.dialtimeout", 5*time.Second)
	viper.SetDefault("backend.redis.readtimeout", 3*time.Second)
	viper.SetDefault("backend.redis.writetimeout", 3*time.Second)
	viper.SetDefault("backend.redis.storagename", "queue-manager")
	viper.SetDefault("backend.sql.schema", "public")
	viper.SetDefault("backend.sql.tablename", "tasks")
	viper.SetDefault("backend.sql.usemigrate", true)

	viper.SetDefault("engine.delay", 10*time.Second)
	viper.SetDefault("engine.singleton", true)
	viper.SetDefault("engine.maxretries", 3)
	viper.SetDefault("engine.maxprocessingtime", 10*time.Minute)
	viper.SetDefault("engine.crashonworkererror", false)
	viper.SetDefault("engine.skiponpayloaderror", false)

	viper.SetDefault("worker.id", "")
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.heartbeatinterval", 5*time.Second)
	viper.SetDefault("worker.heartbeattimeout", 15*time.Second)
	viper.SetDefault("worker.shutdowntimeout", 30*time.Second)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	viper.SetDefault("loglevel", "info")
}
