package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZerkerEOD/krakenwifi/internal/db"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
	"github.com/ZerkerEOD/krakenwifi/internal/tls"
	"github.com/ZerkerEOD/krakenwifi/pkg/env"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds the application configuration. It is read once at startup.
type Config struct {
	Host string
	Port int

	DataDir       string
	WorkDir       string
	MigrationsDir string
	HashcatPath   string

	MaxConcurrentJobs int
	DefaultWorkload   int
	StatusTimer       int
	ModeTimeouts      map[models.AttackKind]time.Duration

	StopGrace               time.Duration
	PauseGrace              time.Duration
	StaleWindow             time.Duration
	WatchdogSpec            string
	ProgressPersistInterval time.Duration

	Store    string
	Database db.Config

	RedisAddr    string
	RedisChannel string

	// API access
	JWTSecret         string
	TokenTTL          time.Duration
	CORSAllowedOrigin string
	TLS               tls.Config
}

// NewConfig creates a new Config instance with values from environment variables
func NewConfig() *Config {
	dataDir := env.GetOrDefault("KW_DATA_DIR", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataDir = filepath.Join(home, ".krakenwifi-data")
	}

	store := env.GetOrDefault("KW_STORE", "")
	if store == "" {
		store = StoreMemory
		if os.Getenv("DB_HOST") != "" {
			store = StorePostgres
		}
	}

	timeouts := make(map[models.AttackKind]time.Duration)
	for _, kind := range []models.AttackKind{models.AttackKindDictionary, models.AttackKindMask, models.AttackKindHybrid} {
		key := "KW_TIMEOUT_" + strings.ToUpper(string(kind))
		if d := env.GetDurationOrDefault(key, 0); d > 0 {
			timeouts[kind] = d
		}
	}

	return &Config{
		Host: env.GetOrDefault("KW_HOST", "localhost"),
		Port: env.GetIntOrDefault("KW_PORT", 8088),

		DataDir:       dataDir,
		WorkDir:       env.GetOrDefault("KW_WORK_DIR", filepath.Join(dataDir, "jobs")),
		MigrationsDir: env.GetOrDefault("KW_MIGRATIONS_DIR", "db/migrations"),
		HashcatPath:   env.GetOrDefault("KW_HASHCAT_PATH", "hashcat"),

		MaxConcurrentJobs: env.GetIntOrDefault("KW_MAX_CONCURRENT_JOBS", 1),
		DefaultWorkload:   env.GetIntOrDefault("KW_DEFAULT_WORKLOAD", 3),
		StatusTimer:       env.GetIntOrDefault("KW_STATUS_TIMER", 5),
		ModeTimeouts:      timeouts,

		StopGrace:               env.GetDurationOrDefault("KW_STOP_GRACE", 10*time.Second),
		PauseGrace:              env.GetDurationOrDefault("KW_PAUSE_GRACE", 5*time.Second),
		StaleWindow:             env.GetDurationOrDefault("KW_STALE_WINDOW", 60*time.Second),
		WatchdogSpec:            env.GetOrDefault("KW_WATCHDOG_SPEC", "@every 30s"),
		ProgressPersistInterval: env.GetDurationOrDefault("KW_PROGRESS_PERSIST_INTERVAL", 2*time.Second),

		Store: store,
		Database: db.Config{
			Host:     env.GetOrDefault("DB_HOST", "localhost"),
			Port:     env.GetIntOrDefault("DB_PORT", 5432),
			User:     env.GetOrDefault("DB_USER", "krakenwifi"),
			Password: env.GetOrDefault("DB_PASSWORD", ""),
			DBName:   env.GetOrDefault("DB_NAME", "krakenwifi"),
			SSLMode:  env.GetOrDefault("DB_SSLMODE", "disable"),
		},

		RedisAddr:    env.GetOrDefault("KW_REDIS_ADDR", ""),
		RedisChannel: env.GetOrDefault("KW_REDIS_CHANNEL", "krakenwifi:events"),

		JWTSecret:         env.GetOrDefault("KW_JWT_SECRET", ""),
		TokenTTL:          env.GetDurationOrDefault("KW_TOKEN_TTL", 24*time.Hour),
		CORSAllowedOrigin: env.GetOrDefault("CORS_ALLOWED_ORIGIN", ""),
		TLS: tls.Config{
			Mode:     env.GetOrDefault("KW_TLS_MODE", tls.ModeNone),
			CertFile: env.GetOrDefault("KW_TLS_CERT", ""),
			KeyFile:  env.GetOrDefault("KW_TLS_KEY", ""),
			CertsDir: env.GetOrDefault("KW_CERTS_DIR", filepath.Join(dataDir, "certs")),
			Hosts:    tlsHosts(),
		},
	}
}

func tlsHosts() []string {
	hosts := []string{"localhost", "127.0.0.1"}
	for _, h := range strings.Split(env.GetOrDefault("KW_TLS_HOSTS", ""), ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Validate reports settings the engine cannot run with
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("KW_MAX_CONCURRENT_JOBS must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	if c.DefaultWorkload < 1 || c.DefaultWorkload > 4 {
		return fmt.Errorf("KW_DEFAULT_WORKLOAD must be 1-4, got %d", c.DefaultWorkload)
	}
	if c.Store != StoreMemory && c.Store != StorePostgres {
		return fmt.Errorf("KW_STORE must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store)
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("KW_TLS_MODE: %w", err)
	}
	return nil
}

// TimeoutFor returns the default wall-clock timeout for an attack kind, 0 for none
func (c *Config) TimeoutFor(kind models.AttackKind) time.Duration {
	return c.ModeTimeouts[kind]
}

// GetAPIEndpoint returns the API endpoint URL
func (c *Config) GetAPIEndpoint() string {
	scheme := "http"
	if c.TLS.Enabled() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/api", scheme, c.Host, c.Port)
}

// GetWSEndpoint returns the WebSocket endpoint URL
func (c *Config) GetWSEndpoint() string {
	scheme := "ws"
	if c.TLS.Enabled() {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/api/ws", scheme, c.Host, c.Port)
}

// GetAddress returns the full address for the server to listen on
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
