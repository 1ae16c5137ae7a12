package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// DatabaseConfiguration controls the shared PostgreSQL instance and its pool
type DatabaseConfiguration struct {
	URL                        string `toml:"url"`
	MaxConnections             int    `toml:"max_connections"`
	MinConnections             int    `toml:"min_connections"`
	IdleTimeoutMS              int    `toml:"idle_timeout_ms"`
	ConnectTimeoutMS           int    `toml:"connect_timeout_ms"`
	StatementTimeoutMS         int    `toml:"statement_timeout_ms"`
	AcquireTimeoutMS           int    `toml:"acquire_timeout_ms"`
	HealthCheckIntervalSeconds int    `toml:"health_check_interval_seconds"`
	FatalAfterFailures         int    `toml:"fatal_after_failures"` // Consecutive failed health checks before the process exits
}

// RemoteBackendConfiguration controls the remote procedure backend
type RemoteBackendConfiguration struct {
	Enabled   bool   `toml:"enabled"`
	URL       string `toml:"url"`
	Key       string `toml:"key"`
	Codec     string `toml:"codec"` // "json" or "msgpack"
	TimeoutMS int    `toml:"timeout_ms"`
}

// DialectConfiguration controls query translation
type DialectConfiguration struct {
	CacheSize    int  `toml:"cache_size"`
	StrictParams bool `toml:"strict_params"` // Reject placeholder/parameter count mismatches
}

// TenantConfiguration controls schema provisioning
type TenantConfiguration struct {
	TemplatePath            string `toml:"template_path"` // Empty uses the built-in template
	BackupDir               string `toml:"backup_dir"`
	OperationTimeoutSeconds int    `toml:"operation_timeout_seconds"`
}

// AdminConfiguration controls the admin/metrics HTTP listener
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`

	Database   DatabaseConfiguration      `toml:"database"`
	Remote     RemoteBackendConfiguration `toml:"remote"`
	Dialect    DialectConfiguration       `toml:"dialect"`
	Tenant     TenantConfiguration        `toml:"tenant"`
	Admin      AdminConfiguration         `toml:"admin"`
	Logging    LoggingConfiguration       `toml:"logging"`
	Prometheus PrometheusConfiguration    `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag  = flag.String("config", "tenantdb.toml", "Path to configuration file")
	EnvFileFlag     = flag.String("env-file", ".env", "Path to an optional .env file")
	DatabaseURLFlag = flag.String("database-url", "", "PostgreSQL connection string (overrides config and env)")
	AdminPortFlag   = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	VerboseFlag     = flag.Bool("verbose", false, "Enable debug logging")
)

// Default configuration
var Config = DefaultConfiguration()

// DefaultConfiguration returns a configuration populated with defaults
func DefaultConfiguration() *Configuration {
	return &Configuration{
		InstanceID: 0, // Auto-generate

		Database: DatabaseConfiguration{
			URL:                        "postgres://localhost:5432/postgres?sslmode=disable",
			MaxConnections:             20,
			MinConnections:             0,
			IdleTimeoutMS:              30000,
			ConnectTimeoutMS:           2000,
			StatementTimeoutMS:         30000,
			AcquireTimeoutMS:           2000,
			HealthCheckIntervalSeconds: 15,
			FatalAfterFailures:         3,
		},

		Remote: RemoteBackendConfiguration{
			Enabled:   false,
			Codec:     "json",
			TimeoutMS: 10000,
		},

		Dialect: DialectConfiguration{
			CacheSize:    1024,
			StrictParams: true,
		},

		Tenant: TenantConfiguration{
			BackupDir:               "./backups",
			OperationTimeoutSeconds: 300,
		},

		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        9480,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Load loads configuration from file, .env and environment, then applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Existing environment variables win over .env entries
	if *EnvFileFlag != "" {
		if err := godotenv.Load(*EnvFileFlag); err == nil {
			log.Info().Str("path", *EnvFileFlag).Msg("Loaded environment file")
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if err := ApplyEnv(Config, os.LookupEnv); err != nil {
		return err
	}

	// Apply CLI overrides
	if *DatabaseURLFlag != "" {
		Config.Database.URL = *DatabaseURLFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to derive instance ID from machine ID, using 1")
			Config.InstanceID = 1
		}
	}

	return nil
}

// ApplyEnv overrides c with the recognized environment variables
func ApplyEnv(c *Configuration, lookup func(string) (string, bool)) error {
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Database.URL = v
	}

	ints := []struct {
		key  string
		dest *int
	}{
		{"DB_POOL_MAX", &c.Database.MaxConnections},
		{"DB_IDLE_TIMEOUT_MS", &c.Database.IdleTimeoutMS},
		{"DB_CONNECT_TIMEOUT_MS", &c.Database.ConnectTimeoutMS},
		{"DB_STATEMENT_TIMEOUT_MS", &c.Database.StatementTimeoutMS},
		{"DB_ACQUIRE_TIMEOUT_MS", &c.Database.AcquireTimeoutMS},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		*e.dest = n
	}

	if v, ok := lookup("REMOTE_BACKEND_URL"); ok && v != "" {
		c.Remote.URL = v
	}
	if v, ok := lookup("REMOTE_BACKEND_KEY"); ok && v != "" {
		c.Remote.Key = v
	}
	if v, ok := lookup("USE_REMOTE_BACKEND"); ok && v != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid USE_REMOTE_BACKEND: %w", err)
		}
		c.Remote.Enabled = enabled
	}

	return nil
}

// generateInstanceID creates a stable instance ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("tenantdb")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	return ValidateConfiguration(Config)
}

// ValidateConfiguration checks c for errors
func ValidateConfiguration(c *Configuration) error {
	// Lifecycle operations, seeding and the admin stats always run on the
	// pool, so a remote query backend does not make the database optional
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}

	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be >= 1")
	}

	if c.Database.MinConnections < 0 || c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database min connections must be between 0 and max connections")
	}

	if c.Database.IdleTimeoutMS < 0 {
		return fmt.Errorf("database idle timeout must be >= 0")
	}

	if c.Database.ConnectTimeoutMS < 1 {
		return fmt.Errorf("database connect timeout must be >= 1ms")
	}

	if c.Database.StatementTimeoutMS < 0 {
		return fmt.Errorf("database statement timeout must be >= 0")
	}

	if c.Database.AcquireTimeoutMS < 1 {
		return fmt.Errorf("database acquire timeout must be >= 1ms")
	}

	if c.Database.HealthCheckIntervalSeconds < 0 {
		return fmt.Errorf("database health check interval must be >= 0")
	}

	if c.Database.FatalAfterFailures < 1 {
		return fmt.Errorf("database fatal-after failures must be >= 1")
	}

	switch c.Remote.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("invalid remote codec: %s", c.Remote.Codec)
	}

	if c.Remote.Enabled && c.Remote.TimeoutMS < 1 {
		return fmt.Errorf("remote timeout must be >= 1ms")
	}

	if c.Dialect.CacheSize < 1 {
		return fmt.Errorf("dialect cache size must be >= 1")
	}

	if c.Tenant.OperationTimeoutSeconds < 1 {
		return fmt.Errorf("tenant operation timeout must be >= 1 second")
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// UseRemoteBackend reports whether the remote backend is both enabled and configured
func (c *Configuration) UseRemoteBackend() bool {
	return c.Remote.Enabled && c.Remote.URL != "" && c.Remote.Key != ""
}

// Millis converts a millisecond setting to a duration
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
