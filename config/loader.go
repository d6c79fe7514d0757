package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml (if present) from the given search paths,
// overlays environment variables and validates the result. A .env file next
// to the process or at the module root is loaded first when one exists.
func Load(searchPaths ...string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"./configs", "../../configs", "."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about, so every key
// that may come solely from the environment is bound explicitly.
func bindEnv(v *viper.Viper) {
	keys := []string{
		"app.name", "app.environment",
		"database.postgres.dsn", "database.postgres.max_conns",
		"database.postgres.max_conn_lifetime", "database.postgres.migrate_on_start",
		"redis.address", "redis.password", "redis.db", "redis.pool_size",
		"kafka.brokers", "kafka.topic",
		"aws.region", "aws.ses.enabled", "aws.ses.from_email", "aws.s3.bucket",
		"auth.jwt_secret", "auth.token_ttl",
		"notifications.delivery_timeout",
		"logging.level", "logging.format",
		"metrics.addr",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	_ = v.BindEnv("database.postgres.dsn", "DATABASE_POSTGRES_DSN", "DATABASE_URL")
}

// expandEnvVars resolves ${VAR} placeholders left in string values of the
// yaml file.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		raw, ok := v.Get(key).(string)
		if !ok || !strings.Contains(raw, "${") {
			continue
		}
		v.Set(key, os.ExpandEnv(raw))
	}
}

func loadEnvFile() {
	candidates := []string{".env", "../.env", "../../.env"}
	if root := findModuleRoot(); root != "" {
		candidates = append(candidates, filepath.Join(root, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "estateflow"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Database.Postgres.MaxConns <= 0 {
		cfg.Database.Postgres.MaxConns = 16
	}
	if cfg.Database.Postgres.MaxConnLifetime <= 0 {
		cfg.Database.Postgres.MaxConnLifetime = 30 * time.Minute
	}
	if cfg.Redis.PoolSize <= 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "estateflow.notifications"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Notifications.DeliveryTimeout <= 0 {
		cfg.Notifications.DeliveryTimeout = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

func validate(cfg *Config) error {
	var problems []string
	if cfg.Database.Postgres.DSN == "" {
		problems = append(problems, "database.postgres.dsn is required")
	}
	if cfg.Auth.JWTSecret == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	if cfg.AWS.SES.Enabled && cfg.AWS.SES.FromEmail == "" {
		problems = append(problems, "aws.ses.from_email is required when ses is enabled")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
