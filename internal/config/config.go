// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTP    HTTPConfig
	Store   StoreConfig
	Redis   RedisConfig
	Graph   GraphConfig
	AI      AIConfig
	Auth    AuthConfig
	Logging LoggingConfig
	Policy  PolicyConfig
}

type HTTPConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver      string // mongo|postgres|memory
	MongoURI    string
	MongoDB     string
	PostgresDSN string
}

type RedisConfig struct {
	Addr string
}

// GraphConfig configures the lineage graph. An empty URI disables it.
type GraphConfig struct {
	URI      string
	Database string
	Username string
	Password string
}

type AIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type LoggingConfig struct {
	Level  string
	Format string // text|json
}

type PolicyConfig struct {
	DefaultAssessmentLimit int
	// RolesFile optionally overrides the built-in role matrix.
	RolesFile string
}

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const (
	defaultPort            = 8080
	defaultShutdownTimeout = 10 * time.Second
	defaultMongoURI        = "mongodb://localhost:27017"
	defaultMongoDB         = "riskgate"
	defaultRedisAddr       = "localhost:6379"
	defaultAITimeout       = 90 * time.Second
	defaultAssessmentLimit = 5
	defaultJWTSecret       = "your_jwt_secret_key"
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			ShutdownTimeout: defaultShutdownTimeout,
			AllowedOrigins:  splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(valueOrDefault("STORE_DRIVER", DriverMongo)),
			MongoURI:    valueOrDefault("MONGO_URI", defaultMongoURI),
			MongoDB:     valueOrDefault("MONGO_DB", defaultMongoDB),
			PostgresDSN: os.Getenv("POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			Addr: valueOrDefault("REDIS_URI", defaultRedisAddr),
		},
		Graph: GraphConfig{
			URI:      os.Getenv("NEO4J_URI"),
			Database: valueOrDefault("NEO4J_DATABASE", "neo4j"),
			Username: valueOrDefault("NEO4J_USER", "neo4j"),
			Password: os.Getenv("NEO4J_PASSWORD"),
		},
		AI: AIConfig{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Model:   os.Getenv("GEMINI_MODEL"),
			BaseURL: os.Getenv("GEMINI_BASE_URL"),
			Timeout: defaultAITimeout,
		},
		Auth: AuthConfig{
			JWTSecret: valueOrDefault("JWT_SECRET", defaultJWTSecret),
		},
		Logging: LoggingConfig{
			Level:  valueOrDefault("LOG_LEVEL", "info"),
			Format: valueOrDefault("LOG_FORMAT", "text"),
		},
		Policy: PolicyConfig{
			RolesFile: os.Getenv("ROLES_FILE"),
		},
	}

	port, err := parseIntWithDefault("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid SERVER_PORT %d", port)
	}
	cfg.HTTP.Port = port

	limit, err := parseIntWithDefault("DEFAULT_ASSESSMENT_LIMIT", defaultAssessmentLimit)
	if err != nil {
		return Config{}, err
	}
	if limit < 0 {
		return Config{}, fmt.Errorf("invalid DEFAULT_ASSESSMENT_LIMIT %d", limit)
	}
	cfg.Policy.DefaultAssessmentLimit = limit

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.HTTP.ShutdownTimeout = d
	}
	if v := os.Getenv("GEMINI_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GEMINI_TIMEOUT: %w", err)
		}
		cfg.AI.Timeout = d
	}

	switch cfg.Store.Driver {
	case DriverMongo, DriverMemory:
	case DriverPostgres:
		if cfg.Store.PostgresDSN == "" {
			return Config{}, fmt.Errorf("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}

	return cfg, nil
}

// Addr is the listen address of the HTTP server.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func valueOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseIntWithDefault(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
