package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store backends understood by the durable store
const (
	StoreRedis    = "redis"
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

type Config struct {
	Node      NodeConfig
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Badger    BadgerConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Relay     RelayConfig
	Live      LiveConfig
	RateLimit RateLimitConfig
}

type NodeConfig struct {
	Identity     string // identity string of this instance, e.g. "alice.os"
	AdvertiseURL string // base URL remote peers use to reach this instance
}

type ServerConfig struct {
	Host         string
	Port         int
	LogFile      string
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type StoreConfig struct {
	Backend   string
	KeyPrefix string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
}

type BadgerConfig struct {
	Dir string
}

type DatabaseConfig struct {
	ConnectionString string
}

type KafkaConfig struct {
	Address string // empty disables the archive stream
	Topic   string
}

type RelayConfig struct {
	Timeout time.Duration
	Peers   map[string]string // identity -> base URL
}

type LiveConfig struct {
	QueueSize         int           // dispatcher inbound queue capacity
	SessionBufferSize int           // per-session outbound frame buffer
	PingInterval      time.Duration // keep-alive ping period
}

type RateLimitConfig struct {
	Capacity     int64
	RefillRate   int64
	RefillPeriod time.Duration
}

// getProjectRoot finds the project root by looking for go.mod
func getProjectRoot() (string, error) {
	if projectRoot := os.Getenv("PROJECT_ROOT"); projectRoot != "" {
		return projectRoot, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}

// resolvePath resolves a path relative to the project root if it's not absolute
func resolvePath(path string) (string, error) {
	if path == "" || path == "-" || path == "stdout" || filepath.IsAbs(path) {
		return path, nil
	}

	projectRoot, err := getProjectRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(projectRoot, path), nil
}

func Load() (*Config, error) {
	logFile, err := resolvePath(getEnv("LOG_FILE", "stdout"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log file: %w", err)
	}

	badgerDir, err := resolvePath(getEnv("BADGER_DIR", "./data/badger"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve badger directory: %w", err)
	}

	identity := getEnv("NODE_ID", "")
	port := getEnvAsInt("SERVER_PORT", 8000)

	peers, err := parsePeers(getEnv("PEERS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Node: NodeConfig{
			Identity:     identity,
			AdvertiseURL: getEnv("ADVERTISE_URL", fmt.Sprintf("http://localhost:%d", port)),
		},
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         port,
			LogFile:      logFile,
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			ReadTimeout:  getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Backend:   strings.ToLower(getEnv("STORE_BACKEND", StoreRedis)),
			KeyPrefix: getEnv("STORE_PREFIX", "peerchat:"+identity+":"),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDR", "localhost:6379"),
			Username: getEnv("REDIS_USERNAME", "default"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Badger: BadgerConfig{
			Dir: badgerDir,
		},
		Database: DatabaseConfig{
			ConnectionString: getEnv("DATABASE_URL", ""),
		},
		Kafka: KafkaConfig{
			Address: getEnv("KAFKA_ADDR", ""),
			Topic:   getEnv("KAFKA_TOPIC", "chat-history"),
		},
		Relay: RelayConfig{
			Timeout: getEnvAsDuration("RELAY_TIMEOUT", 5*time.Second),
			Peers:   peers,
		},
		Live: LiveConfig{
			QueueSize:         getEnvAsInt("DISPATCH_QUEUE_SIZE", 256),
			SessionBufferSize: getEnvAsInt("LIVE_SESSION_BUFFER", 256),
			PingInterval:      getEnvAsDuration("LIVE_PING_INTERVAL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Capacity:     getEnvAsInt64("RATE_LIMIT_CAPACITY", 200),
			RefillRate:   getEnvAsInt64("RATE_LIMIT_REFILL", 20),
			RefillPeriod: getEnvAsDuration("RATE_LIMIT_PERIOD", time.Second),
		},
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errors []string

	if c.Node.Identity == "" {
		errors = append(errors, "node identity (NODE_ID) is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}

	switch c.Store.Backend {
	case StoreRedis:
		if c.Redis.Address == "" {
			errors = append(errors, "redis address (REDIS_ADDR) is required")
		}
	case StoreBadger:
		if c.Badger.Dir == "" {
			errors = append(errors, "badger directory (BADGER_DIR) is required")
		}
	case StorePostgres:
		if c.Database.ConnectionString == "" {
			errors = append(errors, "database connection string (DATABASE_URL) is required")
		}
	default:
		errors = append(errors, fmt.Sprintf("unknown store backend %q (want redis, badger or postgres)", c.Store.Backend))
	}

	if c.Kafka.Address != "" && c.Kafka.Topic == "" {
		errors = append(errors, "kafka topic (KAFKA_TOPIC) is required when KAFKA_ADDR is set")
	}

	if c.Relay.Timeout <= 0 {
		errors = append(errors, "relay timeout must be > 0")
	}

	if c.Live.QueueSize <= 0 {
		errors = append(errors, "dispatch queue size must be > 0")
	}
	if c.Live.SessionBufferSize <= 0 {
		errors = append(errors, "live session buffer must be > 0")
	}
	if c.Live.PingInterval <= 0 {
		errors = append(errors, "live ping interval must be > 0")
	}

	if c.RateLimit.Capacity <= 0 {
		errors = append(errors, "rate limit capacity must be > 0")
	}
	if c.RateLimit.RefillRate <= 0 {
		errors = append(errors, "rate limit refill rate must be > 0")
	}
	if c.RateLimit.RefillPeriod <= 0 {
		errors = append(errors, "rate limit refill period must be > 0")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// PrintSummary logs a summary of the loaded configuration
func (c *Config) PrintSummary() {
	fmt.Println("Configuration Summary:")
	fmt.Printf("  Node: %s (advertised at %s)\n", c.Node.Identity, c.Node.AdvertiseURL)
	fmt.Printf("  Server: %s\n", c.ServerAddress())
	fmt.Printf("  Store: %s (prefix %q)\n", c.Store.Backend, c.Store.KeyPrefix)
	switch c.Store.Backend {
	case StoreRedis:
		fmt.Printf("  Redis: %s (DB: %d)\n", c.Redis.Address, c.Redis.DB)
	case StoreBadger:
		fmt.Printf("  Badger: %s\n", c.Badger.Dir)
	case StorePostgres:
		fmt.Printf("  Database: %s\n", maskConnectionString(c.Database.ConnectionString))
	}
	if c.Kafka.Address != "" {
		fmt.Printf("  Kafka: %s (Topic: %s)\n", c.Kafka.Address, c.Kafka.Topic)
	} else {
		fmt.Println("  Kafka: disabled")
	}
	fmt.Printf("  Relay: timeout %s, %d static peers\n", c.Relay.Timeout, len(c.Relay.Peers))
	fmt.Printf("  Rate Limit: %d requests/%s (capacity: %d)\n",
		c.RateLimit.RefillRate, c.RateLimit.RefillPeriod, c.RateLimit.Capacity)
}

// parsePeers reads "alice.os=http://host:8000,bob.os=http://other:8000"
func parsePeers(raw string) (map[string]string, error) {
	peers := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return peers, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, url, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid PEERS entry %q (want identity=url)", entry)
		}
		peers[strings.TrimSpace(id)] = strings.TrimRight(strings.TrimSpace(url), "/")
	}

	return peers, nil
}

// maskConnectionString masks sensitive parts of the connection string
func maskConnectionString(connStr string) string {
	if len(connStr) < 20 {
		return "***"
	}
	return connStr[:20] + "..." + connStr[len(connStr)-10:]
}

// Helper functions to read environment variables with defaults
func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if val, err := strconv.Atoi(valStr); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	valStr := os.Getenv(key)
	if val, err := strconv.ParseInt(valStr, 10, 64); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if val, err := time.ParseDuration(valStr); err == nil {
		return val
	}
	return defaultVal
}
