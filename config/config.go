package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/agrovale/bbhook/utils"
)

type Config struct {
	Environment string         `json:"environment"`
	Database    DatabaseConfig `json:"database"`
	Server      ServerConfig   `json:"server"`
	Redis       RedisConfig    `json:"redis"`
	Security    SecurityConfig `json:"security"`
	Partner     PartnerConfig  `json:"partner"`
	Queue       QueueConfig    `json:"queue"`
}

type DatabaseConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	User         string        `json:"user"`
	Password     string        `json:"password"`
	DBName       string        `json:"dbname"`
	SSLMode      string        `json:"sslmode"`
	MaxOpenConns int           `json:"max_open_conns"`
	MaxIdleConns int           `json:"max_idle_conns"`
	MaxLifetime  time.Duration `json:"max_lifetime"`
}

type ServerConfig struct {
	Port           string        `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	MaxHeaderBytes int           `json:"max_header_bytes"`
	EnableTLS      bool          `json:"enable_tls"`
	TLSCertFile    string        `json:"tls_cert_file"`
	TLSKeyFile     string        `json:"tls_key_file"`
	TLSClientCAs   string        `json:"tls_client_cas"`
}

type RedisConfig struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
}

// SecurityConfig drives the webhook trust guard. EnforceMTLS=false is
// monitoring mode: every call is allowed and only logged for audit, so the
// guard can be observed in production before enforcement is switched on.
type SecurityConfig struct {
	EnforceMTLS         bool     `json:"enforce_mtls"`
	AllowedCertSubjects []string `json:"allowed_cert_subjects"`
	RateLimitRPS        float64  `json:"rate_limit_rps"`
	RateLimitBurst      int      `json:"rate_limit_burst"`
}

type PartnerConfig struct {
	ProductionCIDRs []string `json:"production_cidrs"`
	SandboxCIDRs    []string `json:"sandbox_cidrs"`
}

type QueueConfig struct {
	Workers    int `json:"workers"`
	BufferSize int `json:"buffer_size"`
}

func LoadConfig() (*Config, error) {
	// Missing .env is fine; real deployments set env vars directly.
	_ = godotenv.Load()

	config := &Config{}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	config.Environment = env

	configDir, err := filepath.Abs("config")
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.json")

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	config.loadFromEnv()
	config.setDefaults()

	return config, nil
}

func (c *Config) loadFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Database.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		c.Database.SSLMode = sslmode
	}

	if serverPort := os.Getenv("SERVER_PORT"); serverPort != "" {
		c.Server.Port = serverPort
	}
	if certFile := os.Getenv("TLS_CERT_FILE"); certFile != "" {
		c.Server.TLSCertFile = certFile
		c.Server.EnableTLS = true
	}
	if keyFile := os.Getenv("TLS_KEY_FILE"); keyFile != "" {
		c.Server.TLSKeyFile = keyFile
	}
	if clientCAs := os.Getenv("TLS_CLIENT_CAS"); clientCAs != "" {
		c.Server.TLSClientCAs = clientCAs
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		c.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			c.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.Redis.Password = redisPassword
	}

	if enforce := os.Getenv("ENFORCE_MTLS"); enforce != "" {
		c.Security.EnforceMTLS = enforce == "true" || enforce == "1"
	}
	if subjects := os.Getenv("ALLOWED_CERT_SUBJECTS"); subjects != "" {
		c.Security.AllowedCertSubjects = splitAndTrim(subjects)
	}

	if cidrs := os.Getenv("PARTNER_PRODUCTION_CIDRS"); cidrs != "" {
		c.Partner.ProductionCIDRs = splitAndTrim(cidrs)
	}
	if cidrs := os.Getenv("PARTNER_SANDBOX_CIDRS"); cidrs != "" {
		c.Partner.SandboxCIDRs = splitAndTrim(cidrs)
	}

	if workers := os.Getenv("QUEUE_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			c.Queue.Workers = w
		}
	}
}

func (c *Config) setDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20
	}
	if len(c.Partner.ProductionCIDRs) == 0 {
		c.Partner.ProductionCIDRs = utils.DefaultProductionCIDRs
	}
	if len(c.Partner.SandboxCIDRs) == 0 {
		c.Partner.SandboxCIDRs = utils.DefaultSandboxCIDRs
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.BufferSize == 0 {
		c.Queue.BufferSize = 256
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = time.Hour
	}

	switch c.Environment {
	case "production":
		if c.Database.MaxOpenConns == 0 {
			c.Database.MaxOpenConns = 100
		}
		if c.Database.MaxIdleConns == 0 {
			c.Database.MaxIdleConns = 10
		}
		if c.Database.MaxLifetime == 0 {
			c.Database.MaxLifetime = time.Hour
		}
		if c.Security.RateLimitRPS == 0 {
			c.Security.RateLimitRPS = 50
		}
		if c.Security.RateLimitBurst == 0 {
			c.Security.RateLimitBurst = 100
		}
	default: // development, staging
		if c.Database.MaxOpenConns == 0 {
			c.Database.MaxOpenConns = 20
		}
		if c.Database.MaxIdleConns == 0 {
			c.Database.MaxIdleConns = 5
		}
		if c.Security.RateLimitRPS == 0 {
			c.Security.RateLimitRPS = 500
		}
		if c.Security.RateLimitBurst == 0 {
			c.Security.RateLimitBurst = 1000
		}
	}
}

func (c *Config) Validate() error {
	if c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database user and name are required")
	}
	if c.Security.EnforceMTLS && !c.Server.EnableTLS && c.Server.TLSClientCAs == "" {
		// Enforcement still works behind a proxy that forwards the client
		// subject, so this is a warning-level condition, not fatal.
		utils.Warn(context.Background(), "ENFORCE_MTLS is set but no TLS listener or client CA bundle is configured")
	}
	if _, err := utils.NewPartnerNetworks(c.Partner.ProductionCIDRs, c.Partner.SandboxCIDRs); err != nil {
		return fmt.Errorf("partner networks: %w", err)
	}
	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
		c.Database.DBName, c.Database.SSLMode)
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
