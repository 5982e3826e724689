package config

import (
	"fmt"
	"time"

	"consultcall-backend/pkg/constants"
	"consultcall-backend/pkg/env"
)

// Config holds all configuration for the call service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	ICE       ICEConfig
	CORS      CORSConfig
	Signaling SignalingConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	RequestTimeout time.Duration
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxConns       int
	MinConns       int
	ConnectRetries int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// ICEConfig is handed verbatim to clients negotiating a peer connection
type ICEConfig struct {
	STUNURLs       []string
	TURNURLs       []string
	TURNUsername   string
	TURNCredential string
}

// CORSConfig holds the browser origins allowed to call the API and open sockets
type CORSConfig struct {
	AllowedOrigins []string
}

// SignalingConfig holds websocket relay limits
type SignalingConfig struct {
	MaxConnections int
	SendBuffer     int
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8083),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "call-service"),
			RequestTimeout: env.GetDuration("REQUEST_TIMEOUT", constants.DefaultTimeout),
		},
		Database: DatabaseConfig{
			Host:           env.GetString("DB_HOST", "localhost"),
			Port:           env.GetInt("DB_PORT", 26257),
			User:           env.GetString("DB_USER", "root"),
			Password:       env.GetStringFromFile("DB_PASSWORD", ""),
			Database:       env.GetString("DB_NAME", "consultcall"),
			SSLMode:        env.GetString("DB_SSL_MODE", "disable"),
			MaxConns:       env.GetInt("DB_MAX_CONNS", 25),
			MinConns:       env.GetInt("DB_MIN_CONNS", 5),
			ConnectRetries: env.GetInt("DB_CONNECT_RETRIES", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", constants.AccessTokenExpiry),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/call-service.log"),
		},
		ICE: ICEConfig{
			STUNURLs:       env.GetSlice("ICE_STUN_URLS", []string{"stun:stun.l.google.com:19302"}),
			TURNURLs:       env.GetSlice("ICE_TURN_URLS", nil),
			TURNUsername:   env.GetString("ICE_TURN_USERNAME", ""),
			TURNCredential: env.GetStringFromFile("ICE_TURN_CREDENTIAL", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: env.GetSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
		Signaling: SignalingConfig{
			MaxConnections: env.GetInt("SIGNALING_MAX_CONNECTIONS", constants.DefaultMaxSignalingConnections),
			SendBuffer:     env.GetInt("SIGNALING_SEND_BUFFER", constants.SignalingSendBuffer),
		},
		RateLimit: RateLimitConfig{
			Requests: env.GetInt("RATE_LIMIT_REQUESTS", 100),
			Window:   env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production safeguards
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.IsProduction() {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if c.Signaling.MaxConnections <= 0 {
		return fmt.Errorf("SIGNALING_MAX_CONNECTIONS must be positive")
	}
	if c.Signaling.SendBuffer <= 0 {
		return fmt.Errorf("SIGNALING_SEND_BUFFER must be positive")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	if len(c.ICE.TURNURLs) > 0 && (c.ICE.TURNUsername == "" || c.ICE.TURNCredential == "") {
		return fmt.Errorf("ICE_TURN_USERNAME and ICE_TURN_CREDENTIAL are required when ICE_TURN_URLS is set")
	}

	return nil
}

// DSN builds the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// Addr returns host:port for the Redis client
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
