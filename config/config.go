package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	WebRTC   WebRTCConfig
	Session  SessionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// WebRTCConfig holds the ICE server list handed to participants at join time.
// Entries are url[|username|credential] triples, comma-separated in env.
type WebRTCConfig struct {
	ICEServers []ICEServerConfig
}

// ICEServerConfig is one STUN/TURN endpoint with optional credentials.
type ICEServerConfig struct {
	URL        string
	Username   string
	Credential string
}

// SessionConfig holds live-session orchestration defaults. Individual sessions
// may override WaitingRoom, MaxParticipants and ReconnectGrace in their settings.
type SessionConfig struct {
	IdleGrace        time.Duration // LIVE session with no connected participants auto-ends after this
	ReconnectGrace   time.Duration // window for a disconnected participant to resume with a token
	ImmediateRejoin  time.Duration // within this window a rejoin needs no token
	MaxParticipants  int           // 0 = unlimited
	WaitingRoom      bool          // default waiting-room setting for new sessions
	BreakoutMaxRooms int
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classlive"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		WebRTC: WebRTCConfig{
			ICEServers: parseICEServers(getEnv("WEBRTC_ICE_SERVERS", "stun:stun.l.google.com:19302")),
		},
		Session: SessionConfig{
			IdleGrace:        getEnvDuration("SESSION_IDLE_GRACE", 5*time.Minute),
			ReconnectGrace:   getEnvDuration("SESSION_RECONNECT_GRACE", 90*time.Second),
			ImmediateRejoin:  getEnvDuration("SESSION_IMMEDIATE_REJOIN", 10*time.Second),
			MaxParticipants:  getEnvInt("SESSION_MAX_PARTICIPANTS", 200),
			WaitingRoom:      getEnvBool("SESSION_WAITING_ROOM", true),
			BreakoutMaxRooms: getEnvInt("SESSION_BREAKOUT_MAX_ROOMS", 50),
		},
	}
	return cfg, nil
}

// parseICEServers parses "url|user|cred,url,..." into ICE server configs.
func parseICEServers(s string) []ICEServerConfig {
	var out []ICEServerConfig
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 3)
		srv := ICEServerConfig{URL: parts[0]}
		if len(parts) > 1 {
			srv.Username = parts[1]
		}
		if len(parts) > 2 {
			srv.Credential = parts[2]
		}
		out = append(out, srv)
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
