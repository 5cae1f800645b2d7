package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	WebSocket  WebSocketConfig
	CORS       CORSConfig
	Logging    LoggingConfig
	Canvas     CanvasConfig
	Background BackgroundConfig
}

type ServerConfig struct {
	Port      string
	Host      string
	Env       string
	PublicURL string
	// MaxBodySize caps JSON request bodies; snapshots are sent inline as
	// data URIs and dominate it.
	MaxBodySize int64
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	MongoURI string
	// AutoCreate creates the database on startup when it is missing.
	AutoCreate bool
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerBoard int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type CanvasConfig struct {
	Width        int
	Height       int
	HistoryLimit int
}

type BackgroundConfig struct {
	PlaceholderURL string
	Delay          time.Duration
}

const (
	DriverCouch  = "couch"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

func Load() (*Config, error) {
	godotenv.Load()

	var errs []error
	duration := func(key, def string) time.Duration {
		d, err := getEnvAsDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Host:        getEnv("HOST", "0.0.0.0"),
			Env:         getEnv("ENV", "development"),
			PublicURL:   getEnv("PUBLIC_URL", "http://localhost:8080"),
			MaxBodySize: int64(getEnvAsInt("HTTP_MAX_BODY_SIZE", 32<<20)),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", DriverCouch),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5984"),
			User:       getEnv("DB_USER", "admin"),
			Password:   getEnv("DB_PASSWORD", "password"),
			Name:       getEnv("DB_NAME", "collabdraw"),
			MongoURI:   getEnv("MONGO_URI", "mongodb://localhost:27017"),
			AutoCreate: getEnvAsBool("DB_AUTO_CREATE", true),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			PresenceTTL: duration("PRESENCE_TTL", "2m"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 1048576)),
			WriteWait:       duration("WS_WRITE_WAIT", "10s"),
			PongWait:        duration("WS_PONG_WAIT", "60s"),
			PingPeriod:      duration("WS_PING_PERIOD", "54s"),
			MaxConnPerBoard: getEnvAsInt("WS_MAX_CONN_PER_BOARD", 50),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Canvas: CanvasConfig{
			Width:        getEnvAsInt("CANVAS_WIDTH", 1920),
			Height:       getEnvAsInt("CANVAS_HEIGHT", 1080),
			HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 100),
		},
		Background: BackgroundConfig{
			PlaceholderURL: getEnv("BACKGROUND_PLACEHOLDER_URL", "https://placehold.co"),
			Delay:          duration("BACKGROUND_DELAY", "1500ms"),
		},
	}

	if len(errs) > 0 {
		return nil, errs[0]
	}

	switch cfg.Database.Driver {
	case DriverCouch, DriverMongo, DriverMemory:
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want couch, mongo or memory", cfg.Database.Driver)
	}
	if cfg.WebSocket.PingPeriod >= cfg.WebSocket.PongWait {
		return nil, fmt.Errorf("WS_PING_PERIOD must be shorter than WS_PONG_WAIT")
	}

	return cfg, nil
}

// CouchURL is the CouchDB endpoint with credentials.
func (c DatabaseConfig) CouchURL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", c.User, c.Password, c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
