package server

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"uno-server/internal/database"
)

type Config struct {
	Port              int
	Env               string
	LogLevel          string
	DBDriver          string
	DBDSN             string
	RoomIdleTimeout   time.Duration
	SaveInterval      time.Duration
	CleanupAge        time.Duration
	RateLimit         int
	ConnectionTimeout time.Duration

	// Warnings lists every variable that was set but unusable. The logger does
	// not exist yet while config is read, so the caller reports them.
	Warnings []string
}

func DefaultConfig() Config {
	return Config{
		Port:              8080,
		Env:               "production",
		LogLevel:          "info",
		DBDriver:          database.DriverSQLite,
		DBDSN:             "uno.db",
		RoomIdleTimeout:   10 * time.Minute,
		SaveInterval:      30 * time.Second,
		CleanupAge:        24 * time.Hour,
		RateLimit:         10,
		ConnectionTimeout: 2 * time.Minute,
	}
}

// LoadConfig reads the environment, .env included. Bad values keep their default.
func LoadConfig() Config {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) Config {
	cfg := DefaultConfig()

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s=%q is not a positive integer, using %d", key, v, *dst))
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v := getenv(key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s=%q is not a positive duration, using %s", key, v, *dst))
			return
		}
		*dst = d
	}

	num("PORT", &cfg.Port)
	str("APP_ENV", &cfg.Env)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("DB_DRIVER", &cfg.DBDriver)
	str("DB_DSN", &cfg.DBDSN)
	dur("ROOM_IDLE_TIMEOUT", &cfg.RoomIdleTimeout)
	dur("SAVE_INTERVAL", &cfg.SaveInterval)
	dur("CLEANUP_AGE", &cfg.CleanupAge)
	num("RATE_LIMIT", &cfg.RateLimit)
	dur("CONNECTION_TIMEOUT", &cfg.ConnectionTimeout)

	if cfg.DBDriver != database.DriverSQLite && cfg.DBDriver != database.DriverPostgres {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("DB_DRIVER=%q is not supported, using %s", cfg.DBDriver, database.DriverSQLite))
		cfg.DBDriver = database.DriverSQLite
	}

	return cfg
}
