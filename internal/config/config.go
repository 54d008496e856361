// Package config loads process configuration from the environment, with an
// optional .env file as a convenience for local development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the process-wide configuration for the server.
type Config struct {
	Port        string
	CORSOrigins []string

	SpreadTimerSeconds      int
	OpenTradingTimerSeconds int
	NoTighterWindowSeconds  int
}

// Default returns the configuration used when nothing in the environment
// overrides it.
func Default() Config {
	return Config{
		Port:                    "3000",
		CORSOrigins:             nil, // nil means allow all, for local dev
		SpreadTimerSeconds:      60,
		OpenTradingTimerSeconds: 120,
		NoTighterWindowSeconds:  10,
	}
}

// LoadFromEnv loads a .env file (if present) and layers environment
// variables over the defaults. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		parts := strings.Split(origins, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	}
	if v := envInt("SPREAD_TIMER_SECONDS"); v > 0 {
		cfg.SpreadTimerSeconds = v
	}
	if v := envInt("OPEN_TRADING_TIMER_SECONDS"); v > 0 {
		cfg.OpenTradingTimerSeconds = v
	}
	if v := envInt("NO_TIGHTER_WINDOW_SECONDS"); v > 0 {
		cfg.NoTighterWindowSeconds = v
	}

	return cfg
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}
