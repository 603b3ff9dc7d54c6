package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	Env         string
	AuthKey     string
	Host        string

	TypingTTL     time.Duration
	SweepInterval time.Duration
	HistoryPage   int
}

func Load() *Config {
	log.Println("[CONFIG] Attempting to load .env file...")

	err := godotenv.Load()
	if err != nil {
		log.Println("[CONFIG] ℹ️ No .env file found, relying on system environment variables")
	} else {
		log.Println("[CONFIG] ✅ Successfully loaded .env file")
	}

	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("APP_ENV", "development"),
		AuthKey:       getEnv("AUTH_KEY", ""),
		Host:          getEnv("HOST", "localhost"),
		TypingTTL:     getDuration("TYPING_TTL", 10*time.Second),
		SweepInterval: getDuration("SWEEP_INTERVAL", 30*time.Second),
		HistoryPage:   getInt("HISTORY_PAGE_SIZE", 50),
	}

	log.Printf("[CONFIG] Environment: %s", cfg.Env)
	log.Printf("[CONFIG] Target Port: %s", cfg.Port)

	if cfg.DatabaseURL == "" {
		log.Fatal("[CONFIG] ❌ CRITICAL: DATABASE_URL is missing. Server cannot start.")
	} else {
		maskedDB := maskDBSource(cfg.DatabaseURL)
		log.Printf("[CONFIG] Database URL detected: %s", maskedDB)
	}

	if cfg.AuthKey == "" {
		log.Fatal("[CONFIG] ❌ CRITICAL: AUTH_KEY (JWT Secret) is missing. Security cannot be initialized.")
	} else {
		log.Println("[CONFIG] ✅ AUTH_KEY loaded successfully")
	}

	log.Printf("[CONFIG] Typing TTL: %s | Expiry sweep interval: %s", cfg.TypingTTL, cfg.SweepInterval)
	log.Println("[CONFIG] All configuration variables successfully initialized")
	return cfg
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Printf("[CONFIG] ⚠️  Variable %s not found, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("[CONFIG] ⚠️  Variable %s has invalid duration %q, using default: %s", key, raw, defaultValue)
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("[CONFIG] ⚠️  Variable %s has invalid value %q, using default: %d", key, raw, defaultValue)
		return defaultValue
	}
	return n
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[1]
}
