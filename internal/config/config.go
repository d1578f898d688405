package config

import (
	"os"
	"strconv"
	"time"
)

type Firestore struct {
	ProjectID string
	BaseURL   string
}

type RTDB struct {
	DatabaseURL string
}

type ServiceAccount struct {
	ClientEmail string
	PrivateKey  string
	TokenURL    string
}

type Redis struct {
	Addr     string
	Password string
	LockKey  string
}

type Telemetry struct {
	TrashInputUnit string // "kg" or "g"
}

type Loop struct {
	Schedule   string
	LockWait   time.Duration
	LockTTL    time.Duration
	BatchLimit int
}

type Config struct {
	Port           string
	LogLevel       string
	Firestore      Firestore
	RTDB           RTDB
	ServiceAccount ServiceAccount
	Redis          Redis
	Telemetry      Telemetry
	Loop           Loop
}

func Load() Config {
	return Config{
		Port:     getenv("SYNC_SERVICE_PORT", "8097"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Firestore: Firestore{
			ProjectID: getenv("AGOS_FIREBASE_PROJECT_ID", ""),
			BaseURL:   getenv("AGOS_FIRESTORE_BASE_URL", "https://firestore.googleapis.com/v1"),
		},
		RTDB: RTDB{
			DatabaseURL: trimTrailingSlash(getenv("AGOS_FIREBASE_DATABASE_URL", "")),
		},
		ServiceAccount: ServiceAccount{
			ClientEmail: getenv("AGOS_SA_CLIENT_EMAIL", ""),
			PrivateKey:  getenv("AGOS_SA_PRIVATE_KEY", ""),
			TokenURL:    getenv("AGOS_SA_TOKEN_URL", ""),
		},
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", "redis:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			LockKey:  getenv("SYNC_LOCK_KEY", "agos:sync:lock"),
		},
		Telemetry: Telemetry{
			TrashInputUnit: getenv("TELEMETRY_TRASH_UNIT", "kg"),
		},
		Loop: Loop{
			Schedule:   getenv("SYNC_SCHEDULE", "@every 1m"),
			LockWait:   getenvDuration("SYNC_LOCK_WAIT", 30*time.Second),
			LockTTL:    getenvDuration("SYNC_LOCK_TTL", 2*time.Minute),
			BatchLimit: getenvInt("SYNC_BATCH_LIMIT", 200),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
