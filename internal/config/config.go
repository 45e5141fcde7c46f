package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"folio/api/internal/history"
)

type Config struct {
	Addr           string
	DatabaseURL    string
	ReposDir       string
	MigrationsDir  string
	CORSOrigin     string
	MeiliURL       string
	MeiliMasterKey string
	RedisURL       string
	DiffCacheTTL   time.Duration
	// Object storage for exported artifacts; disabled when MinioEndpoint is empty.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	ExportPaper    string
	LogLevel       string
	LogFormat      string
	History        history.Config
}

func Load() Config {
	defaults := history.DefaultConfig()
	return Config{
		Addr:           getenv("API_ADDR", ":8787"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		ReposDir:       getenv("FOLIO_REPOS_DIR", "./data/repos"),
		MigrationsDir:  getenv("FOLIO_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:     getenv("FOLIO_CORS_ORIGIN", "*"),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		RedisURL:       getenv("REDIS_URL", ""),
		DiffCacheTTL:   time.Duration(getenvInt("FOLIO_DIFF_CACHE_TTL_SECONDS", 3600)) * time.Second,
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "folio-exports"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		ExportPaper:    getenv("FOLIO_EXPORT_PAPER", "letter"),
		LogLevel:       getenv("FOLIO_LOG_LEVEL", "info"),
		LogFormat:      getenv("FOLIO_LOG_FORMAT", "text"),
		History: history.Config{
			SessionTimeout:       getenvMillis("FOLIO_SESSION_TIMEOUT_MS", defaults.SessionTimeout),
			MinSessionDuration:   getenvMillis("FOLIO_MIN_SESSION_DURATION_MS", defaults.MinSessionDuration),
			MinTextChangeRatio:   getenvFloat("FOLIO_MIN_TEXT_CHANGE_RATIO", defaults.MinTextChangeRatio),
			MinStructureChanges:  getenvInt("FOLIO_MIN_STRUCTURE_CHANGES", defaults.MinStructureChanges),
			VersionWindow:        getenvMillis("FOLIO_VERSION_WINDOW_MS", defaults.VersionWindow),
			MaxVersionsPerWindow: getenvInt("FOLIO_MAX_VERSIONS_PER_WINDOW", defaults.MaxVersionsPerWindow),
			Debounce:             getenvMillis("FOLIO_DEBOUNCE_MS", defaults.Debounce),
			MinEditCount:         getenvInt("FOLIO_MIN_EDIT_COUNT", defaults.MinEditCount),
		},
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvMillis(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
