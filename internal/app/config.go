package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	DBPath             string
	SessionParamsPath  string
	TorrentDataDir     string
	LogLevel           string
	LogFormat          string
	WorkflowsDir       string
	CORSAllowedOrigins []string // empty = allow all (dev mode)

	FFProbePath             string
	MediaInfoEnabled        bool
	MediaInfoExtensions     []string
	MediaInfoFileMinSize    int64
	MediaInfoFileWantedSize int64

	// Periodic engine request intervals; 0 disables a timer.
	DHTStatsInterval       time.Duration
	SessionStatsInterval   time.Duration
	TorrentUpdatesInterval time.Duration
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":9071"),
		DBPath:             getEnv("DB_PATH", "torrentd.db"),
		SessionParamsPath:  getEnv("SESSION_PARAMS_PATH", "session_params.dat"),
		TorrentDataDir:     getEnv("TORRENT_DATA_DIR", "data"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		WorkflowsDir:       getEnv("WORKFLOWS_DIR", "workflows"),
		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),

		FFProbePath:             getEnv("FFPROBE_PATH", "ffprobe"),
		MediaInfoEnabled:        getEnvBool("MEDIAINFO_ENABLED", false),
		MediaInfoExtensions:     parseCSV(getEnv("MEDIAINFO_EXTENSIONS", "")),
		MediaInfoFileMinSize:    getEnvInt64("MEDIAINFO_FILE_MIN_SIZE", 10*1024*1024),
		MediaInfoFileWantedSize: getEnvInt64("MEDIAINFO_FILE_WANTED_SIZE", 2*1024*1024),

		DHTStatsInterval:       getEnvDuration("DHT_STATS_INTERVAL", 0),
		SessionStatsInterval:   getEnvDuration("SESSION_STATS_INTERVAL", 5*time.Second),
		TorrentUpdatesInterval: getEnvDuration("TORRENT_UPDATES_INTERVAL", time.Second),
	}
}

func parseCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
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

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
