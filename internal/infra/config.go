package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// BackendKind selects which inference backend flavor the service talks to.
const (
	BackendRunPod = "runpod"
	BackendComfy  = "comfy"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	BackendKind      string
	RunPodAPIKey     string
	RunPodEndpointID string
	RunPodBaseURL    string
	ComfyBaseURL     string

	PollInterval      time.Duration
	TrackDeadline     time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	AsyncDispatch     bool

	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3AccessKeyID    string
	S3SecretKey      string
	S3ForcePathStyle bool
	S3PublicBaseURL  string
	StoragePath      string

	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8001"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		BackendKind:      getEnv("BACKEND_KIND", BackendRunPod),
		RunPodAPIKey:     os.Getenv("RUNPOD_API_KEY"),
		RunPodEndpointID: os.Getenv("RUNPOD_ENDPOINT_ID"),
		RunPodBaseURL:    os.Getenv("RUNPOD_BASE_URL"),
		ComfyBaseURL:     getEnv("COMFY_BASE_URL", "http://127.0.0.1:8188"),

		PollInterval:      time.Second * time.Duration(getEnvInt("STATUS_CHECK_INTERVAL_SECONDS", 5)),
		TrackDeadline:     time.Second * time.Duration(getEnvInt("TRACK_DEADLINE_SECONDS", 300)),
		ReconnectAttempts: getEnvInt("WS_RECONNECT_ATTEMPTS", 3),
		ReconnectBackoff:  time.Second * time.Duration(getEnvInt("WS_RECONNECT_BACKOFF_SECONDS", 2)),
		AsyncDispatch:     getEnvBool("ASYNC_DISPATCH", false),

		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Region:         os.Getenv("S3_REGION"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:    os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretKey:      os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle: getEnvBool("S3_FORCE_PATH_STYLE", false),
		S3PublicBaseURL:  os.Getenv("S3_PUBLIC_BASE_URL"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),

		AllowedOrigins: []string{getEnv("ALLOWED_ORIGIN", "*")},

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 330)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.BackendKind {
	case BackendRunPod:
		if cfg.RunPodAPIKey == "" || cfg.RunPodEndpointID == "" {
			return nil, fmt.Errorf("RUNPOD_API_KEY and RUNPOD_ENDPOINT_ID are required for the runpod backend")
		}
	case BackendComfy:
		if cfg.ComfyBaseURL == "" {
			return nil, fmt.Errorf("COMFY_BASE_URL is required for the comfy backend")
		}
	default:
		return nil, fmt.Errorf("unsupported BACKEND_KIND %q", cfg.BackendKind)
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("STATUS_CHECK_INTERVAL_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
