package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all operator-supplied settings. Every timeout here is a
// default, not a contract; individual requests may tighten them.
type Config struct {
	ListenAddr   string
	SharedSecret string

	// Target policy
	AllowedOrigins      []string
	AllowlistPolicy     string // "origin" or "prefix"
	ForceInternalHost   bool
	InternalHost        string
	AuthRedirectMarkers []string

	// Browser lifecycle
	BrowserMode      string // "local" or "container"
	ChromePath       string
	BrowserImage     string
	DockerNetwork    string
	DevtoolsPort     int
	RelaunchAttempts int

	// Readiness timeouts
	NavigationTimeout     time.Duration
	SelectorTimeoutStrict time.Duration
	SelectorTimeoutNormal time.Duration
	SelectorTimeoutEager  time.Duration
	LoadEventTimeout      time.Duration
	NetworkSettleTimeout  time.Duration
	FontsTimeout          time.Duration
	SettleDelay           time.Duration

	// Capture
	CaptureTimeout time.Duration
	RequestCeiling time.Duration

	// Admission control; 0 disables the bound.
	MaxConcurrentCaptures int

	// Diagnostics
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	DiagDir        string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		SharedSecret: getEnv("SHARED_SECRET", ""),

		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "")),
		AllowlistPolicy:     getEnv("ALLOWLIST_POLICY", "origin"),
		ForceInternalHost:   getEnvBool("FORCE_INTERNAL_HOST", false),
		InternalHost:        getEnv("INTERNAL_HOST", "host.docker.internal"),
		AuthRedirectMarkers: splitList(getEnv("AUTH_REDIRECT_MARKERS", "/login,/auth")),

		BrowserMode:      getEnv("BROWSER_MODE", "local"),
		ChromePath:       getEnv("CHROME_PATH", ""),
		BrowserImage:     getEnv("BROWSER_IMAGE", "chromedp/headless-shell:latest"),
		DockerNetwork:    getEnv("DOCKER_NETWORK", ""),
		DevtoolsPort:     getEnvInt("DEVTOOLS_PORT", 9222),
		RelaunchAttempts: getEnvInt("BROWSER_RELAUNCH_ATTEMPTS", 3),

		NavigationTimeout:     getEnvDuration("NAVIGATION_TIMEOUT_MS", 30*time.Second),
		SelectorTimeoutStrict: getEnvDuration("SELECTOR_TIMEOUT_STRICT_MS", 30*time.Second),
		SelectorTimeoutNormal: getEnvDuration("SELECTOR_TIMEOUT_NORMAL_MS", 20*time.Second),
		SelectorTimeoutEager:  getEnvDuration("SELECTOR_TIMEOUT_EAGER_MS", 15*time.Second),
		LoadEventTimeout:      getEnvDuration("LOAD_EVENT_TIMEOUT_MS", 10*time.Second),
		NetworkSettleTimeout:  getEnvDuration("NETWORK_SETTLE_TIMEOUT_MS", 10*time.Second),
		FontsTimeout:          getEnvDuration("FONTS_TIMEOUT_MS", 3*time.Second),
		SettleDelay:           getEnvDuration("SETTLE_DELAY_MS", 300*time.Millisecond),

		CaptureTimeout: getEnvDuration("CAPTURE_TIMEOUT_MS", 30*time.Second),
		RequestCeiling: getEnvDuration("REQUEST_CEILING_MS", 90*time.Second),

		MaxConcurrentCaptures: getEnvInt("MAX_CONCURRENT_CAPTURES", 4),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "render-node"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		DiagDir:        getEnv("DIAG_DIR", os.TempDir()),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
