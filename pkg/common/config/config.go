package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	PolicyDelete     = "delete"
	PolicyQuarantine = "quarantine"
	PolicyKeep       = "keep"
)

// Config is built once at startup and handed to every component by value.
// Nothing below pkg/common reads the environment directly.
type Config struct {
	// Backend
	APIURL       string
	AdminToken   string
	HTTPTimeout  time.Duration
	RetryAttempt int

	// Drive
	FolderName         string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleRefreshToken string

	// Sweep
	SweepInterval       time.Duration
	DecodeFailurePolicy string
	QuarantineFolder    string
	ScratchDir          string
	LayoutFile          string
	PhoneCountryCode    string

	// Health / metrics server, empty disables it
	HealthAddr string

	// Ledger
	LedgerEnabled    bool
	LedgerTTL        time.Duration
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis sweep lock
	RedisLockEnabled bool
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	RedisDB          int
	SweepLockTTL     time.Duration

	// Kafka events, empty topic disables publishing
	KafkaBrokers []string
	EventsTopic  string
}

// LoadEnvFile merges a dotenv file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	cfg := Config{
		APIURL:       strings.TrimRight(getEnv("API_URL", "http://localhost:5000/api"), "/"),
		AdminToken:   getEnv("ADMIN_TOKEN", ""),
		HTTPTimeout:  getDuration("HTTP_TIMEOUT", 30*time.Second),
		RetryAttempt: getIntEnv("IMPORT_RETRY_ATTEMPTS", 1),

		FolderName:         getEnv("FOLDER_NAME", "Rappels_RDV_WhatsApp"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		GoogleRefreshToken: getEnv("GOOGLE_REFRESH_TOKEN", ""),

		SweepInterval:       sweepInterval(),
		DecodeFailurePolicy: strings.ToLower(getEnv("DECODE_FAILURE_POLICY", PolicyDelete)),
		QuarantineFolder:    getEnv("QUARANTINE_FOLDER", "Rappels_RDV_Quarantaine"),
		ScratchDir:          getEnv("SCRATCH_DIR", os.TempDir()),
		LayoutFile:          getEnv("LAYOUT_FILE", ""),
		PhoneCountryCode:    getEnv("PHONE_COUNTRY_CODE", "32"),

		HealthAddr: getEnv("HEALTH_ADDR", ":8090"),

		LedgerEnabled:    getBoolEnv("LEDGER_ENABLED", false),
		LedgerTTL:        getDuration("LEDGER_TTL", 90*24*time.Hour),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "intake"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "intake"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisLockEnabled: getBoolEnv("REDIS_LOCK_ENABLED", false),
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getIntEnv("REDIS_DB", 0),
		SweepLockTTL:     getDuration("SWEEP_LOCK_TTL", 30*time.Minute),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		EventsTopic:  getEnv("EVENTS_TOPIC", ""),
	}

	applyGoogleJSON(&cfg)
	return cfg
}

// Validate reports the settings the watcher cannot start without.
func (c Config) Validate() error {
	var missing []string
	if c.APIURL == "" {
		missing = append(missing, "API_URL")
	}
	if c.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}
	if c.FolderName == "" {
		missing = append(missing, "FOLDER_NAME")
	}
	if c.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if c.GoogleRefreshToken == "" {
		missing = append(missing, "GOOGLE_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}

	switch c.DecodeFailurePolicy {
	case PolicyDelete, PolicyQuarantine, PolicyKeep:
	default:
		return fmt.Errorf("unknown DECODE_FAILURE_POLICY %q", c.DecodeFailurePolicy)
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	return nil
}

// sweepInterval accepts SWEEP_INTERVAL as a Go duration, falling back to the
// millisecond CHECK_INTERVAL_MS form.
func sweepInterval() time.Duration {
	if d := getDuration("SWEEP_INTERVAL", 0); d > 0 {
		return d
	}
	if ms := getIntEnv("CHECK_INTERVAL_MS", 0); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 5 * time.Minute
}

type googleClient struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

type googleCredentials struct {
	Installed *googleClient `json:"installed"`
	Web       *googleClient `json:"web"`
}

type googleToken struct {
	RefreshToken string `json:"refresh_token"`
}

// applyGoogleJSON fills empty Google fields from the GOOGLE_CREDENTIALS and
// GOOGLE_TOKEN blobs downloaded from the cloud console.
func applyGoogleJSON(cfg *Config) {
	if raw := os.Getenv("GOOGLE_CREDENTIALS"); raw != "" {
		var creds googleCredentials
		if err := json.Unmarshal([]byte(raw), &creds); err == nil {
			client := creds.Installed
			if client == nil {
				client = creds.Web
			}
			if client != nil {
				if cfg.GoogleClientID == "" {
					cfg.GoogleClientID = client.ClientID
				}
				if cfg.GoogleClientSecret == "" {
					cfg.GoogleClientSecret = client.ClientSecret
				}
				if cfg.GoogleRedirectURI == "" && len(client.RedirectURIs) > 0 {
					cfg.GoogleRedirectURI = client.RedirectURIs[0]
				}
			}
		}
	}

	if raw := os.Getenv("GOOGLE_TOKEN"); raw != "" && cfg.GoogleRefreshToken == "" {
		var tok googleToken
		if err := json.Unmarshal([]byte(raw), &tok); err == nil {
			cfg.GoogleRefreshToken = tok.RefreshToken
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
