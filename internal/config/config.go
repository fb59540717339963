package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wardn/wardn/domain/entities"
)

// Config holds agent configuration loaded from environment.
type Config struct {
	API struct {
		BaseURL string
		Token   string
	}
	Push struct {
		URL string
	}
	Control struct {
		// Addr is the local control API listen address.
		Addr string
	}
	SOS struct {
		CountdownSeconds int
		MaxRecordSeconds int
		LocationTimeout  time.Duration
		EventType        string
		AppState         entities.AppState
	}
	Tracking struct {
		PollInterval time.Duration
	}
	Location struct {
		GpsdAddr string
	}
	VoiceTrigger struct {
		Enabled bool
		Phrases []string
	}
	Paths struct {
		RecordingDir string
		JournalPath  string
		LogPath      string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	cfg.API.BaseURL = os.Getenv("WARDN_API_BASE_URL")
	cfg.API.Token = os.Getenv("WARDN_API_TOKEN")
	cfg.Push.URL = os.Getenv("WARDN_PUSH_URL")

	cfg.Control.Addr = getEnv("WARDN_CONTROL_ADDR", "127.0.0.1:7380")

	cfg.SOS.CountdownSeconds = getEnvInt("WARDN_SOS_COUNTDOWN_SECONDS", 3)
	cfg.SOS.MaxRecordSeconds = getEnvInt("WARDN_SOS_MAX_RECORD_SECONDS", 20)
	cfg.SOS.LocationTimeout = time.Duration(getEnvInt("WARDN_SOS_LOCATION_TIMEOUT_SECONDS", 5)) * time.Second
	cfg.SOS.EventType = getEnv("WARDN_SOS_EVENT_TYPE", "panic_button")
	cfg.SOS.AppState = entities.AppStateForeground

	cfg.Tracking.PollInterval = time.Duration(getEnvInt("WARDN_TRACKING_POLL_SECONDS", 5)) * time.Second

	cfg.Location.GpsdAddr = getEnv("WARDN_GPSD_ADDR", "localhost:2947")

	cfg.VoiceTrigger.Enabled = os.Getenv("WARDN_VOICE_TRIGGER") == "true"
	if raw := os.Getenv("WARDN_VOICE_TRIGGER_PHRASES"); raw != "" {
		for _, phrase := range strings.Split(raw, ",") {
			if phrase = strings.TrimSpace(phrase); phrase != "" {
				cfg.VoiceTrigger.Phrases = append(cfg.VoiceTrigger.Phrases, phrase)
			}
		}
	}

	cfg.Paths.RecordingDir = getEnv("WARDN_RECORDING_DIR", "recordings")
	cfg.Paths.JournalPath = getEnv("WARDN_JOURNAL_PATH", "wardn-journal.db")
	cfg.Paths.LogPath = os.Getenv("WARDN_LOG_PATH")

	// Validate required settings
	missing := []string{}
	if cfg.API.BaseURL == "" {
		missing = append(missing, "WARDN_API_BASE_URL")
	}
	if cfg.API.Token == "" {
		missing = append(missing, "WARDN_API_TOKEN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil && value > 0 {
		return value
	}
	return fallback
}
