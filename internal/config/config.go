// Package config loads book-buddy settings from .env and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Voice providers.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderGemini     = "gemini"
)

// Config holds all client configuration.
type Config struct {
	BackendURL string
	Provider   string

	ElevenLabsAPIKey  string
	ElevenLabsAgentID string
	GeminiAPIKey      string
	GeminiModel       string

	ChunkSettleDelay time.Duration
	VoiceVolume      float64

	DBPath      string
	LogPath     string
	LogLevel    string
	FFplayPath  string
	FFprobePath string
	MetricsAddr string // empty disables the /metrics listener

	// Warnings lists missing or invalid settings. The TUI still starts with
	// the affected features unavailable.
	Warnings []string
}

// Load reads .env files (missing files are ignored) and then the
// environment. Invalid values fall back to defaults and add a warning.
func Load(envFiles ...string) *Config {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load(envFiles...)
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) *Config {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".book-buddy")

	cfg := &Config{
		BackendURL:       "http://localhost:8000",
		Provider:         ProviderElevenLabs,
		ChunkSettleDelay: 500 * time.Millisecond,
		VoiceVolume:      0.8,
		DBPath:           filepath.Join(dataDir, "book-buddy.sqlite"),
		LogPath:          filepath.Join(dataDir, "book-buddy.log"),
		FFplayPath:       "ffplay",
		FFprobePath:      "ffprobe",
	}

	if v := get("BOOK_BUDDY_BACKEND_URL"); v != "" {
		cfg.BackendURL = strings.TrimRight(v, "/")
	}

	if v := strings.ToLower(get("VOICE_PROVIDER")); v != "" {
		switch v {
		case ProviderElevenLabs, ProviderGemini:
			cfg.Provider = v
		default:
			cfg.warn("invalid VOICE_PROVIDER %q: using %s", v, ProviderElevenLabs)
		}
	}

	cfg.ElevenLabsAPIKey = get("ELEVENLABS_API_KEY")
	cfg.ElevenLabsAgentID = get("ELEVENLABS_AGENT_ID")
	cfg.GeminiAPIKey = get("GEMINI_API_KEY")
	cfg.GeminiModel = get("GEMINI_MODEL")

	switch cfg.Provider {
	case ProviderElevenLabs:
		if cfg.ElevenLabsAgentID == "" {
			cfg.warn("ELEVENLABS_AGENT_ID is not set: voice conversations are unavailable")
		}
		if cfg.ElevenLabsAPIKey == "" {
			cfg.warn("ELEVENLABS_API_KEY is not set: earlier conversations cannot be continued")
		}
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			cfg.warn("GEMINI_API_KEY is not set: voice conversations are unavailable")
		}
	}

	// Optional: CHUNK_SETTLE_DELAY (in milliseconds)
	if v := get("CHUNK_SETTLE_DELAY"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			cfg.warn("invalid CHUNK_SETTLE_DELAY %q: using %s", v, cfg.ChunkSettleDelay)
		} else {
			cfg.ChunkSettleDelay = time.Duration(ms) * time.Millisecond
		}
	}

	if v := get("VOICE_VOLUME"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			cfg.warn("invalid VOICE_VOLUME %q: using %.1f", v, cfg.VoiceVolume)
		} else {
			cfg.VoiceVolume = f
		}
	}

	if v := get("BOOK_BUDDY_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := get("BOOK_BUDDY_LOG"); v != "" {
		cfg.LogPath = v
	}
	cfg.LogLevel = get("BOOK_BUDDY_LOG_LEVEL")
	if v := get("FFPLAY_PATH"); v != "" {
		cfg.FFplayPath = v
	}
	if v := get("FFPROBE_PATH"); v != "" {
		cfg.FFprobePath = v
	}
	cfg.MetricsAddr = get("METRICS_ADDR")

	return cfg
}

// VoiceEnabled reports whether the selected provider has its credentials.
func (c *Config) VoiceEnabled() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey != ""
	default:
		return c.ElevenLabsAgentID != ""
	}
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
