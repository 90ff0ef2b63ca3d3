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

// Store backends accepted by STORE_BACKEND.
const (
	StoreBolt   = "bolt"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// DefaultVoiceID is the synthesis voice used when a persona has none.
const DefaultVoiceID = "qiniu_zh_female_tmjxxy"

// Config holds all client configuration
type Config struct {
	APIBaseURL            string
	WSBaseURL             string // derived from APIBaseURL when unset
	RequestTimeout        time.Duration
	DataDir               string
	StoreBackend          string // "bolt", "redis" or "memory"
	RedisURL              string
	RedisPassword         string
	MicSampleRate         int
	MicFrameSamples       int // samples per capture callback
	PlaybackSampleRate    int
	CallInboundSampleRate int
	KeepAlivePeriod       time.Duration
	MaxRecordingBytes     int // upper bound for one recorded voice message
	DefaultVoiceID        string
	LogLevel              string
}

// BoltPath is the local storage file inside DataDir.
func (c *Config) BoltPath() string {
	return filepath.Join(c.DataDir, "vox.db")
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		APIBaseURL:            "http://localhost:8000",
		RequestTimeout:        30 * time.Second,
		DataDir:               defaultDataDir(),
		StoreBackend:          StoreBolt,
		RedisURL:              "localhost:6379",
		MicSampleRate:         16000,
		MicFrameSamples:       4096,
		PlaybackSampleRate:    24000,
		CallInboundSampleRate: 16000,
		KeepAlivePeriod:       30 * time.Second,
		MaxRecordingBytes:     5 * 1024 * 1024, // 5MB default
		DefaultVoiceID:        DefaultVoiceID,
		LogLevel:              "info",
	}

	if base := os.Getenv("API_BASE_URL"); base != "" {
		config.APIBaseURL = strings.TrimRight(base, "/")
	}

	// Optional: WS_BASE_URL, otherwise http(s) becomes ws(s)
	if ws := os.Getenv("WS_BASE_URL"); ws != "" {
		config.WSBaseURL = strings.TrimRight(ws, "/")
	} else {
		config.WSBaseURL = WebsocketBase(config.APIBaseURL)
	}

	// Optional: REQUEST_TIMEOUT (in seconds)
	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		if t <= 0 {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: must be positive")
		}
		config.RequestTimeout = time.Duration(t) * time.Second
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		config.DataDir = dir
	}

	// Optional: STORE_BACKEND ("bolt", "redis" or "memory")
	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		switch backend {
		case StoreBolt, StoreRedis, StoreMemory:
			config.StoreBackend = backend
		default:
			return nil, fmt.Errorf("invalid STORE_BACKEND: must be 'bolt', 'redis', or 'memory'")
		}
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MIC_SAMPLE_RATE", &config.MicSampleRate},
		{"MIC_FRAME_SAMPLES", &config.MicFrameSamples},
		{"PLAYBACK_SAMPLE_RATE", &config.PlaybackSampleRate},
		{"CALL_INBOUND_SAMPLE_RATE", &config.CallInboundSampleRate},
		{"MAX_RECORDING_BYTES", &config.MaxRecordingBytes},
	}
	for _, field := range ints {
		raw := os.Getenv(field.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", field.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", field.key)
		}
		*field.dst = v
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	if voice := os.Getenv("DEFAULT_VOICE_ID"); voice != "" {
		config.DefaultVoiceID = voice
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = strings.ToLower(level)
	}

	return config, nil
}

// WebsocketBase maps an http(s) base URL onto its ws(s) counterpart.
func WebsocketBase(httpBase string) string {
	switch {
	case strings.HasPrefix(httpBase, "https://"):
		return "wss://" + strings.TrimPrefix(httpBase, "https://")
	case strings.HasPrefix(httpBase, "http://"):
		return "ws://" + strings.TrimPrefix(httpBase, "http://")
	default:
		return httpBase
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vox"
	}
	return filepath.Join(home, ".vox")
}
