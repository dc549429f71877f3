package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all meetscribe environment variables.
const EnvPrefix = "MEETSCRIBE_"

// Config holds all application configuration. Secrets (API keys, the admin
// secret) are loaded exclusively from environment variables and never appear
// in the config file.
type Config struct {
	ListenAddr        string `yaml:"listen_addr"`
	DBPath            string `yaml:"db_path"`
	AudioDir          string `yaml:"audio_dir"`
	WindowSeconds     int    `yaml:"window_seconds"`
	MaxSessionAudioMB int    `yaml:"max_session_audio_mb"`
	WorkerPoll        string `yaml:"worker_poll"`
	BroadcastInterval string `yaml:"broadcast_interval"`
	CleanupInterval   string `yaml:"cleanup_interval"`
	ResumeHorizon     string `yaml:"resume_horizon"`

	TranscribeBackend       string `yaml:"transcribe_backend"` // gemini or deepgram
	TranscribeModel         string `yaml:"transcribe_model"`
	TranscribeFallbackModel string `yaml:"transcribe_fallback_model"`
	DeepgramModel           string `yaml:"deepgram_model"`
	AnalysisModel           string `yaml:"analysis_model"` // provider/model_name
	ChatModel               string `yaml:"chat_model"`     // provider/model_name

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	GeminiAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	AdminSecret     string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:              ":8080",
		DBPath:                  "data/meetscribe.db",
		AudioDir:                "data/audio",
		WindowSeconds:           3,
		MaxSessionAudioMB:       512,
		WorkerPoll:              "1s",
		BroadcastInterval:       "1s",
		CleanupInterval:         "30m",
		ResumeHorizon:           "24h",
		TranscribeBackend:       "gemini",
		TranscribeModel:         "gemini-2.0-flash",
		TranscribeFallbackModel: "gemini-1.5-flash",
		DeepgramModel:           "nova-2",
		AnalysisModel:           "gemini/gemini-2.0-flash",
		ChatModel:               "gemini/gemini-2.0-flash",
		GoogleCredentialsFile:   "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedWorkerPoll returns the worker's bounded wait, falling back to 1s.
func (c *Config) ParsedWorkerPoll() time.Duration {
	return parseDurationOr(c.WorkerPoll, time.Second)
}

// ParsedBroadcastInterval returns the broadcast loop interval, falling back to 1s.
func (c *Config) ParsedBroadcastInterval() time.Duration {
	return parseDurationOr(c.BroadcastInterval, time.Second)
}

// ParsedCleanupInterval returns the cleanup loop interval, falling back to 30m.
func (c *Config) ParsedCleanupInterval() time.Duration {
	return parseDurationOr(c.CleanupInterval, 30*time.Minute)
}

// ParsedResumeHorizon returns how long a paused session stays resumable,
// falling back to 24h.
func (c *Config) ParsedResumeHorizon() time.Duration {
	return parseDurationOr(c.ResumeHorizon, 24*time.Hour)
}

// MaxSessionAudioBytes returns the per-session recording cap in bytes,
// 0 meaning unlimited.
func (c *Config) MaxSessionAudioBytes() int {
	if c.MaxSessionAudioMB <= 0 {
		return 0
	}
	return c.MaxSessionAudioMB << 20
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	stringVars := map[string]*string{
		"LISTEN_ADDR":               &cfg.ListenAddr,
		"DB_PATH":                   &cfg.DBPath,
		"AUDIO_DIR":                 &cfg.AudioDir,
		"WORKER_POLL":               &cfg.WorkerPoll,
		"BROADCAST_INTERVAL":        &cfg.BroadcastInterval,
		"CLEANUP_INTERVAL":          &cfg.CleanupInterval,
		"RESUME_HORIZON":            &cfg.ResumeHorizon,
		"TRANSCRIBE_BACKEND":        &cfg.TranscribeBackend,
		"TRANSCRIBE_MODEL":          &cfg.TranscribeModel,
		"TRANSCRIBE_FALLBACK_MODEL": &cfg.TranscribeFallbackModel,
		"DEEPGRAM_MODEL":            &cfg.DeepgramModel,
		"ANALYSIS_MODEL":            &cfg.AnalysisModel,
		"CHAT_MODEL":                &cfg.ChatModel,
		"GDRIVE_FOLDER_ID":          &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE":   &cfg.GoogleCredentialsFile,
	}
	for key, dst := range stringVars {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.WindowSeconds = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_SESSION_AUDIO_MB"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			cfg.MaxSessionAudioMB = n
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.AdminSecret = os.Getenv(EnvPrefix + "ADMIN_SECRET")
}

func validate(cfg *Config) []string {
	var warnings []string

	switch cfg.TranscribeBackend {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			warnings = append(warnings, "Gemini API key not configured — live transcription is disabled. Set "+EnvPrefix+"GEMINI_API_KEY.")
		}
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, "Deepgram API key not configured — live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown transcribe_backend %q — expected gemini or deepgram.", cfg.TranscribeBackend))
	}

	if cfg.AdminSecret == "" {
		warnings = append(warnings, "Admin secret not configured — admin operations are disabled. Set "+EnvPrefix+"ADMIN_SECRET.")
	}

	for name, raw := range map[string]string{
		"worker_poll":        cfg.WorkerPoll,
		"broadcast_interval": cfg.BroadcastInterval,
		"cleanup_interval":   cfg.CleanupInterval,
		"resume_horizon":     cfg.ResumeHorizon,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q — using built-in default.", name, raw))
		}
	}

	if _, _, err := parseProviderModel(cfg.AnalysisModel); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid analysis_model %q — expected provider/model_name.", cfg.AnalysisModel))
	}
	if _, _, err := parseProviderModel(cfg.ChatModel); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid chat_model %q — expected provider/model_name.", cfg.ChatModel))
	}

	return warnings
}

func parseProviderModel(model string) (string, string, error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model %q", model)
	}
	return parts[0], parts[1], nil
}
