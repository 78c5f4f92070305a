package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend modes selectable via BACKEND_MODE.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config is the dynamic council roster configuration. It is what the
// overlay file stores and what /api/config serves.
type Config struct {
	CouncilModels  []string `json:"council_models"`
	ChairmanModel  string   `json:"chairman_model"`
	BackendMode    string   `json:"backend_mode"`
	BackendBaseURL string   `json:"backend_base_url"`
}

// Clone returns a deep copy so callers can hold a snapshot without
// racing against later updates.
func (c Config) Clone() Config {
	out := c
	out.CouncilModels = append([]string(nil), c.CouncilModels...)
	return out
}

// Settings are the process-level settings read once from the
// environment at startup. Unlike Config they never change at runtime.
type Settings struct {
	Port             int
	BackendMode      string
	BackendBaseURL   string
	BackendAPIKey    string
	ModelTimeout     time.Duration
	ForceStreaming   bool
	MarkdownEnabled  bool
	DBStorageEnabled bool
	AllowedOrigins   []string
	ConfigFile       string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDatabase string
}

// LoadSettings reads process settings from environment variables.
// Callers are expected to have loaded .env (godotenv) beforehand.
func LoadSettings() Settings {
	s := Settings{
		Port:             intFromEnv("PORT", 8000),
		BackendMode:      normalizeMode(os.Getenv("BACKEND_MODE")),
		BackendBaseURL:   strings.TrimSpace(os.Getenv("BACKEND_BASE_URL")),
		BackendAPIKey:    strings.TrimSpace(os.Getenv("BACKEND_API_KEY")),
		ModelTimeout:     time.Duration(intFromEnv("MODEL_TIMEOUT", 60)) * time.Second,
		ForceStreaming:   boolFromEnv("FORCE_STREAMING", false),
		MarkdownEnabled:  boolFromEnv("ENABLE_MARKDOWN_FORMATTING", true),
		DBStorageEnabled: boolFromEnv("ENABLE_DB_STORAGE", false),
		ConfigFile:       firstNonEmpty(strings.TrimSpace(os.Getenv("CONFIG_FILE")), "./data/council_config.json"),
		PostgresHost:     firstNonEmpty(strings.TrimSpace(os.Getenv("POSTGRES_HOST")), "localhost"),
		PostgresPort:     intFromEnv("POSTGRES_PORT", 5432),
		PostgresUser:     firstNonEmpty(strings.TrimSpace(os.Getenv("POSTGRES_USER")), "admin"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDatabase: firstNonEmpty(strings.TrimSpace(os.Getenv("POSTGRES_CONTINUE_DATABASE")), strings.TrimSpace(os.Getenv("POSTGRES_DATABASE")), "continue"),
	}
	if s.BackendBaseURL == "" && s.BackendMode == BackendLocal {
		s.BackendBaseURL = "http://localhost:11434"
	}
	if raw := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.AllowedOrigins = append(s.AllowedOrigins, o)
			}
		}
	} else {
		s.AllowedOrigins = []string{
			"http://localhost",
			"http://localhost:8000",
			"http://127.0.0.1",
			"http://127.0.0.1:8000",
		}
	}
	return s
}

// normalizeMode maps legacy mode names onto the local/remote pair.
func normalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "local", "ollama":
		return BackendLocal
	case "remote", "openrouter":
		return BackendRemote
	default:
		return BackendLocal
	}
}

// fromEnv builds the roster config from environment variables. The
// numbered COUNCILLOR_01..COUNCILLOR_04 variables win over the legacy
// comma-separated COUNCIL_MODELS; CHAIRMAN wins over CHAIRMAN_MODEL.
func fromEnv(settings Settings) Config {
	var models []string
	for i := 1; i <= 4; i++ {
		v := strings.TrimSpace(os.Getenv("COUNCILLOR_0" + strconv.Itoa(i)))
		if v != "" {
			models = append(models, v)
		}
	}
	if len(models) == 0 {
		if raw := strings.TrimSpace(os.Getenv("COUNCIL_MODELS")); raw != "" {
			for _, m := range strings.Split(raw, ",") {
				if m = strings.TrimSpace(m); m != "" {
					models = append(models, m)
				}
			}
		}
	}

	chairman := firstNonEmpty(strings.TrimSpace(os.Getenv("CHAIRMAN")), strings.TrimSpace(os.Getenv("CHAIRMAN_MODEL")))

	return Config{
		CouncilModels:  models,
		ChairmanModel:  chairman,
		BackendMode:    settings.BackendMode,
		BackendBaseURL: settings.BackendBaseURL,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
