package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dossier/internal/core"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       App       `mapstructure:"app"`
	AI        AI        `mapstructure:"ai"`
	Retry     Retry     `mapstructure:"retry"`
	Report    Report    `mapstructure:"report"`
	Output    Output    `mapstructure:"output"`
	Storage   Storage   `mapstructure:"storage"`
	Tracking  Tracking  `mapstructure:"tracking"`
	Upload    Upload    `mapstructure:"upload"`
	Server    Server    `mapstructure:"server"`
	Analytics Analytics `mapstructure:"analytics"`
	Logging   Logging   `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug   bool   `mapstructure:"debug"`
	DataDir string `mapstructure:"data_dir"`
}

// AI holds LLM configuration
type AI struct {
	Provider string       `mapstructure:"provider"` // gemini or scripted
	Gemini   GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration. Either APIKey or Project
// must be set; Project selects the Vertex AI backend.
type GeminiConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Project         string `mapstructure:"project"`
	Location        string `mapstructure:"location"`
	Model           string `mapstructure:"model"`
	FastModel       string `mapstructure:"fast_model"`
	Timeout         string `mapstructure:"timeout"`
	MaxOutputTokens int32  `mapstructure:"max_output_tokens"`
}

// Retry holds backoff settings for model calls
type Retry struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelay   float64 `mapstructure:"base_delay_seconds"`
	MaxDelay    string  `mapstructure:"max_delay"`
}

// Report holds defaults applied to every report request
type Report struct {
	Language           string   `mapstructure:"language"`
	PrimaryEntity      string   `mapstructure:"primary_entity"`
	ComparisonEntities []string `mapstructure:"comparison_entities"`
	TopicDomain        string   `mapstructure:"topic_domain"`
	TargetAudience     []string `mapstructure:"target_audience"`
	FocusAreas         []string `mapstructure:"analysis_focus_areas"`
	SectionGuidance    []string `mapstructure:"section_guidance"`
	StrictStructure    bool     `mapstructure:"strict_structure"`
	Tone               string   `mapstructure:"tone"`
	Formality          string   `mapstructure:"formality"`
	Emphasis           []string `mapstructure:"emphasis"`
	Temperature        float32  `mapstructure:"temperature"`
	Orientation        string   `mapstructure:"orientation"`
	PolishSkipTerms    []string `mapstructure:"polish_skip_terms"`
	ContextWindowChars int      `mapstructure:"context_window_chars"`
	RunTimeout         string   `mapstructure:"run_timeout"`
}

// Output holds rendering configuration
type Output struct {
	Directory string `mapstructure:"directory"`
	TOCDepth  int    `mapstructure:"toc_depth"`
	PDF       PDF    `mapstructure:"pdf"`
}

// PDF holds wkhtmltopdf settings
type PDF struct {
	Enabled bool   `mapstructure:"enabled"`
	Binary  string `mapstructure:"binary"`
}

// Storage holds conversation history persistence configuration
type Storage struct {
	Backend    string          `mapstructure:"backend"` // file, redis, firestore
	HistoryDir string          `mapstructure:"history_dir"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Firestore  FirestoreConfig `mapstructure:"firestore"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL string `mapstructure:"url"`
	TTL string `mapstructure:"ttl"`
}

// FirestoreConfig holds Firestore settings
type FirestoreConfig struct {
	Project    string `mapstructure:"project"`
	Collection string `mapstructure:"collection"`
}

// Tracking holds metrics and status log configuration
type Tracking struct {
	Backend     string `mapstructure:"backend"` // csv, postgres, sqlite
	MetricsFile string `mapstructure:"metrics_file"`
	StatusDir   string `mapstructure:"status_dir"`
	DatabaseURL string `mapstructure:"database_url"`
}

// Upload holds blob upload configuration
type Upload struct {
	Enabled  bool           `mapstructure:"enabled"`
	Provider string         `mapstructure:"provider"` // gcs or supabase
	GCS      GCSConfig      `mapstructure:"gcs"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
}

// GCSConfig holds Google Cloud Storage settings
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// SupabaseConfig holds Supabase Storage settings
type SupabaseConfig struct {
	URL    string `mapstructure:"url"`
	Key    string `mapstructure:"key"`
	Bucket string `mapstructure:"bucket"`
}

// Server holds HTTP API configuration
type Server struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	RequestTimeout  string   `mapstructure:"request_timeout"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	APIKey          string   `mapstructure:"api_key"` // Required bearer token for POST /api/reports when set
}

// Analytics holds PostHog configuration
type Analytics struct {
	PostHog PostHogConfig `mapstructure:"posthog"`
}

// PostHogConfig holds PostHog settings
type PostHogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Host    string `mapstructure:"host"`
}

// Logging holds logging configuration
type Logging struct {
	Level string `mapstructure:"level"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".dossier")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".dossier")

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.gemini.location", "us-central1")
	viper.SetDefault("ai.gemini.model", "gemini-2.5-pro")
	viper.SetDefault("ai.gemini.fast_model", "gemini-2.5-flash")
	viper.SetDefault("ai.gemini.timeout", "10m")
	viper.SetDefault("ai.gemini.max_output_tokens", 65535)

	viper.SetDefault("retry.max_attempts", 5)
	viper.SetDefault("retry.base_delay_seconds", 2.0)
	viper.SetDefault("retry.max_delay", "2m")

	viper.SetDefault("report.language", "English")
	viper.SetDefault("report.topic_domain", "business strategy")
	viper.SetDefault("report.tone", "analytical")
	viper.SetDefault("report.formality", "formal")
	viper.SetDefault("report.temperature", 0.4)
	viper.SetDefault("report.orientation", string(core.OrientationLandscape))
	viper.SetDefault("report.polish_skip_terms", core.DefaultPolishSkipTerms)
	viper.SetDefault("report.context_window_chars", 600000)
	viper.SetDefault("report.run_timeout", "0s")

	viper.SetDefault("output.directory", "reports")
	viper.SetDefault("output.toc_depth", 3)
	viper.SetDefault("output.pdf.enabled", true)

	viper.SetDefault("storage.backend", "file")
	viper.SetDefault("storage.history_dir", "history")
	viper.SetDefault("storage.redis.ttl", "168h")
	viper.SetDefault("storage.firestore.collection", "conversations")

	viper.SetDefault("tracking.backend", "csv")
	viper.SetDefault("tracking.metrics_file", "logs/metrics.csv")
	viper.SetDefault("tracking.status_dir", "logs/status")

	viper.SetDefault("upload.enabled", false)
	viper.SetDefault("upload.provider", "gcs")
	viper.SetDefault("upload.supabase.bucket", "reports")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.request_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("server.allowed_origins", []string{"*"})

	viper.SetDefault("analytics.posthog.enabled", false)
	viper.SetDefault("analytics.posthog.host", "https://app.posthog.com")

	viper.SetDefault("logging.level", "info")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_API_KEY",
	})

	bindEnvKeys("ai.gemini.project", []string{
		"GOOGLE_CLOUD_PROJECT",
		"GCP_PROJECT",
	})

	bindEnvKeys("ai.gemini.location", []string{
		"GOOGLE_CLOUD_LOCATION",
		"GCP_LOCATION",
	})

	bindEnvKeys("storage.redis.url", []string{
		"REDIS_URL",
	})

	bindEnvKeys("storage.firestore.project", []string{
		"FIRESTORE_PROJECT",
		"GOOGLE_CLOUD_PROJECT",
	})

	bindEnvKeys("tracking.database_url", []string{
		"DATABASE_URL",
	})

	bindEnvKeys("upload.gcs.bucket", []string{
		"GCS_BUCKET",
		"GCS_BUCKET_NAME",
	})

	bindEnvKeys("upload.gcs.credentials_file", []string{
		"GOOGLE_APPLICATION_CREDENTIALS",
	})

	bindEnvKeys("upload.supabase.url", []string{
		"SUPABASE_URL",
	})

	bindEnvKeys("upload.supabase.key", []string{
		"SUPABASE_SERVICE_ROLE_KEY",
		"SUPABASE_KEY",
	})

	bindEnvKeys("analytics.posthog.api_key", []string{
		"POSTHOG_API_KEY",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"DOSSIER_DEBUG",
	})

	bindEnvKeys("server.api_key", []string{
		"DOSSIER_API_KEY",
	})

	bindEnvKeys("server.port", []string{
		"PORT",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	config.App.DataDir = expandPath(config.App.DataDir)
	config.Output.Directory = expandPath(config.Output.Directory)
	config.Storage.HistoryDir = expandPath(config.Storage.HistoryDir)
	config.Tracking.MetricsFile = expandPath(config.Tracking.MetricsFile)
	config.Tracking.StatusDir = expandPath(config.Tracking.StatusDir)
	config.Upload.GCS.CredentialsFile = expandPath(config.Upload.GCS.CredentialsFile)

	durations := map[string]string{
		"ai.gemini.timeout":       config.AI.Gemini.Timeout,
		"retry.max_delay":         config.Retry.MaxDelay,
		"report.run_timeout":      config.Report.RunTimeout,
		"storage.redis.ttl":       config.Storage.Redis.TTL,
		"server.request_timeout":  config.Server.RequestTimeout,
		"server.shutdown_timeout": config.Server.ShutdownTimeout,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig checks that the selected backends are known and configured.
// Model credentials are checked when the LLM client is built, so read-only
// commands such as `logs` and `stats` work without them.
func validateConfig(config *Config) error {
	var errors []string

	switch config.AI.Provider {
	case "gemini", "scripted":
	default:
		errors = append(errors, fmt.Sprintf("Unknown AI provider: %s. Supported: gemini, scripted", config.AI.Provider))
	}

	switch config.Storage.Backend {
	case "file":
	case "redis":
		if config.Storage.Redis.URL == "" {
			errors = append(errors, "Redis storage requires a URL. Set REDIS_URL or storage.redis.url")
		}
	case "firestore":
		if config.Storage.Firestore.Project == "" {
			errors = append(errors, "Firestore storage requires a project. Set GOOGLE_CLOUD_PROJECT or storage.firestore.project")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown storage backend: %s. Supported: file, redis, firestore", config.Storage.Backend))
	}

	switch config.Tracking.Backend {
	case "csv":
	case "postgres", "sqlite":
		if config.Tracking.DatabaseURL == "" {
			errors = append(errors, fmt.Sprintf("%s tracking requires a database URL. Set DATABASE_URL or tracking.database_url", config.Tracking.Backend))
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown tracking backend: %s. Supported: csv, postgres, sqlite", config.Tracking.Backend))
	}

	if config.Upload.Enabled {
		switch config.Upload.Provider {
		case "gcs":
			if config.Upload.GCS.Bucket == "" {
				errors = append(errors, "GCS upload requires a bucket. Set GCS_BUCKET or upload.gcs.bucket")
			}
		case "supabase":
			if config.Upload.Supabase.URL == "" || config.Upload.Supabase.Key == "" {
				errors = append(errors, "Supabase upload requires both URL and key. Set SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
			}
		default:
			errors = append(errors, fmt.Sprintf("Unknown upload provider: %s. Supported: gcs, supabase", config.Upload.Provider))
		}
	}

	switch core.Orientation(config.Report.Orientation) {
	case "", core.OrientationLandscape, core.OrientationPortrait:
	default:
		errors = append(errors, fmt.Sprintf("Unknown orientation: %s. Supported: landscape, portrait", config.Report.Orientation))
	}

	if config.Analytics.PostHog.Enabled && config.Analytics.PostHog.APIKey == "" {
		errors = append(errors, "PostHog analytics enabled but missing API key. Set POSTHOG_API_KEY")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ReportDefaults converts the report and AI sections into the baseline
// ReportConfig that request files and API bodies are merged over.
func (c *Config) ReportDefaults() core.ReportConfig {
	return core.ReportConfig{
		Language:           c.Report.Language,
		PrimaryEntity:      c.Report.PrimaryEntity,
		ComparisonEntities: c.Report.ComparisonEntities,
		TopicDomain:        c.Report.TopicDomain,
		TargetAudience:     c.Report.TargetAudience,
		AnalysisFocusAreas: c.Report.FocusAreas,
		SectionGuidance:    c.Report.SectionGuidance,
		StrictStructure:    c.Report.StrictStructure,
		Tone: core.ToneProfile{
			Tone:      c.Report.Tone,
			Formality: c.Report.Formality,
			Emphasis:  c.Report.Emphasis,
		},
		ModelID:               c.AI.Gemini.Model,
		FastModelID:           c.AI.Gemini.FastModel,
		MaxRetries:            c.Retry.MaxAttempts,
		RetryBaseDelaySeconds: c.Retry.BaseDelay,
		Temperature:           c.Report.Temperature,
		Orientation:           core.Orientation(c.Report.Orientation),
		PolishSkipTerms:       c.Report.PolishSkipTerms,
		Upload:                c.Upload.Enabled,
	}
}

// Duration parses a duration that postProcessConfig has already validated.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// HasCredentials reports whether either backend of the Gemini client can be built
func (g GeminiConfig) HasCredentials() bool {
	return isValidAPIKey(g.APIKey) || g.Project != ""
}

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-gemini-key", "YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
