package common

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/paper-translate/constants"
)

// Config holds all application configuration
type Config struct {
	Store   StoreConfig
	Papers  PapersConfig
	LLM     LLMConfig
	Worker  WorkerConfig
	Metrics MetricsConfig
	Log     LogConfig
}

// StoreConfig selects and tunes the job store backend
type StoreConfig struct {
	Backend         string // file | sqlite | postgres
	Path            string // jobs.json for file, database file for sqlite
	DSN             string // postgres only
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
	LockTimeout     time.Duration
}

// PapersConfig locates harvested paper records and translated artifacts
type PapersConfig struct {
	InputDir  string
	OutputDir string
}

// LLMConfig holds translation API configuration
type LLMConfig struct {
	BaseURL         string
	APIKey          string
	Models          []string // primary first, then fallbacks in order
	Temperature     float32
	ConnectTimeout  time.Duration
	Timeout         time.Duration
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	GlossaryFile    string
	BatchParagraphs int
}

// WorkerConfig holds worker loop configuration
type WorkerConfig struct {
	ID             string
	BatchSize      int
	MaxAttempts    int
	PollInterval   time.Duration
	MaxIdlePolls   int
	MaxStoreErrors int
	StuckTimeout   time.Duration
	JobTimeout     time.Duration
	DryRun         bool
	Concurrency    int
}

// MetricsConfig holds the optional observability endpoints of a worker process
type MetricsConfig struct {
	Addr     string // prometheus /metrics, empty disables
	GRPCAddr string // grpc health, empty disables
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables. A .env file in the
// working directory is applied first; variables already set win.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Store: StoreConfig{
			Backend:         getEnv("STORE_BACKEND", constants.BackendFile),
			Path:            getEnv("STORE_PATH", "./data/jobs.json"),
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 5*time.Second),
			LockTimeout:     getEnvAsDuration("STORE_LOCK_TIMEOUT", 30*time.Second),
		},
		Papers: PapersConfig{
			InputDir:  getEnv("PAPERS_DIR", "./data/papers"),
			OutputDir: getEnv("TRANSLATIONS_DIR", "./data/translations"),
		},
		LLM: LLMConfig{
			BaseURL:         getEnv("LLM_BASE_URL", "https://api.deepseek.com/v1"),
			APIKey:          getEnv("LLM_API_KEY", ""),
			Models:          getEnvAsList("LLM_MODELS", []string{"deepseek-chat"}),
			Temperature:     getEnvAsFloat32("LLM_TEMPERATURE", 0.1),
			ConnectTimeout:  getEnvAsDuration("LLM_CONNECT_TIMEOUT", 15*time.Second),
			Timeout:         getEnvAsDuration("LLM_TIMEOUT", 90*time.Second),
			MaxAttempts:     getEnvAsInt("LLM_MAX_ATTEMPTS", 4),
			BaseDelay:       getEnvAsDuration("LLM_BACKOFF_BASE", 2*time.Second),
			MaxDelay:        getEnvAsDuration("LLM_BACKOFF_MAX", 60*time.Second),
			GlossaryFile:    getEnv("GLOSSARY_FILE", ""),
			BatchParagraphs: getEnvAsInt("LLM_BATCH_PARAGRAPHS", 0),
		},
		Worker: WorkerConfig{
			ID:             getEnv("WORKER_ID", ""),
			BatchSize:      getEnvAsInt("WORKER_BATCH_SIZE", 1),
			MaxAttempts:    getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
			PollInterval:   getEnvAsDuration("WORKER_POLL_INTERVAL", 10*time.Second),
			MaxIdlePolls:   getEnvAsInt("WORKER_MAX_IDLE_POLLS", 6),
			MaxStoreErrors: getEnvAsInt("WORKER_MAX_STORE_ERRORS", 10),
			StuckTimeout:   getEnvAsDuration("WORKER_STUCK_TIMEOUT", 30*time.Minute),
			JobTimeout:     getEnvAsDuration("WORKER_JOB_TIMEOUT", 20*time.Minute),
			DryRun:         getEnvAsBool("WORKER_DRY_RUN", false),
			Concurrency:    getEnvAsInt("BATCH_CONCURRENCY", 4),
		},
		Metrics: MetricsConfig{
			Addr:     getEnv("METRICS_ADDR", ""),
			GRPCAddr: getEnv("GRPC_ADDR", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if !slices.Contains(constants.Backends, c.Store.Backend) {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("STORE_BACKEND must be one of %v", constants.Backends), ErrInvalidInput)
	}
	if c.Store.Backend == constants.BackendPostgres && c.Store.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required for the postgres backend", ErrInvalidInput)
	}
	if c.Store.Backend != constants.BackendPostgres && c.Store.Path == "" {
		return NewAppError("CONFIG_ERROR", "STORE_PATH is required", ErrInvalidInput)
	}
	if len(c.LLM.Models) == 0 {
		return NewAppError("CONFIG_ERROR", "LLM_MODELS is required", ErrInvalidInput)
	}
	if c.Worker.BatchSize < 1 {
		return NewAppError("CONFIG_ERROR", "WORKER_BATCH_SIZE must be at least 1", ErrInvalidInput)
	}
	if c.Worker.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "WORKER_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	return nil
}

// ValidateForTranslation additionally requires credentials unless running dry.
func (c *Config) ValidateForTranslation() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.Worker.DryRun && c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "LLM_API_KEY is required (or set WORKER_DRY_RUN=true)", ErrInvalidInput)
	}
	return nil
}

// GlossaryEntry is one (source, target) pair. Order is significant.
type GlossaryEntry struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// LoadGlossary reads an ordered YAML list of glossary entries. An empty path
// yields an empty glossary.
func LoadGlossary(path string) ([]GlossaryEntry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, NewAppError("CONFIG_ERROR", "read glossary "+path, err)
	}
	var entries []GlossaryEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, NewAppError("CONFIG_ERROR", "parse glossary "+path, err)
	}
	out := entries[:0]
	for _, e := range entries {
		e.Source = strings.TrimSpace(e.Source)
		e.Target = strings.TrimSpace(e.Target)
		if e.Source == "" || e.Target == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
