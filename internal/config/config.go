package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
	// ESRetryAttempts bounds retries of index writes.
	ESRetryAttempts int
}

// Kafka describes a consumer group on one topic.
type Kafka struct {
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaConsumer string
	BatchSize     int
	BatchWait     time.Duration
}

// Extractor holds configuration for the gazette text-extraction worker.
type Extractor struct {
	Common
	Kafka
	FilesEndpoint  string
	StoragePath    string
	TempDir        string
	DatabaseURL    string
	NERModelPath   string
	NERMinScore    float64
	PoolSize       int
	DedupeCapacity int
	DedupeTTL      time.Duration
	MetricsAddr    string
}

// Themes configures the themed excerpt worker.
type Themes struct {
	Common
	Kafka
	ThemesFile     string
	Themes         []models.Theme
	EmbeddingHost  string
	EmbeddingModel string
	EmbeddingToken string
	PoolSize       int
	MetricsAddr    string
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr    string
	DefaultPage int
	MaxPage     int
	DatabaseURL string
	ThemesFile  string
	Themes      []models.Theme
}

// Retention configures the excerpt cleanup loop.
type Retention struct {
	Common
	ThemesFile string
	Themes     []models.Theme
	Interval   time.Duration
	MaxAge     time.Duration
	BatchSize  int
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "querido-diario"),
		ESRetryAttempts:    getInt("ES_RETRY_ATTEMPTS", 3),
	}
}

func loadKafka(topic, group string) (Kafka, error) {
	k := Kafka{
		KafkaBrokers:  splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", topic),
		KafkaConsumer: getEnv("KAFKA_CONSUMER_GROUP", group),
		BatchSize:     getInt("BATCH_SIZE", 20),
		BatchWait:     getDuration("BATCH_WAIT", "5s"),
	}
	if len(k.KafkaBrokers) == 0 {
		return k, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if k.BatchSize <= 0 {
		return k, fmt.Errorf("BATCH_SIZE must be positive")
	}
	if k.BatchWait <= 0 {
		return k, fmt.Errorf("BATCH_WAIT must be positive")
	}
	return k, nil
}

// LoadExtractor builds an Extractor config from environment variables.
func LoadExtractor() (*Extractor, error) {
	k, err := loadKafka("gazettes_pending", "gazette-extractor")
	if err != nil {
		return nil, err
	}
	c := &Extractor{
		Common:         loadCommon(),
		Kafka:          k,
		FilesEndpoint:  getEnv("FILES_ENDPOINT", ""),
		StoragePath:    getEnv("STORAGE_PATH", "/data/gazettes"),
		TempDir:        getEnv("TEMP_DIR", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		NERModelPath:   getEnv("NER_MODEL_PATH", ""),
		NERMinScore:    getFloat("NER_MIN_SCORE", 0.5),
		PoolSize:       getInt("WORKER_POOL_SIZE", runtime.NumCPU()*4),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "24h"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9102"),
	}

	if c.FilesEndpoint == "" {
		return nil, fmt.Errorf("FILES_ENDPOINT is required")
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if c.PoolSize <= 0 {
		return nil, fmt.Errorf("WORKER_POOL_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.NERMinScore < 0 || c.NERMinScore > 1 {
		return nil, fmt.Errorf("NER_MIN_SCORE must be within [0, 1]")
	}

	return c, nil
}

// LoadThemes builds a Themes config from environment variables and reads the
// theme definitions from THEMES_FILE.
func LoadThemes() (*Themes, error) {
	k, err := loadKafka("gazettes_pending_indexed", "gazette-themes")
	if err != nil {
		return nil, err
	}
	c := &Themes{
		Common:         loadCommon(),
		Kafka:          k,
		ThemesFile:     getEnv("THEMES_FILE", "themes.yaml"),
		EmbeddingHost:  getEnv("EMBEDDING_HOST", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "intfloat/multilingual-e5-large"),
		EmbeddingToken: getEnv("EMBEDDING_TOKEN", ""),
		PoolSize:       getInt("WORKER_POOL_SIZE", runtime.NumCPU()*4),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9103"),
	}
	if c.PoolSize <= 0 {
		return nil, fmt.Errorf("WORKER_POOL_SIZE must be positive")
	}

	c.Themes, err = ReadThemesFile(c.ThemesFile)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common:      loadCommon(),
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage: getInt("API_PAGE_SIZE", 20),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 200),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		ThemesFile:  getEnv("THEMES_FILE", "themes.yaml"),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	themes, err := ReadThemesFile(c.ThemesFile)
	if err != nil {
		return nil, err
	}
	c.Themes = themes
	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:     loadCommon(),
		ThemesFile: getEnv("THEMES_FILE", "themes.yaml"),
		Interval:   getDuration("RETENTION_CRON", "24h"),
		MaxAge:     getDuration("RETENTION_MAX_AGE", "8760h"),
		BatchSize:  getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	themes, err := ReadThemesFile(c.ThemesFile)
	if err != nil {
		return nil, err
	}
	c.Themes = themes
	return c, nil
}

type themesFile struct {
	Themes []models.Theme `yaml:"themes"`
}

// ReadThemesFile loads theme definitions from a YAML file.
func ReadThemesFile(path string) ([]models.Theme, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read themes file: %w", err)
	}
	return ParseThemes(raw)
}

// ParseThemes decodes and validates theme definitions.
func ParseThemes(raw []byte) ([]models.Theme, error) {
	var file themesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse themes: %w", err)
	}
	if len(file.Themes) == 0 {
		return nil, errors.New("themes file defines no theme")
	}

	seen := make(map[string]struct{}, len(file.Themes))
	for i, theme := range file.Themes {
		name := strings.TrimSpace(theme.Name)
		if name == "" {
			return nil, fmt.Errorf("theme %d: name is required", i)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("theme %q defined twice", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(theme.Index) == "" {
			return nil, fmt.Errorf("theme %q: index is required", name)
		}
		for j, q := range theme.Queries {
			if strings.TrimSpace(q.Title) == "" {
				return nil, fmt.Errorf("theme %q query %d: title is required", name, j)
			}
			if len(q.TermSets) == 0 {
				return nil, fmt.Errorf("theme %q query %q: no term sets", name, q.Title)
			}
		}
		file.Themes[i].Name = name
	}
	return file.Themes, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
