package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is shared by the worker functions, the API and the CLI. Keys are
// the environment variable names; a YAML file may provide the same keys.
type Config struct {
	ProjectID           string `mapstructure:"PROJECT_ID"`
	SourceBucket        string `mapstructure:"SOURCE_BUCKET"`
	SplitPagesBucket    string `mapstructure:"SPLIT_PAGES_BUCKET"`
	ContentBucket       string `mapstructure:"CONTENT_BUCKET"`
	FirestoreCollection string `mapstructure:"FIRESTORE_COLLECTION"`
	WorkflowID          string `mapstructure:"WORKFLOW_ID"`
	OCRWorkflowID       string `mapstructure:"OCR_WORKFLOW_ID"`
	WorkflowLocation    string `mapstructure:"WORKFLOW_LOCATION"`
	VertexAIRegion      string `mapstructure:"VERTEX_AI_REGION"`

	SearchBackend  string `mapstructure:"SEARCH_BACKEND"`
	MeiliURL       string `mapstructure:"MEILI_URL"`
	MeiliMasterKey string `mapstructure:"MEILI_MASTER_KEY"`
	MeiliIndex     string `mapstructure:"MEILI_INDEX"`
	BleveIndexPath string `mapstructure:"BLEVE_INDEX_PATH"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	VocabularyPath string `mapstructure:"VOCABULARY_PATH"`

	SplitPollInterval      time.Duration `mapstructure:"SPLIT_POLL_INTERVAL"`
	PropagationQuietPeriod time.Duration `mapstructure:"PROPAGATION_QUIET_PERIOD"`
	RevisionDebounce       time.Duration `mapstructure:"REVISION_DEBOUNCE"`
	CopyJobPollInterval    time.Duration `mapstructure:"COPY_JOB_POLL_INTERVAL"`
	CopyJobTimeout         time.Duration `mapstructure:"COPY_JOB_TIMEOUT"`

	RevisionSuccessor   string `mapstructure:"REVISION_SUCCESSOR"`
	SearchRowLimit      int    `mapstructure:"SEARCH_ROW_LIMIT"`
	DistributionMarker  string `mapstructure:"DISTRIBUTION_MARKER"`
	DistributionExclude bool   `mapstructure:"DISTRIBUTION_EXCLUDE"`
	MaxNameLength       int    `mapstructure:"MAX_NAME_LENGTH"`
}

var defaults = map[string]any{
	"PROJECT_ID":               "",
	"SOURCE_BUCKET":            "",
	"SPLIT_PAGES_BUCKET":       "",
	"CONTENT_BUCKET":           "",
	"FIRESTORE_COLLECTION":     "documents",
	"WORKFLOW_ID":              "drawing-split-orchestrator",
	"OCR_WORKFLOW_ID":          "drawing-ocr-orchestrator",
	"WORKFLOW_LOCATION":        "us-central1",
	"VERTEX_AI_REGION":         "us-central1",
	"SEARCH_BACKEND":           "bleve",
	"MEILI_URL":                "http://localhost:7700",
	"MEILI_MASTER_KEY":         "",
	"MEILI_INDEX":              "drawings",
	"BLEVE_INDEX_PATH":         "",
	"REDIS_URL":                "redis://localhost:6379/0",
	"VOCABULARY_PATH":          "",
	"SPLIT_POLL_INTERVAL":      "2s",
	"PROPAGATION_QUIET_PERIOD": "100ms",
	"REVISION_DEBOUNCE":        "300ms",
	"COPY_JOB_POLL_INTERVAL":   "1s",
	"COPY_JOB_TIMEOUT":         "5m",
	"REVISION_SUCCESSOR":       "first-char",
	"SEARCH_ROW_LIMIT":         5,
	"DISTRIBUTION_MARKER":      "",
	"DISTRIBUTION_EXCLUDE":     false,
	"MAX_NAME_LENGTH":          128,
}

// Load reads an optional .env file, then an optional YAML file at path,
// then the environment. Later sources win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// RequireGCP checks the settings every GCP-backed component needs.
func (c *Config) RequireGCP() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if c.SplitPagesBucket == "" {
		return fmt.Errorf("SPLIT_PAGES_BUCKET environment variable must be set")
	}
	return nil
}
