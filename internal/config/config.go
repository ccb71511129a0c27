package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Validation errors.
var (
	ErrUnknownStorageType  = errors.New("unknown storage type")
	ErrMissingBucket       = errors.New("s3 storage needs a bucket")
	ErrMissingSourceKey    = errors.New("source key is empty")
	ErrUnknownRunlogDriver = errors.New("unknown runlog driver")
	ErrUnknownBridge       = errors.New("unknown identity bridge")
	ErrUnknownCompression  = errors.New("unknown parquet compression")
)

// Config holds all configuration for a consolidation run
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Sources  SourcesConfig  `yaml:"sources"`
	Outputs  OutputsConfig  `yaml:"outputs"`
	Identity IdentityConfig `yaml:"identity"`
	Layouts  LayoutsConfig  `yaml:"layouts"`
	Lock     LockConfig     `yaml:"lock"`
	Runlog   RunlogConfig   `yaml:"runlog"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StorageConfig selects where sources are read from and outputs written to.
type StorageConfig struct {
	Type       string `yaml:"type"` // "local" or "s3"
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	// Static credentials, mainly for S3-compatible endpoints.
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// SourcesConfig names the three input objects, relative to the store root.
type SourcesConfig struct {
	Leads                string `yaml:"leads"`
	Transactions         string `yaml:"transactions"`
	Activity             string `yaml:"activity"`
	LeadDelimiter        string `yaml:"lead_delimiter"`
	TransactionDelimiter string `yaml:"transaction_delimiter"`
}

// OutputsConfig names the output objects. ActivityRejections is optional.
type OutputsConfig struct {
	Customers          string `yaml:"customers"`
	Rejections         string `yaml:"rejections"`
	ActivityRejections string `yaml:"activity_rejections"`
	Compression        string `yaml:"compression"` // snappy, zstd, gzip, none
}

// IdentityConfig selects the email to user_uuid bridge.
type IdentityConfig struct {
	Bridge     string `yaml:"bridge"` // "positional" or "mapping_table"
	MappingKey string `yaml:"mapping_key"`
}

// LayoutsConfig overrides the timestamp layout of each source.
type LayoutsConfig struct {
	LeadCreationDate     string `yaml:"lead_creation_date"`
	TransactionTimestamp string `yaml:"transaction_timestamp"`
	ActivityTimestamp    string `yaml:"activity_timestamp"`
}

// LockConfig configures the run lock. With no Redis URL the Postgres
// advisory lock is used when a database is configured.
type LockConfig struct {
	Key        string `yaml:"key"`
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL returns the lock TTL as a duration
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RunlogConfig selects where run summaries go.
type RunlogConfig struct {
	Driver        string `yaml:"driver"` // "none", "postgres" or "dynamodb"
	DatabaseURL   string `yaml:"database_url"`
	DynamoDBTable string `yaml:"dynamodb_table"`
}

// MetricsConfig configures the Pushgateway push at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a Config with every default applied, as if loaded from an
// empty file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
	if cfg.Sources.Leads == "" {
		cfg.Sources.Leads = "leads.csv"
	}
	if cfg.Sources.Transactions == "" {
		cfg.Sources.Transactions = "transactions.txt"
	}
	if cfg.Sources.Activity == "" {
		cfg.Sources.Activity = "web_activity.jsonl"
	}
	if cfg.Sources.LeadDelimiter == "" {
		cfg.Sources.LeadDelimiter = ","
	}
	if cfg.Sources.TransactionDelimiter == "" {
		cfg.Sources.TransactionDelimiter = "|"
	}
	if cfg.Outputs.Customers == "" {
		cfg.Outputs.Customers = "output/customers.parquet"
	}
	if cfg.Outputs.Rejections == "" {
		cfg.Outputs.Rejections = "output/rejected_transactions.log"
	}
	if cfg.Outputs.Compression == "" {
		cfg.Outputs.Compression = "snappy"
	}
	if cfg.Identity.Bridge == "" {
		cfg.Identity.Bridge = "positional"
	}
	if cfg.Lock.Key == "" {
		cfg.Lock.Key = "lead-consolidator"
	}
	if cfg.Lock.TTLSeconds == 0 {
		cfg.Lock.TTLSeconds = 900
	}
	if cfg.Runlog.Driver == "" {
		cfg.Runlog.Driver = "none"
	}
	if cfg.Runlog.DynamoDBTable == "" {
		cfg.Runlog.DynamoDBTable = "consolidation_runs"
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = "lead_consolidator"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CONSOLIDATE_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
		cfg.Storage.Type = "s3"
	}
	if v := os.Getenv("CONSOLIDATE_S3_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("CONSOLIDATE_S3_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("CONSOLIDATE_S3_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Runlog.DatabaseURL = v
		if cfg.Runlog.Driver == "none" {
			cfg.Runlog.Driver = "postgres"
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Lock.RedisURL = v
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

// Validate checks the settings a run cannot start without.
func (cfg *Config) Validate() error {
	switch cfg.Storage.Type {
	case "local":
	case "s3":
		if cfg.Storage.S3Bucket == "" {
			return ErrMissingBucket
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorageType, cfg.Storage.Type)
	}

	for _, src := range []struct{ name, key string }{
		{"leads", cfg.Sources.Leads},
		{"transactions", cfg.Sources.Transactions},
		{"activity", cfg.Sources.Activity},
	} {
		if src.key == "" {
			return fmt.Errorf("%w: %s", ErrMissingSourceKey, src.name)
		}
	}

	switch cfg.Runlog.Driver {
	case "none", "postgres", "dynamodb":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRunlogDriver, cfg.Runlog.Driver)
	}

	switch cfg.Identity.Bridge {
	case "positional":
	case "mapping_table":
		if cfg.Identity.MappingKey == "" {
			return fmt.Errorf("%w: mapping_table needs identity.mapping_key", ErrMissingSourceKey)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBridge, cfg.Identity.Bridge)
	}

	switch cfg.Outputs.Compression {
	case "snappy", "zstd", "gzip", "none":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCompression, cfg.Outputs.Compression)
	}
	return nil
}

// Delimiter returns the first rune of s, or fallback when s is empty.
func Delimiter(s string, fallback rune) rune {
	for _, r := range s {
		return r
	}
	return fallback
}
