// This file defines the configuration structure for the application.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port int `mapstructure:"port"`
	Log  struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Storage struct {
		LocalPath string `mapstructure:"local_path"`
		CachePath string `mapstructure:"cache_path"`
		S3        struct {
			Bucket   string `mapstructure:"bucket"`
			Region   string `mapstructure:"region"`
			Endpoint string `mapstructure:"endpoint"`
		} `mapstructure:"s3"`
	} `mapstructure:"storage"`
	Scheduler struct {
		IntervalSeconds   int `mapstructure:"interval_seconds"`
		MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
	} `mapstructure:"scheduler"`
	Extraction struct {
		MaxChunkSize     int    `mapstructure:"max_chunk_size"`
		MaxRetries       int    `mapstructure:"max_retries"`
		RetryInitialMs   int    `mapstructure:"retry_initial_ms"`
		RetryMaxMs       int    `mapstructure:"retry_max_ms"`
		HTMLContentXPath string `mapstructure:"html_content_xpath"`
	} `mapstructure:"extraction"`
	LLM struct {
		Provider       string  `mapstructure:"provider"`
		BaseURL        string  `mapstructure:"base_url"`
		APIKey         string  `mapstructure:"api_key"`
		Model          string  `mapstructure:"model"`
		Temperature    float64 `mapstructure:"temperature"`
		TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	} `mapstructure:"llm"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with an explicit directory to look for config.yml in.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(dir)

	// EXTRACT_DATABASE_PATH overrides `database.path`, and so on.
	v.SetEnvPrefix("EXTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config.LLM.APIKey == "" {
		config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("database.path", "./extract.db")
	v.SetDefault("storage.local_path", "./.data")
	v.SetDefault("storage.cache_path", "./.data/cached")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("scheduler.interval_seconds", 60)
	v.SetDefault("scheduler.max_concurrent_jobs", 2)
	v.SetDefault("extraction.max_chunk_size", 8000)
	v.SetDefault("extraction.max_retries", 3)
	v.SetDefault("extraction.retry_initial_ms", 500)
	v.SetDefault("extraction.retry_max_ms", 10000)
	v.SetDefault("extraction.html_content_xpath", "")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout_seconds", 60)
}

// ScanInterval is the period of the scheduler's scan for scheduled jobs.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// LLMTimeout bounds a single model call.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}
