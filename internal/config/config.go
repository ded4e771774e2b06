package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"TW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"TW_DB_MAX_CONNS" default:"8"`

	APIHost string `envconfig:"API_HOST" default:"0.0.0.0"`
	APIPort int    `envconfig:"API_PORT" default:"8091"`

	// CronSecret is the shared secret required by job invocation targets.
	// An empty value makes every scheduled invocation fail closed.
	CronSecret string `envconfig:"CRON_SECRET" default:""`

	SchedulerTickInterval   time.Duration `envconfig:"SCHEDULER_TICK_INTERVAL" default:"60s"`
	SchedulerMaxConcurrency int           `envconfig:"SCHEDULER_MAX_CONCURRENCY" default:"10"`
	JobTimeout              time.Duration `envconfig:"JOB_TIMEOUT" default:"120s"`
	JobBaseURL              string        `envconfig:"JOB_BASE_URL" default:"http://127.0.0.1:8091"`

	TrendingThreshold  float64       `envconfig:"TRENDING_THRESHOLD" default:"30"`
	BreakingZThreshold float64       `envconfig:"BREAKING_Z_THRESHOLD" default:"2"`
	BreakingMultiplier float64       `envconfig:"BREAKING_MULTIPLIER" default:"2"`
	MinConfidence      float64       `envconfig:"MIN_CONFIDENCE" default:"30"`
	ActiveWindow       time.Duration `envconfig:"ACTIVE_WINDOW" default:"48h"`

	DedupWindow    time.Duration `envconfig:"DEDUP_WINDOW" default:"24h"`
	DedupAutoMerge float64       `envconfig:"DEDUP_AUTO_MERGE_THRESHOLD" default:"0.85"`
	DedupReview    float64       `envconfig:"DEDUP_REVIEW_THRESHOLD" default:"0.70"`
	DedupCandidate float64       `envconfig:"DEDUP_CANDIDATE_THRESHOLD" default:"0.60"`

	RelevanceURL     string        `envconfig:"RELEVANCE_URL" default:""`
	RelevanceTimeout time.Duration `envconfig:"RELEVANCE_TIMEOUT" default:"5s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("TW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("TW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("TW_DB_MIN_CONNS (%d) cannot exceed TW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be a valid TCP port")
	}
	if c.SchedulerTickInterval < time.Second {
		return fmt.Errorf("SCHEDULER_TICK_INTERVAL must be >= 1s")
	}
	if c.SchedulerMaxConcurrency < 1 {
		return fmt.Errorf("SCHEDULER_MAX_CONCURRENCY must be >= 1")
	}
	if c.JobTimeout < time.Second {
		return fmt.Errorf("JOB_TIMEOUT must be >= 1s")
	}
	if c.TrendingThreshold < 0 || c.TrendingThreshold > 100 {
		return fmt.Errorf("TRENDING_THRESHOLD must be within [0,100]")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("MIN_CONFIDENCE must be within [0,100]")
	}
	if c.BreakingZThreshold <= 0 {
		return fmt.Errorf("BREAKING_Z_THRESHOLD must be > 0")
	}
	if c.BreakingMultiplier <= 0 {
		return fmt.Errorf("BREAKING_MULTIPLIER must be > 0")
	}
	if c.ActiveWindow < time.Hour {
		return fmt.Errorf("ACTIVE_WINDOW must be >= 1h")
	}
	if c.DedupWindow < time.Hour {
		return fmt.Errorf("DEDUP_WINDOW must be >= 1h")
	}
	if err := validateThresholdOrder(c.DedupCandidate, c.DedupReview, c.DedupAutoMerge); err != nil {
		return err
	}
	return nil
}

func validateThresholdOrder(candidate, review, autoMerge float64) error {
	for name, v := range map[string]float64{
		"DEDUP_CANDIDATE_THRESHOLD":  candidate,
		"DEDUP_REVIEW_THRESHOLD":     review,
		"DEDUP_AUTO_MERGE_THRESHOLD": autoMerge,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be within (0,1]", name)
		}
	}
	if !(candidate < review && review < autoMerge) {
		return fmt.Errorf(
			"dedup thresholds must be ordered candidate (%.2f) < review (%.2f) < auto-merge (%.2f)",
			candidate, review, autoMerge,
		)
	}
	return nil
}
