// Package config loads the scheduler's environment-driven settings,
// grounded in the envInt/envStr/envDuration pattern used across the
// example pack's config loaders (e.g. env var overrides with typed
// defaults and accumulated validation errors) rather than a flag-only
// approach, since every setting here also needs a sane production
// default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects startup behavior. Dev wipes the SQLite database on start
// so local iteration never accumulates stale schedules.
type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// AppConfig holds every environment-variable-driven setting spec.md §6.2
// enumerates, plus the database selection the teacher's main.go already
// handles (DBPath/DBURL).
type AppConfig struct {
	GlobalMaxConcurrentRequests int
	PerHostMaxConcurrent        int
	HistorySampleRate           float64
	DefaultPollSeconds          int64
	MaxPollSeconds              int64
	JitterFraction              float64
	UserAgent                   string
	Timezone                    string
	Mode                        Mode
	TickInterval                time.Duration
	DueBatchSize                int
	ProcessingConcurrency       int

	DBPath string // SQLite path, used when DBURL is empty
	DBURL  string // postgres://... or sqlite://...

	StatusAddr string
}

// Load reads AppConfig from the environment, applying spec.md §6.2's
// defaults. UserAgent has no default: it is required.
func Load() (AppConfig, error) {
	var errs []string

	cfg := AppConfig{
		GlobalMaxConcurrentRequests: envInt("FEEDSCHED_GLOBAL_MAX_CONCURRENT_REQUESTS", 64, &errs),
		PerHostMaxConcurrent:        envInt("FEEDSCHED_PER_HOST_MAX_CONCURRENT", 4, &errs),
		HistorySampleRate:           envFloat("FEEDSCHED_HISTORY_SAMPLE_RATE", 0.1, &errs),
		DefaultPollSeconds:          int64(envInt("FEEDSCHED_DEFAULT_POLL_SECONDS", 900, &errs)),
		MaxPollSeconds:              int64(envInt("FEEDSCHED_MAX_POLL_SECONDS", 86400, &errs)),
		JitterFraction:              envFloat("FEEDSCHED_JITTER_FRACTION", 0.2, &errs),
		UserAgent:                   envStr("FEEDSCHED_USER_AGENT", ""),
		Timezone:                    envStr("FEEDSCHED_TIMEZONE", "UTC"),
		Mode:                        Mode(envStr("FEEDSCHED_MODE", string(ModeProd))),
		TickInterval:                time.Duration(envInt("FEEDSCHED_TICK_INTERVAL_SECONDS", 5, &errs)) * time.Second,
		DueBatchSize:                envInt("FEEDSCHED_DUE_BATCH_SIZE", 1000, &errs),
		DBPath:                      envStr("FEEDSCHED_DB_PATH", "feedscheduler.db"),
		DBURL:                       envStr("FEEDSCHED_DB_URL", ""),
		StatusAddr:                  envStr("FEEDSCHED_STATUS_ADDR", ":8080"),
	}

	// The processing-slot pool (spec.md §4.4) is sized larger than the
	// HTTP admission semaphore by default, since decision/persistence
	// work doesn't consume a network slot; explicit env var wins.
	cfg.ProcessingConcurrency = envInt("FEEDSCHED_PROCESSING_CONCURRENCY", cfg.GlobalMaxConcurrentRequests*4, &errs)

	if cfg.UserAgent == "" {
		errs = append(errs, "FEEDSCHED_USER_AGENT must be set")
	}
	if cfg.Mode != ModeDev && cfg.Mode != ModeProd {
		errs = append(errs, fmt.Sprintf("FEEDSCHED_MODE: invalid value %q (want dev or prod)", cfg.Mode))
	}
	if cfg.HistorySampleRate < 0 || cfg.HistorySampleRate > 1 {
		errs = append(errs, fmt.Sprintf("FEEDSCHED_HISTORY_SAMPLE_RATE: must be in [0,1], got %v", cfg.HistorySampleRate))
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction > 1 {
		errs = append(errs, fmt.Sprintf("FEEDSCHED_JITTER_FRACTION: must be in [0,1], got %v", cfg.JitterFraction))
	}

	if len(errs) > 0 {
		return AppConfig{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid float %q", key, v))
		return defaultVal
	}
	return f
}
