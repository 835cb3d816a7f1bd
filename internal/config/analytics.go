package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AnalyticsConfig tunes ingestion throughput and report defaults.
type AnalyticsConfig struct {
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Reports ReportsConfig `mapstructure:"reports"`
}

type IngestConfig struct {
	BatchSize      int   `mapstructure:"batchSize"`
	Workers        int   `mapstructure:"workers"`
	UpsertWorkers  int   `mapstructure:"upsertWorkers"`
	MaxUploadBytes int64 `mapstructure:"maxUploadBytes"`
}

type ReportsConfig struct {
	TopUsersLimit int `mapstructure:"topUsersLimit"`
}

func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		Ingest: IngestConfig{
			BatchSize:      100,
			Workers:        4,
			UpsertWorkers:  8,
			MaxUploadBytes: 50 << 20,
		},
		Reports: ReportsConfig{
			TopUsersLimit: 10,
		},
	}
}

type AnalyticsConfigHolder struct {
	current atomic.Value // holds AnalyticsConfig
}

// NewStaticAnalyticsConfigHolder returns a holder that never reloads.
func NewStaticAnalyticsConfigHolder(cfg AnalyticsConfig) *AnalyticsConfigHolder {
	holder := &AnalyticsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewAnalyticsConfigHolder() (*AnalyticsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("analytics")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tokenlens/config") // Volume-mounted config
	v.AddConfigPath("/etc/tokenlens")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("TOKENLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAnalyticsConfig()
	v.SetDefault("analytics.ingest.batchSize", defaults.Ingest.BatchSize)
	v.SetDefault("analytics.ingest.workers", defaults.Ingest.Workers)
	v.SetDefault("analytics.ingest.upsertWorkers", defaults.Ingest.UpsertWorkers)
	v.SetDefault("analytics.ingest.maxUploadBytes", defaults.Ingest.MaxUploadBytes)
	v.SetDefault("analytics.reports.topUsersLimit", defaults.Reports.TopUsersLimit)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg AnalyticsConfig
	if err := v.UnmarshalKey("analytics", &cfg); err != nil {
		return nil, err
	}
	if err := validateAnalyticsConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticAnalyticsConfigHolder(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AnalyticsConfig
		if err := v.UnmarshalKey("analytics", &updated); err != nil {
			log.Printf("[analytics-config] reload failed: %v", err)
			return
		}
		if err := validateAnalyticsConfig(updated); err != nil {
			log.Printf("[analytics-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[analytics-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *AnalyticsConfigHolder) Get() AnalyticsConfig {
	return h.current.Load().(AnalyticsConfig)
}

func validateAnalyticsConfig(cfg AnalyticsConfig) error {
	if cfg.Ingest.BatchSize <= 0 {
		return errors.New("analytics.ingest.batchSize must be positive")
	}
	if cfg.Ingest.Workers <= 0 {
		return errors.New("analytics.ingest.workers must be positive")
	}
	if cfg.Ingest.UpsertWorkers <= 0 {
		return errors.New("analytics.ingest.upsertWorkers must be positive")
	}
	if cfg.Ingest.MaxUploadBytes <= 0 {
		return errors.New("analytics.ingest.maxUploadBytes must be positive")
	}
	if cfg.Reports.TopUsersLimit <= 0 {
		return errors.New("analytics.reports.topUsersLimit must be positive")
	}
	return nil
}
