package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAnalyticsConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AnalyticsConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*AnalyticsConfig) {}},
		{name: "zero batch", mutate: func(c *AnalyticsConfig) { c.Ingest.BatchSize = 0 }, wantErr: true},
		{name: "zero workers", mutate: func(c *AnalyticsConfig) { c.Ingest.Workers = 0 }, wantErr: true},
		{name: "negative upsert workers", mutate: func(c *AnalyticsConfig) { c.Ingest.UpsertWorkers = -1 }, wantErr: true},
		{name: "zero upload limit", mutate: func(c *AnalyticsConfig) { c.Ingest.MaxUploadBytes = 0 }, wantErr: true},
		{name: "zero top users", mutate: func(c *AnalyticsConfig) { c.Reports.TopUsersLimit = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAnalyticsConfig()
			tt.mutate(&cfg)
			err := validateAnalyticsConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewAnalyticsConfigHolderFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewAnalyticsConfigHolder()
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	assert.Equal(t, DefaultAnalyticsConfig(), holder.Get())
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("TOKENLENS_TEST_TIMEOUT", "750ms")
	assert.Equal(t, "750ms", getenvDuration("TOKENLENS_TEST_TIMEOUT", 0).String())

	t.Setenv("TOKENLENS_TEST_TIMEOUT", "1200")
	assert.Equal(t, "1.2s", getenvDuration("TOKENLENS_TEST_TIMEOUT", 0).String())

	t.Setenv("TOKENLENS_TEST_TIMEOUT", "nope")
	assert.Equal(t, "5s", getenvDuration("TOKENLENS_TEST_TIMEOUT", 5_000_000_000).String())
}
