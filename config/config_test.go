package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.toml")
	content := `
[engine]
week_start = "sunday"
analysis_timeout = "40s"

[trigger]
backend = "redis"
refresh_interval = "2h"
price_change_percent = 1.5

[feedback]
transport = "kafka"

[kafka]
brokers = ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, Load(path))

	c := Get()
	assert.Equal(t, time.Sunday, c.Engine.WeekStartDay())
	assert.Equal(t, 40*time.Second, c.Engine.AnalysisTimeout)
	assert.Equal(t, "redis", c.Trigger.Backend)
	assert.Equal(t, 2*time.Hour, c.Trigger.RefreshInterval)
	assert.Equal(t, 1.5, c.Trigger.PriceChangePercent)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)

	// 未覆盖的字段保留默认值
	assert.Equal(t, 3*time.Second, c.Position.MonitorInterval)
	assert.Equal(t, 24*time.Hour, c.Signal.DefaultExpiry)
	assert.Equal(t, "0 * * * * *", c.Engine.ClosureCron)
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine\nweek_start="), 0644))
	assert.Error(t, Load(path))
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.toml")))
}

func TestWeekStartFallback(t *testing.T) {
	assert.Equal(t, time.Monday, Engine{WeekStart: "someday"}.WeekStartDay())
	assert.Equal(t, time.Friday, Engine{WeekStart: "Friday"}.WeekStartDay())
}
