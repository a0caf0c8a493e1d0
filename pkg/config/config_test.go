package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadShippedConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "QQQ", c.Account.Symbol)
	assert.Equal(t, "approval", c.Execution.Mode)
	assert.Equal(t, 10*time.Second, c.Execution.Timeout)
	assert.Equal(t, 3, c.Planner.RequiredCleanWeeks)
	assert.Equal(t, 144*time.Hour, c.Workflow.RecommendationTTL)
}

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("execution:\n  timeout: 5s\nmarket_data:\n  mode: mock\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.15, c.Risk.DrawdownThreshold)
	assert.Equal(t, 25.0, c.Planner.SpreadWidth)
	assert.Equal(t, "paper", c.Execution.Gateway)
	assert.Equal(t, []string{"log"}, c.Notifications.Backends)
	assert.Equal(t, "0 45 15 * * FRI", c.Scheduler.CycleSpec)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"missing gateway timeout":  "market_data:\n  mode: mock\n",
		"credit band inverted":     "execution:\n  timeout: 5s\nmarket_data:\n  mode: mock\nplanner:\n  credit_min: 0.8\n  credit_max: 0.6\n",
		"unknown mode":             "execution:\n  timeout: 5s\n  mode: yolo\nmarket_data:\n  mode: mock\n",
		"http gateway without url": "execution:\n  timeout: 5s\n  gateway: http\nmarket_data:\n  mode: mock\n",
		"http market without url":  "execution:\n  timeout: 5s\n",
		"queue journal on memory":  "execution:\n  timeout: 5s\nmarket_data:\n  mode: mock\nclickhouse:\n  via_queue: true\n",
		"kafka notify disabled":    "execution:\n  timeout: 5s\nmarket_data:\n  mode: mock\nnotifications:\n  backends: [kafka]\n",
		"bad holiday":              "execution:\n  timeout: 5s\nmarket_data:\n  mode: mock\ncalendar:\n  holidays: [\"07/04/2025\"]\n",
		"bad timezone":             "execution:\n  timeout: 5s\nmarket_data:\n  mode: mock\nscheduler:\n  timezone: Mars/Olympus\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution:\n  timeout: 5s\nmarket_data:\n  mode: mock\n"), 0o600))

	t.Setenv("REGIME_ACCOUNT_ID", "ira")
	t.Setenv("REGIME_EXECUTION_MODE", "direct")
	t.Setenv("REGIME_GATEWAY_TIMEOUT", "2s")
	t.Setenv("REGIME_ACCOUNT_LIMIT", "50000")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "ira", c.Account.ID)
	assert.Equal(t, "direct", c.Execution.Mode)
	assert.Equal(t, 2*time.Second, c.Execution.Timeout)
	assert.Equal(t, 50000.0, c.Account.Limit)
}

func TestDefaultSkipsValidation(t *testing.T) {
	c := Default()
	assert.Zero(t, c.Execution.Timeout)
	assert.Error(t, c.Validate())
}
