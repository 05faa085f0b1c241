package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	for k, v := range map[string]string{
		"EVALUATOR_STRATEGY": StrategyRule,
		"PROJECT_ID":         "",
		"NOTIFY_CHANNEL":     ChannelNone,
		"DEFAULT_THRESHOLD":  "2000",
	} {
		if _, ok := env[k]; !ok {
			t.Setenv(k, v)
		}
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load(filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_ModelStrategyNeedsProject(t *testing.T) {
	_, err := load(t, map[string]string{"EVALUATOR_STRATEGY": "model"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROJECT_ID")

	cfg, err := load(t, map[string]string{"EVALUATOR_STRATEGY": "Model", "PROJECT_ID": "acme-invoices"})
	require.NoError(t, err)
	assert.Equal(t, StrategyModel, cfg.Evaluator.Strategy)
}

func TestLoad_Threshold(t *testing.T) {
	cfg, err := load(t, map[string]string{"DEFAULT_THRESHOLD": "0"})
	require.NoError(t, err)
	assert.True(t, cfg.Evaluator.DefaultThreshold.IsZero())

	_, err = load(t, map[string]string{"DEFAULT_THRESHOLD": "-1"})
	assert.Error(t, err)

	_, err = load(t, map[string]string{"DEFAULT_THRESHOLD": "lots"})
	assert.Error(t, err)
}

func TestLoad_UnknownChannel(t *testing.T) {
	_, err := load(t, map[string]string{"NOTIFY_CHANNEL": "pager"})
	assert.Error(t, err)

	_, err = load(t, map[string]string{"NOTIFY_CHANNEL": ChannelTeams})
	assert.Error(t, err, "teams without a webhook URL")
}
