package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.InDelta(t, 0.50, cfg.Scoring.AskAgentThreshold, 1e-9)
	assert.Equal(t, 0, cfg.Canary.Percentage)
	assert.False(t, cfg.Canary.Shadow)
	assert.Equal(t, 5*time.Second, cfg.Feedback.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Model.CacheTTL)
	assert.Equal(t, 3, cfg.Promotion.MaxAttempts)
	assert.Empty(t, cfg.Model.Endpoint)
	assert.NotContains(t, cfg.Database.Path, "$XDG_DATA_HOME")
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  path: ` + filepath.Join(dir, "spice.db") + `
scoring:
  ask_agent_threshold: 0.6
canary:
  percentage: 10
  shadow: true
model:
  endpoint: http://localhost:9000/predict
  timeout: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "spice.db"), cfg.Database.Path)
	assert.InDelta(t, 0.6, cfg.Scoring.AskAgentThreshold, 1e-9)
	assert.Equal(t, 10, cfg.Canary.Percentage)
	assert.True(t, cfg.Canary.Shadow)
	assert.Equal(t, "http://localhost:9000/predict", cfg.Model.Endpoint)
	assert.Equal(t, 2*time.Second, cfg.Model.Timeout)
}

func TestLoad_RejectsOutOfRange(t *testing.T) {
	v := viper.New()
	v.Set("canary.percentage", 150)
	_, err := Load(v)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	v = viper.New()
	v.Set("scoring.ask_agent_threshold", 1.5)
	_, err = Load(v)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, filepath.Join(home, "spice.db"), ExpandPath("~/spice.db"))
	assert.Equal(t, home, ExpandPath("~"))

	t.Setenv("SPICE_TEST_DIR", "/tmp/spice")
	assert.Equal(t, "/tmp/spice/db", ExpandPath("$SPICE_TEST_DIR/db"))
}

func TestExpandPath_XDGDataHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("XDG_DATA_HOME", "")
	assert.Equal(t, filepath.Join(home, ".local", "share", "spice", "spice.db"), ExpandPath(DefaultDatabasePath))

	t.Setenv("XDG_DATA_HOME", "/srv/data")
	assert.Equal(t, "/srv/data/spice/spice.db", ExpandPath(DefaultDatabasePath))

	t.Setenv("SPICE_UNSET_FOR_TEST", "")
	assert.Equal(t, "/x", ExpandPath("$SPICE_UNSET_FOR_TEST/x"))
}
