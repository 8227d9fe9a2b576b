package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess(t *testing.T) {
	// Default config
	config, err := Process([]string{})
	require.NoError(t, err)
	assert.Equal(t, 60, config.Server.TickRate)
	assert.Equal(t, uint64(30), config.Server.ResyncCadence)
	assert.Equal(t, 100*time.Millisecond, config.Client.InputThrottle.Std())
	assert.Equal(t, 30*time.Second, config.Server.ResumeWindow.Std())

	dir := t.TempDir()

	// yaml config
	{
		yaml := filepath.Join(dir, "config.yaml")
		err = os.WriteFile(yaml, []byte(`
server:
  address: ":1234"
  resumeWindow: 1m
`), 0644)
		require.NoError(t, err)
		config, err = Process([]string{yaml})
		require.NoError(t, err)
		assert.Equal(t, ":1234", config.Server.Address)
		assert.Equal(t, time.Minute, config.Server.ResumeWindow.Std())
		assert.Equal(t, 60, config.Server.TickRate, "unmentioned fields keep their defaults")
	}

	// json config
	{
		json := filepath.Join(dir, "config.json")
		err = os.WriteFile(json, []byte(`{
  "server": {
    "tickRate": 30
  }
}`), 0644)
		require.NoError(t, err)
		config, err = Process([]string{json})
		require.NoError(t, err)
		assert.Equal(t, 30, config.Server.TickRate)
		assert.Equal(t, time.Second/30, config.Server.TickInterval())
	}

	// multiple yaml
	{
		yaml1 := filepath.Join(dir, "config1.yaml")
		err = os.WriteFile(yaml1, []byte(`
client:
  snapThreshold: 100
`), 0644)
		require.NoError(t, err)

		yaml2 := filepath.Join(dir, "config2.yaml")
		err = os.WriteFile(yaml2, []byte(`
client:
  correctionDeadzone: 80
`), 0644)
		require.NoError(t, err)
		config, err = Process([]string{yaml1, yaml2})
		require.NoError(t, err)
		assert.Equal(t, 100.0, config.Client.SnapThreshold)
		assert.Equal(t, 80.0, config.Client.CorrectionDeadzone)

		// Applied alone, the deadzone crosses the default snap threshold.
		_, err = Process([]string{yaml2})
		assert.Error(t, err)
	}

	// Invalid config
	{
		unknown := filepath.Join(dir, "unknown.yaml")
		err = os.WriteFile(unknown, []byte("server:\n  tickrate: 5\n"), 0644)
		require.NoError(t, err)
		_, err = Process([]string{unknown})
		assert.Error(t, err)

		badDuration := filepath.Join(dir, "duration.yaml")
		err = os.WriteFile(badDuration, []byte("client:\n  connectTimeout: soon\n"), 0644)
		require.NoError(t, err)
		_, err = Process([]string{badDuration})
		assert.Error(t, err)

		_, err = Process([]string{filepath.Join(dir, "config.toml")})
		assert.Error(t, err)

		_, err = Process([]string{filepath.Join(dir, "missing.yaml")})
		assert.Error(t, err)
	}
}

func TestSchema(t *testing.T) {
	data, err := json.Marshal(Schema())
	require.NoError(t, err)
	assert.Contains(t, string(data), "resyncCadence")
	assert.Contains(t, string(data), "snapThreshold")
}
