package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/models"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "agent.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestFileLoaderLoadsJSON(t *testing.T) {
	path := writeConfigFile(t, `{
		"delivery": {"server_url": "http://collector:5000", "batch_size": 10},
		"capture": {"binary": "/usr/bin/pcap2csv"},
		"poll_interval": "7s"
	}`)

	var cfg models.AgentConfig

	loader := &FileLoader{}
	require.NoError(t, loader.Load(context.Background(), path, &cfg))

	assert.Equal(t, "http://collector:5000", cfg.Delivery.ServerURL)
	assert.Equal(t, 10, cfg.Delivery.BatchSize)
	assert.Equal(t, 7*time.Second, cfg.PollInterval.Duration())
}

func TestFileLoaderMissingFile(t *testing.T) {
	var cfg models.AgentConfig

	loader := &FileLoader{}
	err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "absent.json"), &cfg)
	assert.Error(t, err)
}

func TestEnvOverlayWinsOverFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"delivery": {"server_url": "http://collector:5000"},
		"capture": {"binary": "/usr/bin/pcap2csv"}
	}`)

	t.Setenv("FLOWSENTRY_DELIVERY_SERVER_URL", "http://override:9000")
	t.Setenv("FLOWSENTRY_DELIVERY_BATCH_SIZE", "5")
	t.Setenv("FLOWSENTRY_POLL_INTERVAL", "30s")

	var cfg models.AgentConfig

	c := NewConfig(logger.NewTestLogger())
	require.NoError(t, c.Load(context.Background(), path, &cfg))

	assert.Equal(t, "http://override:9000", cfg.Delivery.ServerURL)
	assert.Equal(t, 5, cfg.Delivery.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.PollInterval.Duration())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, `{"delivery": {"server_url": ""}}`)

	var cfg models.AgentConfig

	c := NewConfig(logger.NewTestLogger())
	assert.Error(t, c.Load(context.Background(), path, &cfg))
}

func TestEnvLoaderRejectsNonPointer(t *testing.T) {
	loader := NewEnvLoader(logger.NewTestLogger(), EnvPrefix)

	var cfg models.AgentConfig

	assert.ErrorIs(t, loader.Load(context.Background(), "", cfg), ErrDstMustBeNonNilPointer)

	s := "not a struct"
	assert.ErrorIs(t, loader.Load(context.Background(), "", &s), ErrDstMustBePointerToStruct)
}
