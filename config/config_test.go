package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Len(t, cfg.Net.Addresses, 2)
	assert.False(t, cfg.Offer.PublishStatistics)
	assert.Empty(t, cfg.Offer.IgnoreTraders)
	assert.Equal(t, 90, cfg.Price.IntervalSeconds)
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.json")

	cfg := NewDefaultConfig()
	cfg.Identity.Name = "node-1"
	cfg.Offer.PublishStatistics = true
	cfg.Offer.ArbitratorAddresses = []string{"/ip4/1.2.3.4/tcp/7802/p2p/arb"}
	cfg.Net.Bootstrap = []string{"/ip4/4.3.2.1/tcp/7802/p2p/boot"}

	require.NoError(t, cfg.WriteFile(file))

	got, err := ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestReadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.json")

	// a partial config keeps defaults for the absent sections
	require.NoError(t, os.WriteFile(file, []byte(`{"identity":{"name":"n"}}`), 0644))

	got, err := ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "n", got.Identity.Name)
	assert.Len(t, got.Net.Addresses, 2)
	assert.Equal(t, 90, got.Price.IntervalSeconds)
}

func TestReadMissingFile(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
