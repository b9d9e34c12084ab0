package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIni(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wlcored.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaultsForMissingKeys(t *testing.T) {
	path := writeIni(t, "[server]\nsocket = wayland-9\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wayland-9", cfg.SocketName)
	assert.Equal(t, Defaults().RingCapacity, cfg.RingCapacity)
	assert.Equal(t, Defaults().RangeSize, cfg.RangeSize)
	assert.Equal(t, Defaults().LowWatermark, cfg.LowWatermark)
}

func TestLoadOverridesEveryField(t *testing.T) {
	path := writeIni(t, `
[server]
socket = wayland-test
ring_capacity = 8192
range_size = 512
low_watermark = 32

[introspect]
addr = 127.0.0.1:9090
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wayland-test", cfg.SocketName)
	assert.Equal(t, 8192, cfg.RingCapacity)
	assert.Equal(t, uint32(512), cfg.RangeSize)
	assert.Equal(t, uint32(32), cfg.LowWatermark)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
}

func TestLoadRejectsEmptySocketName(t *testing.T) {
	path := writeIni(t, "[server]\nsocket =\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsWatermarkAtOrAboveRangeSize(t *testing.T) {
	path := writeIni(t, "[server]\nsocket = wayland-9\nrange_size = 64\nlow_watermark = 64\n")
	_, err := Load(path)
	assert.Error(t, err)
}
