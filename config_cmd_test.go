package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lofiland/lofiproxy/internal/offline"
)

func TestDefaultConfigMatchesDefaults(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(defaultConfig)))

	assert.Equal(t, offline.DefaultGeneration, v.GetString("generation"))
	assert.Equal(t, offline.DefaultMaxAudioEntries, v.GetInt("limits.audio_entries"))
	assert.Equal(t, offline.DefaultMaxResponseBytes, v.GetInt64("limits.max_response_bytes"))
	assert.Equal(t, "disk", v.GetString("store.driver"))
	assert.False(t, v.GetBool("watch"))
}

func TestEnsureConfigFile(t *testing.T) {
	old := configFile
	t.Cleanup(func() { configFile = old })

	configFile = filepath.Join(t.TempDir(), "nested", "lofiproxy.yml")
	require.NoError(t, ensureConfigFile())

	data, err := os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig, string(data))

	// An existing file is left alone
	require.NoError(t, os.WriteFile(configFile, []byte("listen: \":9000\"\n"), 0o600))
	require.NoError(t, ensureConfigFile())
	data, err = os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, "listen: \":9000\"\n", string(data))

	configFile = filepath.Join(t.TempDir(), "lofiproxy.toml")
	assert.Error(t, ensureConfigFile())
}

func TestEffectiveConfigRoundTrips(t *testing.T) {
	out, err := yaml.Marshal(settings{
		Listen:     ":8080",
		Generation: "lofiland-v2",
		Store:      storeSettings{Driver: "sqlite", Dir: "/tmp/lofi"},
		Limits:     limitSettings{AudioEntries: 40, MaxResponseBytes: 1024},
	})
	require.NoError(t, err)

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(string(out))))
	assert.Equal(t, "lofiland-v2", v.GetString("generation"))
	assert.Equal(t, "sqlite", v.GetString("store.driver"))
	assert.Equal(t, 40, v.GetInt("limits.audio_entries"))
}

func TestExpandPath(t *testing.T) {
	t.Setenv("LOFI_TEST_DIR", "/srv/lofi")
	assert.Equal(t, "/srv/lofi/cache", expandPath("$LOFI_TEST_DIR/cache"))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "cache"), expandPath("~/cache"))
}
