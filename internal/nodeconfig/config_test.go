package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFileParsesAllFields(t *testing.T) {
	path := writeConfig(t, `{
		"log_level": "debug",
		"id": 42,
		"key": "secret",
		"bind": "0.0.0.0:443",
		"speedlimit": 1048576,
		"cache_dir": "/var/cache/hathnode",
		"data_dir": "/var/lib/hathnode",
		"max_cache_size": 107374182400
	}`)

	c, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.EqualValues(t, 42, c.ID)
	assert.Equal(t, "secret", c.Key)
	assert.Equal(t, "0.0.0.0:443", c.Bind)
	assert.EqualValues(t, 107374182400, c.MaxCacheSize)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"id": 1, "key": "k", "cache_dir": "/cache", "max_cache_size": 1024}`)

	c, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":443", c.Bind)
	assert.Equal(t, "info", c.LogLevel)
}

func TestLoadFromFileRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `{"id": 1}`)
	_, err := LoadFromFile(path)
	assert.Error(t, err, "expected error for missing key/cache_dir/max_cache_size")
}

func TestLoadFromFileRejectsMissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.json")
	assert.Error(t, err, "expected error for missing file")
}
