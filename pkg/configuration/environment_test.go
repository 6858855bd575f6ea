package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_FallsBackToGoModRoot(t *testing.T) {
	tmp := t.TempDir()

	requireWriteFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test\n\ngo 1.22\n")
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "ETX_INGEST_TEST_ENV_LOAD=ok\n")

	sub := filepath.Join(tmp, "pkg", "tabular")
	requireMkdirAll(t, sub)

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(sub))

	_ = os.Unsetenv("ETX_INGEST_TEST_ENV_LOAD")
	t.Cleanup(func() { _ = os.Unsetenv("ETX_INGEST_TEST_ENV_LOAD") })

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("ETX_INGEST_TEST_ENV_LOAD"))
}

func TestLoad_Defaults(t *testing.T) {
	c := &Configuration{}
	t.Cleanup(c.Unload)

	err := c.load(nil, map[string]string{"LOG_PATH": filepath.Join(t.TempDir(), "etx.log")})
	require.NoError(t, err)

	assert.Equal(t, "ctx/v1", c.ETX.APIVersion)
	assert.Equal(t, "Asia/Bangkok", c.ETX.TimeZone)
	assert.Equal(t, 60*time.Second, c.ETX.ReplyTimeout)
	assert.Equal(t, 100000, c.Ingest.RowsPerFile)
	assert.Equal(t, 1, c.Ingest.ImportFilesPerBatch)
	assert.Equal(t, -1, c.Ingest.MaxRequests)
	assert.Equal(t, 1, c.Ingest.PublishMaxAttempts)
	assert.Equal(t, "orgFullName", c.Ingest.OrgColumn)
	assert.Equal(t, "emissionSourceName", c.Ingest.EntityColumn)
	require.NotNil(t, c.Logger())
}

func TestLoad_ConfigFileUnderEnvironment(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "etxbatch.json")
	requireWriteFile(t, cfgPath, `{
  "HTTPURI": "http://etx.local:8080",
  "WSURI": "ws://etx.local:8080",
  "email": "ops@example.com",
  "password": "secret",
  "ServerFileFolder": "/srv/etx/files",
  "RowsPerFile": 500,
  "ImportFilePerRequest": 3,
  "MaxRequests": 2
}`)

	c := &Configuration{}
	t.Cleanup(c.Unload)
	err := c.load(nil, map[string]string{
		"ETX_CONFIG_FILE":   cfgPath,
		"ETX_ROWS_PER_FILE": "250",
		"LOG_PATH":          filepath.Join(dir, "etx.log"),
	})
	require.NoError(t, err)

	assert.Equal(t, "http://etx.local:8080", c.ETX.HTTPURI)
	assert.Equal(t, "ws://etx.local:8080", c.ETX.WSURI)
	assert.Equal(t, "ops@example.com", c.ETX.Email)
	assert.Equal(t, "/srv/etx/files", c.ETX.ServerFolder)
	assert.Equal(t, 250, c.Ingest.RowsPerFile, "environment wins over the file")
	assert.Equal(t, 3, c.Ingest.ImportFilesPerBatch)
	assert.Equal(t, 2, c.Ingest.MaxRequests)
	require.NoError(t, c.RequireSession())
	require.Error(t, c.RequireDataAPI())
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"log level":    {"LOG_LEVEL": "loud"},
		"rows":         {"ETX_ROWS_PER_FILE": "0"},
		"timezone":     {"ETX_TIMEZONE": "Mars/Olympus"},
		"http uri":     {"ETX_HTTP_URI": "not a url"},
		"max attempts": {"ETX_PUBLISH_MAX_ATTEMPTS": "0"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			vars["LOG_PATH"] = ""
			c := &Configuration{}
			require.Error(t, c.load(nil, vars))
		})
	}
}

func TestReadConfigFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etx.yaml")
	requireWriteFile(t, path, "ETX_API_KEY: abc\nETX_DELETE_CHUNKS: true\nRowsPerFile: 10\n")

	vars, err := ReadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"ETX_API_KEY":       "abc",
		"ETX_DELETE_CHUNKS": "true",
		"ETX_ROWS_PER_FILE": "10",
	}, vars)
}

func TestReadConfigFile_RejectsNested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etx.yaml")
	requireWriteFile(t, path, "ETX_API_KEY:\n  nested: true\n")

	_, err := ReadConfigFile(path)
	require.Error(t, err)
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func requireMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}
