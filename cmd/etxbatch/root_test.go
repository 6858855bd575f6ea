package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/etx-ingest/pkg/etx/etxtest"
)

const testUser = "u1"

// setupEnv points the configuration at srv and a fresh files root.
func setupEnv(t *testing.T, srv *etxtest.Server) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, testUser), 0o755))
	for k, v := range map[string]string{
		"ETX_HTTP_URI":               srv.HTTPURI(),
		"ETX_WS_URI":                 srv.WSURI(),
		"ETX_EMAIL":                  "ops@example.com",
		"ETX_PASSWORD":               "secret",
		"ETX_API_KEY":                "",
		"ETX_API_VERSION":            etxtest.APIVersion,
		"ETX_CONFIG_FILE":            "",
		"ETX_DEAD_LETTER_PATH":       "",
		"FILES_ROOT":                 root,
		"LOG_LEVEL":                  "error",
		"LOG_PATH":                   filepath.Join(t.TempDir(), "etxbatch.log"),
		"OTEL_ENABLED":               "false",
		"PROMETHEUS_PUSHGATEWAY_URL": "",
	} {
		t.Setenv(k, v)
	}
	return root
}

func run(t *testing.T, args ...string) (summary, error) {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	defer func() { stdout = prev }()

	cmd := newRootCmd()
	cmd.SetArgs(append(args, "--env-file="))
	err := cmd.ExecuteContext(context.Background())

	var s summary
	if buf.Len() > 0 {
		require.NoError(t, json.Unmarshal(buf.Bytes(), &s))
	}
	return s, err
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, testUser, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestAddTenant_ReportsOK(t *testing.T) {
	srv := etxtest.New(t)
	setupEnv(t, srv)

	s, err := run(t, "add-tenant", "Tenant C")
	require.NoError(t, err)
	assert.Equal(t, "add-tenant", s.Command)
	assert.Equal(t, statusOK, s.Status)
	assert.Len(t, srv.FramesFor("CreateTenantAccount"), 1)
}

func TestIngestFolder_MissingAPIKeyIsUsageError(t *testing.T) {
	srv := etxtest.New(t)
	setupEnv(t, srv)

	s, err := run(t, "ingest-folder", "--user", testUser, "jan")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
	assert.Equal(t, statusError, s.Status)
	assert.Contains(t, s.Error, "ETX_API_KEY")
	assert.Empty(t, srv.DataRequests())
}

func TestIngestFolder_PartialRun(t *testing.T) {
	srv := etxtest.New(t)
	root := setupEnv(t, srv)
	t.Setenv("ETX_API_KEY", "k")
	srv.SetCatalog(etxtest.Entity{ID: "b1", FullName: "Acme / Boiler1"})
	writeFile(t, root, "jan/a.csv", "orgFullName,emissionSourceName,v\nAcme,Boiler1,10\nAcme,Boiler2,20\n")

	s, err := run(t, "ingest-folder", "--user", testUser, "jan")
	require.NoError(t, err)
	assert.Equal(t, statusPartial, s.Status)
	require.NotNil(t, s.Counters)
	assert.Equal(t, 1, s.Counters.Success)
	assert.Equal(t, 1, s.Counters.Unresolved)

	_, err = run(t, "ingest-folder", "--user", testUser, "--strict", "jan")
	require.Error(t, err)
	assert.Equal(t, exitPartial, exitCode(err))
}

func TestIngestFile_MalformedIsValidationError(t *testing.T) {
	srv := etxtest.New(t)
	root := setupEnv(t, srv)
	writeFile(t, root, "bad.csv", "a,b\n1\n")

	s, err := run(t, "ingest-file", "--user", testUser, "bad.csv")
	require.Error(t, err)
	assert.Equal(t, exitValidation, exitCode(err))
	assert.Equal(t, statusError, s.Status)
	assert.Zero(t, srv.Logins())
}

func TestIngestFile_BadCredentialsIsAuthError(t *testing.T) {
	srv := etxtest.New(t)
	srv.Password = "other"
	root := setupEnv(t, srv)
	writeFile(t, root, "ok.csv", "a,b\n1,2\n")

	_, err := run(t, "ingest-file", "--user", testUser, "ok.csv")
	require.Error(t, err)
	assert.Equal(t, exitAuth, exitCode(err))
}

func TestRequiredUserFlag(t *testing.T) {
	srv := etxtest.New(t)
	setupEnv(t, srv)

	_, err := run(t, "import-chunked", "big.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"user"`)
}
