package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenantYAML = `
name: Acme Corp
confluence:
  base_url: https://acme.atlassian.net/wiki
  username: bot@acme.example
  api_token: secret-token
spaces:
  - key: PROD
    name: Product Docs
    enabled: true
index:
  strategy: simple
`

const samplePage = `# Deploy Guide

## Rollout

Deployments run through the rollout pipeline. Start a rollout with the
release command and watch the dashboard.

## Rollback

Trigger a rollback immediately if error rates spike after a rollout.
`

// runCLI executes the root command with isolated config and the given data dir.
func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dataDir, "xdg"))
	t.Setenv("CONFRAG_EMBEDDINGS_PROVIDER", "static")

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func writeTenantConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acme.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTenantYAML), 0o600))
	return path
}

func TestCLI_CreateStatusList(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTenantConfig(t)

	out, err := runCLI(t, dataDir, "create", "acme", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `tenant "acme" created`)
	assert.Contains(t, out, "Acme Corp")

	out, err = runCLI(t, dataDir, "status", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "never_built")
	assert.Contains(t, out, "never")

	out, err = runCLI(t, dataDir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "acme")
	assert.Contains(t, out, "never_built")
}

func TestCLI_CreateRejectsDuplicate(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTenantConfig(t)

	_, err := runCLI(t, dataDir, "create", "acme", cfgPath)
	require.NoError(t, err)

	_, err = runCLI(t, dataDir, "create", "acme", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCLI_StatusUnknownTenant(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "status", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCLI_IndexThenQuery(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTenantConfig(t)

	_, err := runCLI(t, dataDir, "create", "acme", cfgPath)
	require.NoError(t, err)

	// Simulate an export by writing pages directly.
	pagesDir := filepath.Join(dataDir, "tenants", "acme", "exports", "PROD")
	require.NoError(t, os.MkdirAll(pagesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pagesDir, "deploy.md"), []byte(samplePage), 0o644))

	out, err := runCLI(t, dataDir, "index", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "index built")

	out, err = runCLI(t, dataDir, "query", "acme", "how do I roll back a deployment?")
	require.NoError(t, err)
	assert.Contains(t, out, "Results for")
	assert.Contains(t, out, "Deploy Guide")
}

func TestCLI_IndexWithoutExports(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTenantConfig(t)

	_, err := runCLI(t, dataDir, "create", "acme", cfgPath)
	require.NoError(t, err)

	out, err := runCLI(t, dataDir, "index", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "no exported documents")
}

func TestCLI_QueryBeforeIndexFails(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTenantConfig(t)

	_, err := runCLI(t, dataDir, "create", "acme", cfgPath)
	require.NoError(t, err)

	out, err := runCLI(t, dataDir, "query", "acme", "anything")
	require.Error(t, err)
	assert.Contains(t, out, "no index")
}

func TestCLI_Doctor(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "data_dir")
	assert.Contains(t, out, "status: ready")
}

func TestCLI_HistoryEmpty(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTenantConfig(t)

	_, err := runCLI(t, dataDir, "create", "acme", cfgPath)
	require.NoError(t, err)

	out, err := runCLI(t, dataDir, "history", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "no exports recorded")
}
