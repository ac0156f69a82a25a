package routes_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiefkemist/dur-exec-wf-ai/routes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := routes.DefaultConfig()
	assert.Equal(t, float64(60), cfg.ApprovalTimeoutMinutes)
	assert.Equal(t, routes.MaxPayloadLength, cfg.MaxPayloadLength)
}

func TestLoadConfigOverlaysOnlyProvidedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("approvalTimeoutMinutes: 15\n"), 0o644))

	cfg, err := routes.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, float64(15), cfg.ApprovalTimeoutMinutes)
	assert.Equal(t, routes.MaxPayloadLength, cfg.MaxPayloadLength, "fields absent from the overlay must keep the default")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := routes.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
