package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Candidates(t *testing.T) {
	manager := newTestManager(t, "", 1000)
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded := manager.candidates()
	require.NotEmpty(t, expanded)
	for _, candidate := range expanded {
		assert.True(t, filepath.IsAbs(candidate), candidate)
		assert.NotContains(t, candidate, "~", candidate)
	}
	assert.Contains(t, expanded[0], home)
}

func TestManager_Diagnose(t *testing.T) {
	entry := filepath.Join(t.TempDir(), "index.js")
	require.NoError(t, os.WriteFile(entry, []byte("// server"), 0o644))
	manager := newTestManager(t, entry, 1000)

	diagnosis := manager.Diagnose(context.Background())
	require.NotNil(t, diagnosis)
	assert.Equal(t, entry, diagnosis.ServerPath)
	// The node runtime may or may not be installed where the tests run;
	// either way the diagnosis explains itself.
	if diagnosis.NodeAvailable {
		assert.NotEmpty(t, diagnosis.NodeVersion)
	} else {
		assert.NotEmpty(t, diagnosis.Detail)
	}
}
