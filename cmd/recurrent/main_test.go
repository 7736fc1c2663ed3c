package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFileWithEmptyLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hidden_dim": 5, "log_level": ""}`), 0o644))

	root := newRootCmd()
	root.SetArgs([]string{"describe", "--config", path})
	require.NoError(t, root.Execute())

	assert.Equal(t, 5, cfg.HiddenDim)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
