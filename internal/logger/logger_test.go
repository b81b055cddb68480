package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Domenick1991/skyorder/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Level(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New(config.LogConfig{Level: "debug"}).GetLevel())
	assert.Equal(t, logrus.InfoLevel, New(config.LogConfig{Level: "loud"}).GetLevel())
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := New(config.LogConfig{Level: "info", File: path})

	log.WithField("reference", "BK-1").Info("booking created")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"reference":"BK-1"`)
	assert.Contains(t, string(data), `"msg":"booking created"`)
}

func TestTokenPrefix(t *testing.T) {
	assert.Equal(t, "***", TokenPrefix("abc"))
	assert.Equal(t, "abcdef***", TokenPrefix("abcdefghijkl"))
}
