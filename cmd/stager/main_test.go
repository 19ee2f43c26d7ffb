package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/stager/internal/models"
)

func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STAGER_LOG_LEVEL", "")
}

func TestLoadConfigFlagsWin(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "stager.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: mistral\nserver:\n  addr: \":9000\"\n"), 0644))

	cfg, err := loadConfig(Options{ConfigPath: path, Model: "llama3", Addr: ":7000", BaseURL: "http://ollama:11434"})
	require.NoError(t, err)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.BaseURL)
}

func TestLoadConfigInvalid(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "stager.yaml")
	require.NoError(t, os.WriteFile(path, []byte("limits:\n  max_units: 10\n  warning_threshold: 20\n"), 0644))

	_, err := loadConfig(Options{ConfigPath: path})
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestRunModes(t *testing.T) {
	isolateConfig(t)
	input := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(input, []byte(strings.Repeat("A sentence. ", 100)), 0644))

	for _, mode := range []string{"validate", "truncate", "chunk"} {
		t.Run(mode, func(t *testing.T) {
			assert.NoError(t, run(context.Background(), Options{Mode: mode, File: input}))
		})
	}

	assert.ErrorContains(t, run(context.Background(), Options{Mode: "chunk"}), "no input")
	assert.ErrorContains(t, run(context.Background(), Options{Mode: "dance"}), "unknown mode")
	assert.ErrorContains(t, run(context.Background(), Options{Mode: "search"}), "-query")
	assert.ErrorContains(t, run(context.Background(), Options{Mode: "ask"}), "ask needs -query")
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Title", displayName(models.Document{ID: "1", URL: "u", Title: "Title"}))
	assert.Equal(t, "u", displayName(models.Document{ID: "1", URL: "u"}))
	assert.Equal(t, "1", displayName(models.Document{ID: "1"}))
}
