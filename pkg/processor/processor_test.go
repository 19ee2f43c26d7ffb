package processor_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/stager/internal/models"
	"github.com/xhad/stager/pkg/limits"
	"github.com/xhad/stager/pkg/processor"
)

func TestProcessor_Process(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		Limits: tightLimits(t, 20),
	})
	require.NoError(t, err)

	documents := []models.Document{
		{ID: "small", Content: "This is a test document."},
		{ID: "large", Content: "First   paragraph here.\r\n\r\nSecond paragraph is longer than the first one by far. It has two sentences."},
	}

	staged, err := p.Process(documents)
	require.NoError(t, err)
	require.Len(t, staged, 2)

	assert.True(t, staged[0].Validation.IsValid)
	require.Len(t, staged[0].Stages, 1)
	assert.Equal(t, "This is a test document.", staged[0].Stages[0].Content)

	assert.True(t, staged[1].Validation.ExceedsLimit)
	assert.False(t, staged[1].Truncated)
	assert.Greater(t, len(staged[1].Stages), 1)
	assert.Equal(t, "First paragraph here.", staged[1].Stages[0].Content)
}

func TestProcessor_Truncate(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		Limits:            tightLimits(t, 20),
		TruncateOversized: true,
	})
	require.NoError(t, err)

	staged, err := p.Process([]models.Document{
		{ID: "doc", Content: strings.Repeat("x", 30) + "\n\n" + strings.Repeat("y", 30) + "\n\n" + strings.Repeat("z", 30)},
	})
	require.NoError(t, err)
	require.Len(t, staged, 1)

	assert.True(t, staged[0].Truncated)
	assert.True(t, staged[0].Validation.ExceedsLimit)
	assert.NotContains(t, staged[0].Content, "z")
	assert.NotEmpty(t, staged[0].Stages)
}

func TestNewWithConfigDefaults(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{})
	require.NoError(t, err)
	assert.Equal(t, limits.Default(), p.Limits())

	_, err = processor.NewWithConfig(processor.ProcessorConfig{
		Limits: limits.Limits{MaxUnits: 10, MaxChars: 10, WarningThreshold: 50},
	})
	assert.ErrorIs(t, err, limits.ErrInvalidLimits)
}
