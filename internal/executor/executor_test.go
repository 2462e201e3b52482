package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/pkg/config"
	"github.com/weaveflow-go/pkg/logger"
)

func TestNewRegistry_AllNodeTypes(t *testing.T) {
	cfg := &config.Config{
		Model: config.ModelConfig{DefaultModel: "gemini-2.0-flash", RequestsPerSecond: 5, Burst: 5},
		Media: config.MediaConfig{Enabled: true, FFmpegPath: "ffmpeg"},
	}
	r, err := NewRegistry(cfg, logger.NewNop())
	require.NoError(t, err)

	for _, nt := range workflow.AllNodeTypes {
		assert.True(t, r.Has(nt), nt)
	}
	assert.Len(t, r.List(), len(workflow.AllNodeTypes))
}
