package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestForRun_AttachesRunFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ForRun(NewFromZap(zap.New(core)), "run-1", "wf-1")

	log.Info("node dispatched", "nodeId", "n1")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "run-1", fields["runId"])
		assert.Equal(t, "wf-1", fields["workflowId"])
		assert.Equal(t, "n1", fields["nodeId"])
	}
}

func TestNew_FallsBackToInfoOnBadLevel(t *testing.T) {
	log := New(Config{Level: "nope", Format: "json", Output: "stdout"})
	assert.NotNil(t, log)
	assert.NotPanics(t, func() { log.Debug("dropped") })
}
