package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordNodeExecution(t *testing.T) {
	before := testutil.ToFloat64(NodeExecutionsTotal.WithLabelValues("textNode", "success"))
	RecordNodeExecution("textNode", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(NodeExecutionsTotal.WithLabelValues("textNode", "success")))
}

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("full", "failed"))
	RecordRun("full", "failed", 1.5)
	assert.Equal(t, before+1, testutil.ToFloat64(RunsTotal.WithLabelValues("full", "failed")))
}

func TestRecordEventPublished(t *testing.T) {
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("x", "error"))
	RecordEventPublished("x", errors.New("down"))
	assert.Equal(t, before+1, testutil.ToFloat64(EventsPublished.WithLabelValues("x", "error")))
}
