package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FrameRouted("new_question")
	m.FrameRouted("new_question")
	m.FrameDropped()
	m.ReconnectScheduled()
	m.ConnectionState(2)
	m.Poll(nil)
	m.Poll(errors.New("down"))
	m.Write("submit_question", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesTotal.WithLabelValues("new_question")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writesTotal.WithLabelValues("submit_question", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameRouted("pong")
		m.FrameDropped()
		m.ReconnectScheduled()
		m.ConnectionState(1)
		m.Poll(nil)
		m.Write("x", nil)
	})
}
