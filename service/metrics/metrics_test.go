package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.SetState("Connected", []string{"Disconnected", "Connecting", "Connected", "Errored"})
	c.IncReconnect()
	c.IncReconnect()
	c.IncFrame("PRIVATE")
	c.IncDecodeFailure("GROUP")
	c.IncPublishDropped("/app/private-chat")
	c.IncPublished("/app/group-chat")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.state.WithLabelValues("Connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.state.WithLabelValues("Errored")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.frames.WithLabelValues("PRIVATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decodeFailures.WithLabelValues("GROUP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("/app/private-chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.published.WithLabelValues("/app/group-chat")))
}

func TestDoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetState("Connected", []string{"Connected"})
		c.IncReconnect()
		c.IncFrame("x")
		c.IncDecodeFailure("x")
		c.IncPublishDropped("x")
		c.IncPublished("x")
	})
}
