package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"rehearsal/internal/audio/mixer"
	"rehearsal/internal/infrastructure/repositories/memory"
	"rehearsal/internal/infrastructure/udp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPrometheusCollector_EngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordFrame(mixer.FrameKindDecoded)
	c.RecordFrame(mixer.FrameKindDecoded)
	c.RecordFrame(mixer.FrameKindConcealed)
	c.RecordCatchUp(3)
	c.RecordPacketSent(1926)
	c.RecordEviction(mixer.EvictionIdle)
	c.SetConnections(2)
	c.SetPlaying(true)
	c.ObserveTick(time.Millisecond, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.frames.WithLabelValues(mixer.FrameKindDecoded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.frames.WithLabelValues(mixer.FrameKindConcealed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.catchUps))
	assert.Equal(t, 1926.0, testutil.ToFloat64(c.bytesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evictions.WithLabelValues(mixer.EvictionIdle)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.playing))

	c.SetPlaying(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.playing))
}

func TestPrometheusCollector_ControlAndPlayback(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.RecordControlCommand("announce", "success")
	c.RecordPlayback("play", errors.New("no such track"))
	c.SetParticipants(4)
	c.RecordHTTPRequest("GET", "/api/v1/participants", 200, 3*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.controlCommands.WithLabelValues("announce", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.playbackOps.WithLabelValues("play", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.participants))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/api/v1/participants", "200")))
}

func TestPrometheusCollector_UDPStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	stats := udp.Stats{Received: 10, Malformed: 2, Rejected: 1, BytesIn: 640}
	c.RegisterUDPStats(func() udp.Stats { return stats })

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		if mf.GetMetric()[0].GetCounter() != nil {
			values[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 10.0, values["rehearsal_udp_datagrams_received_total"])
	assert.Equal(t, 2.0, values["rehearsal_udp_datagrams_malformed_total"])
	assert.Equal(t, 640.0, values["rehearsal_udp_bytes_received_total"])
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker(zaptest.NewLogger(t).Sugar())

	running := true
	h.AddEngineCheck(func() bool { return running }, 0)
	h.AddRepositoryCheck(memory.NewMemoryParticipantRepository(), 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.True(t, status.Healthy())
	assert.Equal(t, StatusHealthy, status.Checks["engine"])
	assert.Equal(t, StatusHealthy, status.Checks["repository"])

	running = false
	status = h.CheckAll(context.Background())
	assert.False(t, status.Healthy())
	assert.Equal(t, ErrEngineStopped.Error(), status.Checks["engine"])
	assert.False(t, h.LastStatus().Healthy())

	running = true
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_RunStopsWithContext(t *testing.T) {
	h := NewHealthChecker(zaptest.NewLogger(t).Sugar())

	calls := make(chan struct{}, 16)
	h.AddCheck("probe", func(context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	}, time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	<-calls
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

