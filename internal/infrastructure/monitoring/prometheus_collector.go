package monitoring

import (
	"strconv"
	"time"

	"rehearsal/internal/audio/mixer"
	"rehearsal/internal/infrastructure/udp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rehearsal"

type PrometheusCollector struct {
	factory promauto.Factory

	// Engine
	tickDuration  prometheus.Histogram
	catchUps      prometheus.Counter
	catchUpFrames prometheus.Histogram
	frames        *prometheus.CounterVec
	packetsSent   prometheus.Counter
	bytesSent     prometheus.Counter
	sendErrors    prometheus.Counter
	codecErrors   prometheus.Counter
	jitterResets  prometheus.Counter
	evictions     *prometheus.CounterVec
	connections   prometheus.Gauge
	playing       prometheus.Gauge

	// Control plane and rooms
	participants    prometheus.Gauge
	controlCommands *prometheus.CounterVec
	playbackOps     *prometheus.CounterVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers every metric on reg. Tests pass a fresh
// prometheus.NewRegistry(); the binary passes prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	f := promauto.With(reg)
	return &PrometheusCollector{
		factory: f,

		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent processing one scheduler tick",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05},
		}),
		catchUps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catch_ups_total",
			Help:      "Ticks that processed more or fewer than one period",
		}),
		catchUpFrames: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catch_up_frames",
			Help:      "Periods processed by a catch-up tick",
			Buckets:   []float64{2, 3, 5, 10, 25, 50},
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames pulled from jitter buffers by outcome",
		}, []string{"kind"}),
		packetsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mix_packets_sent_total",
			Help:      "Mix datagrams handed to the socket",
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mix_bytes_sent_total",
			Help:      "Mix datagram bytes handed to the socket",
		}),
		sendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Mix datagrams the socket refused",
		}),
		codecErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codec_errors_total",
			Help:      "Encode or decode failures",
		}),
		jitterResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jitter_resets_total",
			Help:      "Jitter buffers reset after consecutive misses",
		}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Connections removed from the table",
		}, []string{"reason"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Connections in the table",
		}),
		playing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backing_track_playing",
			Help:      "1 while a backing track is mixed in",
		}),

		participants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Participants announced on the control plane",
		}),
		controlCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_commands_total",
			Help:      "Control-plane commands handled",
		}, []string{"command", "result"}),
		playbackOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_operations_total",
			Help:      "Room-wide play, stop and record requests",
		}, []string{"operation", "result"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (p *PrometheusCollector) ObserveTick(duration time.Duration, frames int) {
	p.tickDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordCatchUp(frames int) {
	p.catchUps.Inc()
	p.catchUpFrames.Observe(float64(frames))
}

func (p *PrometheusCollector) RecordFrame(kind string) {
	p.frames.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordPacketSent(bytes int) {
	p.packetsSent.Inc()
	p.bytesSent.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordSendError()   { p.sendErrors.Inc() }
func (p *PrometheusCollector) RecordCodecError()  { p.codecErrors.Inc() }
func (p *PrometheusCollector) RecordJitterReset() { p.jitterResets.Inc() }

func (p *PrometheusCollector) RecordEviction(reason string) {
	p.evictions.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) SetConnections(n int) {
	p.connections.Set(float64(n))
}

func (p *PrometheusCollector) SetPlaying(playing bool) {
	if playing {
		p.playing.Set(1)
		return
	}
	p.playing.Set(0)
}

func (p *PrometheusCollector) SetParticipants(n int) {
	p.participants.Set(float64(n))
}

func (p *PrometheusCollector) RecordControlCommand(command, result string) {
	p.controlCommands.WithLabelValues(command, result).Inc()
}

func (p *PrometheusCollector) RecordPlayback(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	p.playbackOps.WithLabelValues(operation, result).Inc()
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RegisterUDPStats exports the socket counters, read from stats on scrape.
func (p *PrometheusCollector) RegisterUDPStats(stats func() udp.Stats) {
	counters := []struct {
		name, help string
		value      func(udp.Stats) uint64
	}{
		{"udp_datagrams_received_total", "Datagrams read from the audio socket", func(s udp.Stats) uint64 { return s.Received }},
		{"udp_datagrams_malformed_total", "Datagrams shorter than the packet header", func(s udp.Stats) uint64 { return s.Malformed }},
		{"udp_datagrams_rejected_total", "Datagrams refused by the connection table", func(s udp.Stats) uint64 { return s.Rejected }},
		{"udp_bytes_received_total", "Bytes read from the audio socket", func(s udp.Stats) uint64 { return s.BytesIn }},
	}
	for _, c := range counters {
		value := c.value
		p.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(value(stats())) })
	}
}

var _ mixer.Metrics = (*PrometheusCollector)(nil)
