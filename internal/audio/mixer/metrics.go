package mixer

import "time"

// Metrics receives engine observations. The prometheus collector implements
// it; the zero configuration uses a no-op.
type Metrics interface {
	ObserveTick(duration time.Duration, frames int)
	RecordCatchUp(frames int)
	RecordFrame(kind string)
	RecordPacketSent(bytes int)
	RecordSendError()
	RecordCodecError()
	RecordJitterReset()
	RecordEviction(reason string)
	SetConnections(n int)
	SetPlaying(playing bool)
}

const (
	FrameKindDecoded   = "decoded"
	FrameKindConcealed = "concealed"
	FrameKindSilent    = "silent"

	EvictionIdle       = "idle"
	EvictionDeregister = "deregister"
)

func (k frameKind) String() string {
	switch k {
	case frameDecoded:
		return FrameKindDecoded
	case frameConcealed:
		return FrameKindConcealed
	default:
		return FrameKindSilent
	}
}

type noopMetrics struct{}

func (noopMetrics) ObserveTick(time.Duration, int) {}
func (noopMetrics) RecordCatchUp(int)              {}
func (noopMetrics) RecordFrame(string)             {}
func (noopMetrics) RecordPacketSent(int)           {}
func (noopMetrics) RecordSendError()               {}
func (noopMetrics) RecordCodecError()              {}
func (noopMetrics) RecordJitterReset()             {}
func (noopMetrics) RecordEviction(string)          {}
func (noopMetrics) SetConnections(int)             {}
func (noopMetrics) SetPlaying(bool)                {}
