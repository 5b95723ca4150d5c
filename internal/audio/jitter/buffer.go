// Package jitter implements the per-connection playout buffer that sits
// between the network and the decoder. It reorders frames, gives up on
// frames that never arrive and seeds a fixed playout delay.
package jitter

import (
	"sync"

	"github.com/gammazero/deque"
)

const (
	// seqRollover is where 16-bit sequence numbers wrap back to zero.
	seqRollover = 1 << 16

	// missesBeforeReset consecutive empty reads mean the stream has
	// desynchronised and the buffer starts over.
	missesBeforeReset = 3

	DefaultBufferLength  = 3
	DefaultMaxOutOfOrder = 64
)

type State int

const (
	StateEmpty State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of buffer state and counters.
type Stats struct {
	State       State  `json:"state"`
	Expected    uint16 `json:"expected"`
	HasExpected bool   `json:"has_expected"`
	Queued      int    `json:"queued"`
	OutOfOrder  int    `json:"out_of_order"`
	Missed      int    `json:"missed"`
	Resets      uint64 `json:"resets"`
	Late        uint64 `json:"late"`
	Duplicates  uint64 `json:"duplicates"`
}

// Buffer is safe for concurrent use. Put is called from the receive path and
// Get from the mixing path.
type Buffer struct {
	mu sync.Mutex

	bufferLength  int
	maxOutOfOrder int
	onReset       func()

	// ready holds payloads in playout order; nil entries are the
	// placeholders that implement the playout delay.
	ready       deque.Deque[[]byte]
	outOfOrder  map[uint16][]byte
	expected    uint16
	hasExpected bool
	started     bool
	missed      int

	resets     uint64
	late       uint64
	duplicates uint64
}

type Option func(*Buffer)

// WithMaxOutOfOrder bounds how many early frames are held back.
func WithMaxOutOfOrder(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxOutOfOrder = n
		}
	}
}

// WithOnReset registers a callback run whenever the buffer resets itself.
// It is called with the buffer lock held and must not use the buffer.
func WithOnReset(fn func()) Option {
	return func(b *Buffer) {
		b.onReset = fn
	}
}

// New creates a buffer that delays playout by bufferLength frames.
func New(bufferLength int, opts ...Option) *Buffer {
	if bufferLength < 0 {
		bufferLength = 0
	}
	b := &Buffer{
		bufferLength:  bufferLength,
		maxOutOfOrder: DefaultMaxOutOfOrder,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.reset()
	return b
}

// Put accepts a frame from the network.
func (b *Buffer) Put(seq uint16, payload []byte) {
	if payload == nil {
		payload = []byte{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.started = true
	if !b.hasExpected {
		b.expected = seq
		b.hasExpected = true
	}

	if seq == b.expected {
		b.ready.PushBack(payload)
		b.expected++
		b.drainOutOfOrder()
		return
	}

	if Distance(seq, b.expected) < 0 {
		b.late++
		return
	}
	if _, exists := b.outOfOrder[seq]; exists {
		b.duplicates++
		return
	}
	if len(b.outOfOrder) >= b.maxOutOfOrder {
		b.late++
		return
	}
	b.outOfOrder[seq] = payload
}

// Get returns the next frame to play. ok is false when there is nothing to
// play: either the stream has not started, a playout-delay slot was consumed,
// or the expected frame is missing and the caller should conceal the loss.
func (b *Buffer) Get() (payload []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil, false
	}

	if b.ready.Len() > 0 {
		b.missed = 0
		payload = b.ready.PopFront()
		return payload, payload != nil
	}

	b.missed++
	b.expected++
	b.drainOutOfOrder()
	if b.missed >= missesBeforeReset {
		b.reset()
		b.resets++
		if b.onReset != nil {
			b.onReset()
		}
	}
	return nil, false
}

// Started reports whether a frame has been accepted since the last reset.
func (b *Buffer) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

func (b *Buffer) State() State {
	if b.Started() {
		return StateActive
	}
	return StateEmpty
}

func (b *Buffer) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := StateEmpty
	if b.started {
		state = StateActive
	}
	return Stats{
		State:       state,
		Expected:    b.expected,
		HasExpected: b.hasExpected,
		Queued:      b.ready.Len(),
		OutOfOrder:  len(b.outOfOrder),
		Missed:      b.missed,
		Resets:      b.resets,
		Late:        b.late,
		Duplicates:  b.duplicates,
	}
}

// drainOutOfOrder moves any contiguous run starting at the expected
// sequence number into the ready queue. Caller holds mu.
func (b *Buffer) drainOutOfOrder() {
	for {
		payload, ok := b.outOfOrder[b.expected]
		if !ok {
			return
		}
		delete(b.outOfOrder, b.expected)
		b.ready.PushBack(payload)
		b.expected++
	}
}

// reset returns the buffer to its pre-start state with the playout delay
// seeded. Caller holds mu, except from New.
func (b *Buffer) reset() {
	b.ready.Clear()
	for i := 0; i < b.bufferLength; i++ {
		b.ready.PushBack(nil)
	}
	b.outOfOrder = make(map[uint16][]byte)
	b.expected = 0
	b.hasExpected = false
	b.started = false
	b.missed = 0
}
