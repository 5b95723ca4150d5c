package control

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frames are a 2-byte big-endian length followed by a JSON object.
const (
	lengthPrefixSize = 2
	MaxFrameSize     = 1<<16 - 1
)

var (
	ErrFrameTooLarge = errors.New("control frame too large")
	ErrEmptyFrame    = errors.New("empty control frame")
)

// ReadFrame reads one frame into buf, growing it when needed, and returns the
// JSON body. Frames longer than limit fail with ErrFrameTooLarge.
func ReadFrame(r io.Reader, buf []byte, limit int) ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	n := int(binary.BigEndian.Uint16(prefix[:]))
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if limit > 0 && n > limit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, n, limit)
	}

	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("truncated control frame: %w", err)
	}
	return buf, nil
}

// WriteFrame marshals v and writes it as one frame.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal control frame: %w", err)
	}
	return writeRaw(w, body)
}

func writeRaw(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint16(frame, uint16(len(body)))
	copy(frame[lengthPrefixSize:], body)
	_, err := w.Write(frame)
	return err
}
