// Package codec converts call audio between the telephony wire format
// (8 kHz mono μ-law) and the room format (16 kHz mono 16-bit PCM).
//
// All functions are pure: inputs are never mutated and identical input
// always yields identical output.
package codec

import (
	"errors"
	"fmt"
)

const (
	TelephonyRate = 8000
	RoomRate      = 16000

	// MaxChannels is the widest interleaved layout EncodeOutbound accepts.
	MaxChannels = 2
)

var (
	ErrMalformed           = errors.New("malformed audio")
	ErrUnsupportedChannels = errors.New("unsupported channel count")
	ErrUnsupportedRate     = errors.New("unsupported sample rate")
)

// TelephonyFrame is one chunk of μ-law audio at 8 kHz mono.
type TelephonyFrame struct {
	StreamID string
	Payload  []byte
}

// RoomFrame is linear 16-bit PCM, interleaved when Channels > 1.
type RoomFrame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

func (f RoomFrame) SamplesPerChannel() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

func (f RoomFrame) validate() error {
	if f.Channels <= 0 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d", ErrUnsupportedChannels, f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedRate, f.SampleRate)
	}
	if len(f.Samples)%f.Channels != 0 {
		return fmt.Errorf("%w: %d samples for %d channels", ErrMalformed, len(f.Samples), f.Channels)
	}
	return nil
}

// FrameError marks a failure that only affects a single frame.
// Pipelines drop the frame and keep the call running.
type FrameError struct {
	Op  string
	Err error
}

func (e *FrameError) Error() string { return "codec " + e.Op + ": " + e.Err.Error() }

func (e *FrameError) Unwrap() error { return e.Err }

func frameErr(op string, err error) error {
	return &FrameError{Op: op, Err: err}
}

// IsFrameError reports whether err is (or wraps) a frame-level failure.
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}
