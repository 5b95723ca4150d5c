package domain

import "errors"

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrParticipantExists   = errors.New("participant already joined")
	ErrTrackNotFound       = errors.New("track not found")
	ErrTakeNotFound        = errors.New("take not found")
	ErrUnsupportedFormat   = errors.New("unsupported audio format")
	ErrNothingPlaying      = errors.New("nothing is playing")
	ErrTableFull           = errors.New("connection table full")
)
