package sim

import "errors"

var (
	// ErrInvalidStep indicates a non-positive or non-finite timestep.
	ErrInvalidStep = errors.New("sim: timestep must be positive and finite")

	// ErrInvalidTimeScale indicates a non-positive playback speed.
	ErrInvalidTimeScale = errors.New("sim: time scale must be positive")
)
