// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
)

// ErrNotBuilt is returned by Start when Setup has not built the graph.
var ErrNotBuilt = errors.New("capture graph is not built")

// InvalidInputError reports an input that cannot be captured, typically one
// with zero channels (e.g. the input disappeared while routed to AirPlay).
// The user can act on it by reconnecting the interface and retrying.
type InvalidInputError struct {
	Device   string
	Channels int
	Err      error // Underlying lookup failure, if any
}

func (e *InvalidInputError) Error() string {
	name := e.Device
	if name == "" {
		name = "default input"
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid input %q: %v", name, e.Err)
	}
	return fmt.Sprintf("invalid input %q: reports %d channels", name, e.Channels)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// EngineStartError reports a device that could not be opened or started,
// for example because microphone permission was denied. It is retryable.
type EngineStartError struct {
	Device string
	Err    error
}

func (e *EngineStartError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio engine failed to start: %v", e.Err)
	}
	return fmt.Sprintf("audio engine failed to start on %q: %v", e.Device, e.Err)
}

func (e *EngineStartError) Unwrap() error { return e.Err }
