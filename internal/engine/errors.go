// SPDX-License-Identifier: MIT
package engine

import (
	"errors"
	"fmt"
	"time"

	"tunetable/internal/audio"
	"tunetable/internal/route"
)

// RouteChangeRecoveryFailure reports that the restart after a route change
// failed. The user can retry.
type RouteChangeRecoveryFailure struct {
	Event route.Event
	Err   error
}

func (e *RouteChangeRecoveryFailure) Error() string {
	return fmt.Sprintf("recovery after %s failed: %v", e.Event, e.Err)
}

func (e *RouteChangeRecoveryFailure) Unwrap() error { return e.Err }

// Alert is a user-facing failure. Every alert the coordinator raises is
// retryable through Coordinator.Retry.
type Alert struct {
	Title     string
	Message   string
	Err       error
	Retryable bool
	Time      time.Time
}

// alertFor turns a restart failure into what the user sees.
func alertFor(err error) Alert {
	a := Alert{Err: err, Retryable: true, Time: time.Now()}

	var invalid *audio.InvalidInputError
	var start *audio.EngineStartError
	var recovery *RouteChangeRecoveryFailure
	switch {
	case errors.As(err, &invalid):
		a.Title = "Invalid Input"
		a.Message = "The audio input is not available. Reconnect your audio interface and try again."
	case errors.As(err, &start):
		a.Title = "Audio Engine Failed to Start"
		a.Message = "The audio device could not be started. Check that it is connected and not in use, then try again."
	default:
		a.Title = "Audio Error"
		a.Message = "Something went wrong with the audio input. Try again."
	}
	if errors.As(err, &recovery) {
		a.Title = "Audio Route Changed"
		a.Message = fmt.Sprintf("Listening could not resume after %s. %s", recovery.Event, a.Message)
	}
	return a
}
