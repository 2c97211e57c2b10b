// SPDX-License-Identifier: MIT
package audio

import "time"

// InputInfo describes the current input device and its native format.
type InputInfo struct {
	Name   string
	Format Format
}

// StreamConfig describes the stream that connects the input to the graph's
// nodes.
type StreamConfig struct {
	Input           Format
	OutputChannels  int // 0 opens an input-only stream
	FramesPerBuffer int
}

// ProcessFunc runs on the real-time audio thread once per buffer. in and
// out are owned by the backend and reused after the call returns. captured
// is the stream time at which the first input sample was captured.
type ProcessFunc func(in, out [][]float32, captured time.Duration)

// Stream is an opened device stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Backend is the platform audio layer underneath the capture graph.
type Backend interface {
	// InputInfo reports the current input and its native format.
	InputInfo() (InputInfo, error)
	// OpenStream connects the input (and optionally an output) to process.
	OpenStream(cfg StreamConfig, process ProcessFunc) (Stream, error)
	// Reset returns the platform layer to a freshly initialized state, so
	// devices attached since the last reset become visible.
	Reset() error
}
