// SPDX-License-Identifier: MIT
package audio

import "time"

// Format describes a stream of non-interleaved float PCM.
type Format struct {
	SampleRate float64
	Channels   int
}

// Frame is a view over one buffer of non-interleaved PCM samples. Frames
// handed to the capture callback alias buffers owned by the audio backend
// and are only valid for the duration of the call; use Clone to keep one.
type Frame struct {
	Samples    [][]float32   // One slice per channel
	SampleRate float64       // Hz
	Time       time.Duration // Monotonic capture time of the first sample
}

// Channels returns the channel count.
func (f Frame) Channels() int {
	return len(f.Samples)
}

// Len returns the number of samples per channel.
func (f Frame) Len() int {
	if len(f.Samples) == 0 {
		return 0
	}
	return len(f.Samples[0])
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(f.Len()) / f.SampleRate * float64(time.Second))
}

// Clone returns a deep copy backed by a single allocation.
func (f Frame) Clone() Frame {
	n := f.Len()
	backing := make([]float32, n*len(f.Samples))
	samples := make([][]float32, len(f.Samples))
	for ch, src := range f.Samples {
		samples[ch] = backing[ch*n : (ch+1)*n : (ch+1)*n]
		copy(samples[ch], src)
	}
	return Frame{Samples: samples, SampleRate: f.SampleRate, Time: f.Time}
}

// MixDown averages all channels of in into dst and returns dst resized to
// the input length. dst is reused when large enough, so the call does not
// allocate on the real-time path once dst has been sized.
func MixDown(dst []float32, in [][]float32) []float32 {
	if len(in) == 0 {
		return dst[:0]
	}
	n := len(in[0])
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]

	if len(in) == 1 {
		copy(dst, in[0])
		return dst
	}

	scale := 1 / float32(len(in))
	for i := range dst {
		var sum float32
		for _, ch := range in {
			if i < len(ch) {
				sum += ch[i]
			}
		}
		dst[i] = sum * scale
	}
	return dst
}
