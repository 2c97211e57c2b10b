// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// recordBuffers is the number of buffers in flight between the audio
// thread and the writer goroutine.
const recordBuffers = 8

// Recorder writes the captured input to a WAV file. WriteFrame runs on the
// audio thread and never blocks: it interleaves into a free buffer and
// hands it to a writer goroutine. When the writer falls behind, buffers are
// dropped and counted.
type Recorder struct {
	bitDepth int

	mu      sync.Mutex
	session atomic.Pointer[recordSession]
}

type recordSession struct {
	file       *os.File
	encoder    *wav.Encoder
	channels   int
	sampleRate int
	bitDepth   int

	free   chan []float32
	filled chan []float32
	stop   chan struct{}
	done   chan struct{}

	dropped atomic.Uint64
	err     error // Written by the writer goroutine, read after done
}

// NewRecorder returns a recorder writing PCM at bitDepth (16 or 24).
func NewRecorder(bitDepth int) *Recorder {
	if bitDepth != 16 && bitDepth != 24 {
		bitDepth = 16
	}
	return &Recorder{bitDepth: bitDepth}
}

// Start creates filename and begins accepting frames in format.
func (r *Recorder) Start(filename string, format Format, framesPerBuffer int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.Load() != nil {
		return fmt.Errorf("already recording")
	}
	if format.Channels < 1 || format.SampleRate <= 0 {
		return fmt.Errorf("cannot record %d channels at %.0f Hz", format.Channels, format.SampleRate)
	}
	if framesPerBuffer <= 0 {
		return fmt.Errorf("frames per buffer must be positive")
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	s := &recordSession{
		file:       file,
		encoder:    wav.NewEncoder(file, int(format.SampleRate), r.bitDepth, format.Channels, 1),
		channels:   format.Channels,
		sampleRate: int(format.SampleRate),
		bitDepth:   r.bitDepth,
		free:       make(chan []float32, recordBuffers),
		filled:     make(chan []float32, recordBuffers),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for range recordBuffers {
		s.free <- make([]float32, framesPerBuffer*format.Channels)
	}

	go s.run(framesPerBuffer)
	r.session.Store(s)

	logger.Infof("recording to %s (%d-bit, %d channels)", filename, r.bitDepth, format.Channels)
	return nil
}

// WriteFrame queues one buffer of non-interleaved samples. Input channels
// beyond the recorded count are ignored; missing ones repeat the last.
func (r *Recorder) WriteFrame(in [][]float32) {
	s := r.session.Load()
	if s == nil || len(in) == 0 {
		return
	}

	var buf []float32
	select {
	case buf = <-s.free:
	default:
		s.dropped.Add(1)
		return
	}

	n := min(len(in[0]), cap(buf)/s.channels)
	buf = buf[:n*s.channels]
	for ch := range s.channels {
		src := in[min(ch, len(in)-1)]
		for i := range n {
			buf[i*s.channels+ch] = src[i]
		}
	}

	select {
	case s.filled <- buf:
	default:
		s.dropped.Add(1)
	}
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	return r.session.Load() != nil
}

// Stop flushes queued buffers, finalizes the WAV header and closes the
// file. It is a no-op when not recording.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session.Swap(nil)
	if s == nil {
		return nil
	}
	close(s.stop)
	<-s.done

	if n := s.dropped.Load(); n > 0 {
		logger.Warnf("recording dropped %d buffers", n)
	}

	var errs []error
	if s.err != nil {
		errs = append(errs, s.err)
	}
	if err := s.encoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to finalize recording: %w", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *recordSession) run(framesPerBuffer int) {
	defer close(s.done)

	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
		Data:           make([]int, framesPerBuffer*s.channels),
		SourceBitDepth: s.bitDepth,
	}
	scale := float32(int(1)<<(s.bitDepth-1) - 1)

	write := func(buf []float32) {
		ib.Data = ib.Data[:len(buf)]
		for i, v := range buf {
			ib.Data[i] = int(max(-1, min(v, 1)) * scale)
		}
		if err := s.encoder.Write(ib); err != nil && s.err == nil {
			s.err = fmt.Errorf("failed to write recording: %w", err)
		}
		s.free <- buf[:cap(buf)]
	}

	for {
		select {
		case buf := <-s.filled:
			write(buf)
		case <-s.stop:
			for {
				select {
				case buf := <-s.filled:
					write(buf)
				default:
					return
				}
			}
		}
	}
}
