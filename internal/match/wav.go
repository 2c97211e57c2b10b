package match

import (
	"errors"
	"fmt"
	"io"

	"tunetable/internal/audio"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV renders frame as a PCM WAV file in memory.
func EncodeWAV(frame audio.Frame, bitDepth int) ([]byte, error) {
	if frame.Channels() == 0 || frame.Len() == 0 {
		return nil, errors.New("empty frame")
	}
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	channels, n := frame.Channels(), frame.Len()
	scale := float32(int(1)<<(bitDepth-1) - 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: int(frame.SampleRate)},
		Data:           make([]int, n*channels),
		SourceBitDepth: bitDepth,
	}
	for ch, samples := range frame.Samples {
		for i := range n {
			buf.Data[i*channels+ch] = int(max(-1, min(samples[i], 1)) * scale)
		}
	}

	w := &memFile{}
	enc := wav.NewEncoder(w, int(frame.SampleRate), bitDepth, channels, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize frame: %w", err)
	}
	return w.buf, nil
}

// memFile is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch chunk sizes once the data length is known.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(pos)
	return pos, nil
}
