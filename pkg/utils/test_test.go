// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"testing"
)

func peak(buf []float32) float64 {
	var p float64
	for _, v := range buf {
		p = max(p, math.Abs(float64(v)))
	}
	return p
}

func TestGenerateSineWave(t *testing.T) {
	buf := GenerateSineWave(48000, 48000, 1000, 0.5)
	if len(buf) != 48000 {
		t.Fatalf("len = %d, want 48000", len(buf))
	}
	if buf[0] != 0 {
		t.Errorf("sine must start at zero, got %v", buf[0])
	}
	if p := peak(buf); math.Abs(p-0.5) > 1e-3 {
		t.Errorf("peak = %v, want 0.5", p)
	}
}

func TestGenerateComplexWave(t *testing.T) {
	buf := GenerateComplexWave(4096, 44100)
	if p := peak(buf); p > 0.9 || p < 0.5 {
		t.Errorf("peak = %v, want within (0.5, 0.9]", p)
	}
}

func TestGenerateNoiseDeterministic(t *testing.T) {
	a := GenerateNoise(1024, 0.25, 7)
	b := GenerateNoise(1024, 0.25, 7)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %v != %v", i, a[i], b[i])
		}
	}
	if p := peak(a); p > 0.25 {
		t.Errorf("peak = %v exceeds amplitude", p)
	}
}

func TestRecordingTransport(t *testing.T) {
	var rt RecordingTransport
	if rt.Last() != nil {
		t.Error("empty transport must have no last payload")
	}
	_ = rt.Send("a")
	_ = rt.Send(2)
	if got := rt.Sent(); len(got) != 2 || got[0] != "a" || got[1] != 2 {
		t.Errorf("Sent() = %v", got)
	}
	if rt.Last() != 2 {
		t.Errorf("Last() = %v, want 2", rt.Last())
	}
	_ = rt.Close()
	if !rt.Closed() {
		t.Error("Closed() = false after Close")
	}
}
