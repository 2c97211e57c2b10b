// SPDX-License-Identifier: MIT
package audio

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"tunetable/internal/config"

	"github.com/gordonklaus/portaudio"
)

var fakeDevices = []*portaudio.DeviceInfo{
	{Index: 0, Name: "Built-in Microphone", MaxInputChannels: 1, DefaultSampleRate: 48000,
		DefaultLowInputLatency: 5 * time.Millisecond, DefaultHighInputLatency: 20 * time.Millisecond},
	{Index: 1, Name: "Built-in Output", MaxOutputChannels: 2, DefaultSampleRate: 48000},
	{Index: 2, Name: "USB Audio CODEC", MaxInputChannels: 2, MaxOutputChannels: 2, DefaultSampleRate: 44100},
}

// stubPortAudio replaces the device seams with fakeDevices for the test.
func stubPortAudio(t *testing.T) {
	t.Helper()
	origDevices := paLibDevicesFunc
	origIn := paLibDefaultInputDeviceFunc
	origOut := paLibDefaultOutputDeviceFunc
	t.Cleanup(func() {
		paLibDevicesFunc = origDevices
		paLibDefaultInputDeviceFunc = origIn
		paLibDefaultOutputDeviceFunc = origOut
	})
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return fakeDevices, nil }
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) { return fakeDevices[0], nil }
	paLibDefaultOutputDeviceFunc = func() (*portaudio.DeviceInfo, error) { return fakeDevices[1], nil }
}

func TestHostDevices(t *testing.T) {
	stubPortAudio(t)

	devices, err := HostDevices()
	if err != nil {
		t.Fatalf("HostDevices error: %v", err)
	}
	if len(devices) != len(fakeDevices) {
		t.Fatalf("got %d devices, want %d", len(devices), len(fakeDevices))
	}
	for i, d := range devices {
		if d.ID != i {
			t.Errorf("Device ID mismatch: got %d, want %d", d.ID, i)
		}
		if d.Name != fakeDevices[i].Name {
			t.Errorf("Device %d name = %q", i, d.Name)
		}
	}

	kinds := []string{"Input", "Output", "Input/Output"}
	for i, want := range kinds {
		if got := devices[i].Kind(); got != want {
			t.Errorf("Device %d kind = %q, want %q", i, got, want)
		}
	}
}

func TestHostDevices_paDevicesError(t *testing.T) {
	stubPortAudio(t)
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("mock error")
	}

	_, err := HostDevices()
	if err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestInputDevice(t *testing.T) {
	stubPortAudio(t)

	dev, err := InputDevice(config.MinDeviceID)
	if err != nil || dev.Name != "Built-in Microphone" {
		t.Errorf("default input = %v, %v", dev, err)
	}

	dev, err = InputDevice(2)
	if err != nil || dev.Name != "USB Audio CODEC" {
		t.Errorf("InputDevice(2) = %v, %v", dev, err)
	}

	for _, id := range []int{-2, len(fakeDevices)} {
		if _, err := InputDevice(id); err == nil || !strings.Contains(err.Error(), "invalid device ID") {
			t.Errorf("InputDevice(%d) error = %v", id, err)
		}
	}
}

func TestInputDevice_paDefaultInputDeviceError(t *testing.T) {
	stubPortAudio(t)
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("mock default input error")
	}

	_, err := InputDevice(config.MinDeviceID)
	if err == nil || !strings.Contains(err.Error(), "mock default input error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestOutputDevice(t *testing.T) {
	stubPortAudio(t)

	tests := []struct {
		name   string
		id     int
		want   string
		substr string
	}{
		{"Default", config.MinDeviceID, "Built-in Output", ""},
		{"Duplex", 2, "USB Audio CODEC", ""},
		{"Input only", 0, "", "does not support output"},
		{"Out of range", 9, "", "invalid device ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := OutputDevice(tt.id)
			if tt.substr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.substr) {
					t.Errorf("error = %v, want substring %q", err, tt.substr)
				}
				return
			}
			if err != nil || dev.Name != tt.want {
				t.Errorf("OutputDevice(%d) = %v, %v", tt.id, dev, err)
			}
		})
	}
}

func TestErrorInitialize(t *testing.T) {
	orig := paLibInitialize
	defer func() { paLibInitialize = orig }()

	paLibInitialize = func() error { return nil }
	if err := Initialize(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	paLibInitialize = func() error { return fmt.Errorf("mock init error") }
	if err := Initialize(); err == nil || !strings.Contains(err.Error(), "mock init error") {
		t.Errorf("expected mock init error, got %v", err)
	}
}

func TestErrorTerminate(t *testing.T) {
	orig := paLibTerminate
	defer func() { paLibTerminate = orig }()

	paLibTerminate = func() error { return nil }
	if err := Terminate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	paLibTerminate = func() error { return fmt.Errorf("mock term error") }
	if err := Terminate(); err == nil || !strings.Contains(err.Error(), "mock term error") {
		t.Errorf("expected mock term error, got %v", err)
	}
}

func TestNilDevices(t *testing.T) {
	stubPortAudio(t)
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, nil
	}

	devices, err := paDevices()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if devices == nil {
		t.Errorf("expected empty slice, got nil")
	}
}

func TestPortAudioBackend_InputInfo(t *testing.T) {
	stubPortAudio(t)

	b := NewPortAudioBackend(config.AudioConfig{InputDevice: 2, OutputDevice: config.MinDeviceID})
	info, err := b.InputInfo()
	if err != nil {
		t.Fatalf("InputInfo error: %v", err)
	}
	if info.Name != "USB Audio CODEC" || info.Format.Channels != 2 || info.Format.SampleRate != 44100 {
		t.Errorf("InputInfo = %+v", info)
	}
}

func TestPortAudioBackend_OpenStream(t *testing.T) {
	stubPortAudio(t)

	var got portaudio.StreamParameters
	orig := paLibOpenStream
	defer func() { paLibOpenStream = orig }()
	paLibOpenStream = func(p portaudio.StreamParameters, _ ProcessFunc) (Stream, error) {
		got = p
		return &fakeStream{}, nil
	}

	b := NewPortAudioBackend(config.AudioConfig{InputDevice: config.MinDeviceID, OutputDevice: 2, LowLatency: true})
	cfg := StreamConfig{Input: Format{SampleRate: 48000, Channels: 1}, OutputChannels: 4, FramesPerBuffer: 8192}
	if _, err := b.OpenStream(cfg, func(_, _ [][]float32, _ time.Duration) {}); err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}

	if got.Input.Device.Name != "Built-in Microphone" || got.Input.Channels != 1 {
		t.Errorf("input params = %+v", got.Input)
	}
	if got.Input.Latency != 5*time.Millisecond {
		t.Errorf("low latency not applied: %v", got.Input.Latency)
	}
	if got.Output.Channels != 2 {
		t.Errorf("output channels = %d, want clamp to 2", got.Output.Channels)
	}
	if got.SampleRate != 48000 || got.FramesPerBuffer != 8192 {
		t.Errorf("stream params = %+v", got)
	}

	// Input-only when pass-through is off.
	cfg.OutputChannels = 0
	if _, err := b.OpenStream(cfg, func(_, _ [][]float32, _ time.Duration) {}); err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}
	if got.Output.Device != nil {
		t.Errorf("expected no output device, got %v", got.Output.Device.Name)
	}
}

func TestPortAudioBackend_Reset(t *testing.T) {
	origInit, origTerm := paLibInitialize, paLibTerminate
	defer func() { paLibInitialize, paLibTerminate = origInit, origTerm }()

	var calls []string
	paLibTerminate = func() error { calls = append(calls, "terminate"); return nil }
	paLibInitialize = func() error { calls = append(calls, "initialize"); return fmt.Errorf("no host api") }

	err := NewPortAudioBackend(config.AudioConfig{}).Reset()
	if err == nil || !strings.Contains(err.Error(), "no host api") {
		t.Errorf("Reset error = %v", err)
	}
	if strings.Join(calls, ",") != "terminate,initialize" {
		t.Errorf("calls = %v", calls)
	}
}

func TestListDevices(t *testing.T) {
	stubPortAudio(t)

	var buf bytes.Buffer
	if err := ListDevices(&buf); err != nil {
		t.Fatalf("ListDevices error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"[0] Built-in Microphone (Input)", "[2] USB Audio CODEC (Input/Output)", "44100 Hz"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
