// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"tunetable/internal/config"

	"github.com/gordonklaus/portaudio"
)

// Seams over the PortAudio library, replaced in tests.
var (
	paLibInitialize              = portaudio.Initialize
	paLibTerminate               = portaudio.Terminate
	paLibDevicesFunc             = portaudio.Devices
	paLibDefaultInputDeviceFunc  = portaudio.DefaultInputDevice
	paLibDefaultOutputDeviceFunc = portaudio.DefaultOutputDevice
	paLibOpenStream              = openPortAudioStream
)

// Initialize sets up the PortAudio subsystem. It must be paired with Terminate.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate shuts down the PortAudio subsystem.
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// paDevices returns all PortAudio devices, never a nil slice on success.
func paDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := paLibDevicesFunc()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*portaudio.DeviceInfo{}
	}
	return devices, nil
}

// InputDevice returns the device for deviceID, or the system default input
// for config.MinDeviceID.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	devices, err := paDevices()
	if err != nil {
		return nil, err
	}
	if deviceID == config.MinDeviceID {
		return paLibDefaultInputDeviceFunc()
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	return devices[deviceID], nil
}

// OutputDevice returns the device for deviceID, or the system default output
// for config.MinDeviceID.
func OutputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	devices, err := paDevices()
	if err != nil {
		return nil, err
	}
	if deviceID == config.MinDeviceID {
		return paLibDefaultOutputDeviceFunc()
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	if devices[deviceID].MaxOutputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) does not support output", deviceID, devices[deviceID].Name)
	}
	return devices[deviceID], nil
}

// PortAudioBackend implements Backend on top of PortAudio. The input is
// opened at its native sample rate and channel count.
type PortAudioBackend struct {
	inputDevice  int
	outputDevice int
	lowLatency   bool
}

// NewPortAudioBackend returns a backend for the configured devices.
// Initialize must have been called.
func NewPortAudioBackend(cfg config.AudioConfig) *PortAudioBackend {
	return &PortAudioBackend{
		inputDevice:  cfg.InputDevice,
		outputDevice: cfg.OutputDevice,
		lowLatency:   cfg.LowLatency,
	}
}

// InputInfo reports the selected input and its native format.
func (b *PortAudioBackend) InputInfo() (InputInfo, error) {
	dev, err := InputDevice(b.inputDevice)
	if err != nil {
		return InputInfo{}, err
	}
	return InputInfo{
		Name: dev.Name,
		Format: Format{
			SampleRate: dev.DefaultSampleRate,
			Channels:   dev.MaxInputChannels,
		},
	}, nil
}

// OpenStream opens a duplex stream when cfg.OutputChannels > 0, otherwise
// an input-only stream.
func (b *PortAudioBackend) OpenStream(cfg StreamConfig, process ProcessFunc) (Stream, error) {
	in, err := InputDevice(b.inputDevice)
	if err != nil {
		return nil, err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   in,
			Channels: cfg.Input.Channels,
			Latency:  b.latency(in.DefaultLowInputLatency, in.DefaultHighInputLatency),
		},
		SampleRate:      cfg.Input.SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}

	if cfg.OutputChannels > 0 {
		out, err := OutputDevice(b.outputDevice)
		if err != nil {
			return nil, fmt.Errorf("pass-through output: %w", err)
		}
		channels := min(cfg.OutputChannels, out.MaxOutputChannels)
		params.Output = portaudio.StreamDeviceParameters{
			Device:   out,
			Channels: channels,
			Latency:  b.latency(out.DefaultLowOutputLatency, out.DefaultHighOutputLatency),
		}
	}

	return paLibOpenStream(params, process)
}

// Reset terminates and re-initializes PortAudio. PortAudio enumerates
// devices once per initialization, so this is what makes a newly attached
// interface visible. All streams must be closed first.
func (b *PortAudioBackend) Reset() error {
	var errs []error
	if err := Terminate(); err != nil {
		errs = append(errs, err)
	}
	if err := Initialize(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *PortAudioBackend) latency(low, high time.Duration) time.Duration {
	if b.lowLatency {
		return low
	}
	return high
}

func openPortAudioStream(params portaudio.StreamParameters, process ProcessFunc) (Stream, error) {
	var (
		stream *portaudio.Stream
		err    error
	)
	if params.Output.Channels > 0 {
		stream, err = portaudio.OpenStream(params, func(in, out [][]float32, ti portaudio.StreamCallbackTimeInfo, _ portaudio.StreamCallbackFlags) {
			process(in, out, ti.InputBufferAdcTime)
		})
	} else {
		stream, err = portaudio.OpenStream(params, func(in [][]float32, ti portaudio.StreamCallbackTimeInfo, _ portaudio.StreamCallbackFlags) {
			process(in, nil, ti.InputBufferAdcTime)
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return stream, nil
}

// ListDevices writes a human readable device table to w.
func ListDevices(w io.Writer) error {
	devices, err := HostDevices()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")
	for _, d := range devices {
		fmt.Fprintf(w, "[%d] %s (%s)\n", d.ID, d.Name, d.Kind())
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", d.MaxInputChannels, d.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n\n", d.DefaultSampleRate)
	}
	return nil
}
