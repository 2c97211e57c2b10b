package config

import "time"

// Defaults and limits for the capture and match engine.
const (
	// Audio
	DefaultInputDevice     = MinDeviceID // System default input
	DefaultOutputDevice    = MinDeviceID // System default output
	DefaultFramesPerBuffer = 8192        // Analysis tap length in samples
	DefaultOutputChannels  = 2           // Stereo pass-through
	DefaultPassThrough     = true        // Monitor the input on the output device
	DefaultLowLatency      = false

	// Silence gate
	DefaultSilenceThreshold = 0.6   // Normalized level below which a frame is silent
	DefaultFloorDecibels    = -80.0 // Level meter floor

	// Match policy
	DefaultConfirmHits      = 2 // Consecutive sightings before a new track is shown
	DefaultClearAfterMisses = 3 // Consecutive misses before the shown track is cleared
	DefaultCooldown         = 0 // No throttle after a confirmation
	DefaultMaxInFlight      = 0 // Unbounded concurrent match requests
	DefaultMatchTimeout     = 0 // No per-request timeout
	DefaultClearOnSilence   = true

	// Route watching
	DefaultRoutePollInterval = 2 * time.Second
	DefaultCardsPath         = "/proc/asound/cards"

	// Publishing
	DefaultWebSocketAddr = ":8080"
	DefaultMQTTTopic     = "tunetable/nowplaying"

	// Hardware and processing limits
	MinDeviceID     = -1 // -1 selects the system default device
	MinBufferFrames = 1024
	MaxBufferFrames = 65536
	MaxChannels     = 32
)

// Config is the complete runtime configuration, loaded from YAML and
// overridden by environment variables and command line flags.
type Config struct {
	LogLevel  string          `yaml:"log_level"`         // debug, info, warn, error
	Command   string          `yaml:"command,omitempty"` // One-off command instead of running the engine (e.g. "list")
	TUI       bool            `yaml:"tui"`               // Draw the terminal now-playing view
	Audio     AudioConfig     `yaml:"audio"`
	Silence   SilenceConfig   `yaml:"silence"`
	Match     MatchConfig     `yaml:"match"`
	Route     RouteConfig     `yaml:"route"`
	Publish   PublishConfig   `yaml:"publish"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Recording RecordingConfig `yaml:"recording"`
}

// AudioConfig selects devices and the capture buffer.
type AudioConfig struct {
	InputDevice     int  `yaml:"input_device"`      // PortAudio device index (-1 for default)
	OutputDevice    int  `yaml:"output_device"`     // PortAudio device index for pass-through (-1 for default)
	FramesPerBuffer int  `yaml:"frames_per_buffer"` // Samples per analysis frame, power of two
	OutputChannels  int  `yaml:"output_channels"`   // Pass-through channel count
	PassThrough     bool `yaml:"pass_through"`      // Copy input to the output device
	LowLatency      bool `yaml:"low_latency"`       // Request low latency device settings
}

// SilenceConfig tunes the level meter and gate.
type SilenceConfig struct {
	Threshold     float64 `yaml:"threshold"`      // Normalized level, 0..1
	FloorDecibels float64 `yaml:"floor_decibels"` // Level meter floor, negative dBFS
}

// MatchConfig configures the fingerprint service client and the debounce policy.
type MatchConfig struct {
	Endpoint         string        `yaml:"endpoint"`           // Fingerprint service URL
	APIKey           string        `yaml:"api_key"`            // Sent as a bearer token when set
	Timeout          time.Duration `yaml:"timeout"`            // Per-request timeout, 0 for none
	ConfirmHits      int           `yaml:"confirm_hits"`       // Sightings needed before a track is shown
	ClearAfterMisses int           `yaml:"clear_after_misses"` // Misses needed before the track is cleared
	Cooldown         time.Duration `yaml:"cooldown"`           // Pause dispatching after a confirmation, 0 to disable
	MaxInFlight      int           `yaml:"max_in_flight"`      // Concurrent requests, 0 for unbounded
	ClearOnSilence   bool          `yaml:"clear_on_silence"`   // Clear the shown track when the input goes quiet
}

// RouteConfig configures route change detection.
type RouteConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	CardsPath    string        `yaml:"cards_path"` // ALSA card list used to detect device changes
}

// PublishConfig configures the now-playing sinks.
type PublishConfig struct {
	WebSocketAddr string `yaml:"websocket_addr"` // UI state server, empty to disable
	MQTTBroker    string `yaml:"mqtt_broker"`    // e.g. tcp://localhost:1883, empty to disable
	MQTTTopic     string `yaml:"mqtt_topic"`
	MQTTClientID  string `yaml:"mqtt_client_id"`
	MQTTUsername  string `yaml:"mqtt_username"`
	MQTTPassword  string `yaml:"mqtt_password"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. :9102, empty to disable
}

// RecordingConfig configures optional WAV capture of the input.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"` // Empty derives a timestamped name in OutputDir
	OutputDir  string `yaml:"output_dir"`
	BitDepth   int    `yaml:"bit_depth"` // 16 or 24
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		TUI:      true,
		Audio: AudioConfig{
			InputDevice:     DefaultInputDevice,
			OutputDevice:    DefaultOutputDevice,
			FramesPerBuffer: DefaultFramesPerBuffer,
			OutputChannels:  DefaultOutputChannels,
			PassThrough:     DefaultPassThrough,
			LowLatency:      DefaultLowLatency,
		},
		Silence: SilenceConfig{
			Threshold:     DefaultSilenceThreshold,
			FloorDecibels: DefaultFloorDecibels,
		},
		Match: MatchConfig{
			Timeout:          DefaultMatchTimeout,
			ConfirmHits:      DefaultConfirmHits,
			ClearAfterMisses: DefaultClearAfterMisses,
			Cooldown:         DefaultCooldown,
			MaxInFlight:      DefaultMaxInFlight,
			ClearOnSilence:   DefaultClearOnSilence,
		},
		Route: RouteConfig{
			Enabled:      true,
			PollInterval: DefaultRoutePollInterval,
			CardsPath:    DefaultCardsPath,
		},
		Publish: PublishConfig{
			WebSocketAddr: DefaultWebSocketAddr,
			MQTTTopic:     DefaultMQTTTopic,
			MQTTClientID:  "tunetable",
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
			BitDepth:  16,
		},
	}
}
