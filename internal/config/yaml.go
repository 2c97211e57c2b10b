// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	applog "tunetable/internal/log"
	"tunetable/pkg/bitint"

	"gopkg.in/yaml.v3"
)

var logger = applog.For("Config")

// LoadConfig loads configuration from the YAML file at path. An empty path
// searches the default locations and falls back to built-in defaults when
// none exists. Environment overrides are applied after the file, then the
// result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"tunetable.yaml", "config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		logger.Debugf("loaded %s", path)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	// Audio
	if c.Audio.InputDevice < MinDeviceID {
		return fmt.Errorf("audio.input_device must be >= %d", MinDeviceID)
	}
	if c.Audio.OutputDevice < MinDeviceID {
		return fmt.Errorf("audio.output_device must be >= %d", MinDeviceID)
	}
	if !bitint.IsPowerOfTwo(c.Audio.FramesPerBuffer) {
		return fmt.Errorf("audio.frames_per_buffer %d must be a power of two (try %d)",
			c.Audio.FramesPerBuffer, bitint.NextPowerOfTwo(c.Audio.FramesPerBuffer))
	}
	if c.Audio.FramesPerBuffer < MinBufferFrames || c.Audio.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("audio.frames_per_buffer must be within [%d, %d]", MinBufferFrames, MaxBufferFrames)
	}
	if c.Audio.PassThrough && (c.Audio.OutputChannels < 1 || c.Audio.OutputChannels > MaxChannels) {
		return fmt.Errorf("audio.output_channels must be within [1, %d] when pass_through is enabled", MaxChannels)
	}

	// Silence
	if c.Silence.Threshold <= 0 || c.Silence.Threshold > 1 {
		return fmt.Errorf("silence.threshold must be within (0, 1]")
	}
	if c.Silence.FloorDecibels >= 0 {
		return fmt.Errorf("silence.floor_decibels must be negative")
	}

	// Match
	if c.Match.Endpoint != "" {
		u, err := url.Parse(c.Match.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("match.endpoint %q is not an absolute URL", c.Match.Endpoint)
		}
	}
	if c.Match.ConfirmHits < 1 {
		return fmt.Errorf("match.confirm_hits must be >= 1")
	}
	if c.Match.ClearAfterMisses < 1 {
		return fmt.Errorf("match.clear_after_misses must be >= 1")
	}
	if c.Match.Cooldown < 0 || c.Match.Timeout < 0 {
		return fmt.Errorf("match.cooldown and match.timeout must not be negative")
	}
	if c.Match.MaxInFlight < 0 {
		return fmt.Errorf("match.max_in_flight must not be negative")
	}

	// Route
	if c.Route.Enabled && c.Route.PollInterval <= 0 {
		return fmt.Errorf("route.poll_interval must be positive when route watching is enabled")
	}

	// Publish
	if c.Publish.MQTTBroker != "" && c.Publish.MQTTTopic == "" {
		return fmt.Errorf("publish.mqtt_topic must be set when publish.mqtt_broker is set")
	}

	// Recording
	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 {
		return fmt.Errorf("recording.bit_depth must be 16 or 24")
	}

	return nil
}

// applyEnvOverrides applies ENV_* variables on top of the loaded values.
// Unparsable values are ignored.
func (c *Config) applyEnvOverrides() {
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		logger.Debugf("overriding log_level from env: %s", val)
	}

	// ENV_MATCH_{...}

	if val, ok := os.LookupEnv("ENV_MATCH_ENDPOINT"); ok {
		c.Match.Endpoint = val
		logger.Debugf("overriding match.endpoint from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_MATCH_API_KEY"); ok {
		c.Match.APIKey = val
	}
	if val, ok := os.LookupEnv("ENV_MATCH_COOLDOWN"); ok {
		if d, err := time.ParseDuration(val); err == nil {
			c.Match.Cooldown = d
			logger.Debugf("overriding match.cooldown from env: %s", d)
		}
	}
	if val, ok := os.LookupEnv("ENV_MATCH_MAX_IN_FLIGHT"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Match.MaxInFlight = n
			logger.Debugf("overriding match.max_in_flight from env: %d", n)
		}
	}

	// ENV_PUBLISH_{...}

	if val, ok := os.LookupEnv("ENV_PUBLISH_WEBSOCKET_ADDR"); ok {
		c.Publish.WebSocketAddr = val
		logger.Debugf("overriding publish.websocket_addr from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_PUBLISH_MQTT_BROKER"); ok {
		c.Publish.MQTTBroker = val
		logger.Debugf("overriding publish.mqtt_broker from env: %s", val)
	}

	// ENV_METRICS_LISTEN
	if val, ok := os.LookupEnv("ENV_METRICS_LISTEN"); ok {
		c.Metrics.Listen = val
	}

	// ENV_ROUTE_ENABLED
	if val, ok := os.LookupEnv("ENV_ROUTE_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Route.Enabled = b
		}
	}
}
