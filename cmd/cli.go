package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"tunetable/internal/config"
	"tunetable/pkg/build"

	"github.com/spf13/cobra"
)

// ParseArgs builds the configuration from the config file, environment and
// args, in increasing order of precedence. It returns a nil config when
// the invocation only printed help or the version.
func ParseArgs(args []string) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()

	var (
		configPath string
		options    *config.Config
		ran        bool

		deviceID, outputDeviceID, framesPerBuffer int
		lowLatency, noPassThrough                 bool
		endpoint                                  string
		record                                    bool
		outputFile                                string
		verbose, noTUI                            bool
	)

	// load applies the file and then only the flags the user set.
	load := func(cmd *cobra.Command) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("device") {
			cfg.Audio.InputDevice = deviceID
		}
		if flags.Changed("output-device") {
			cfg.Audio.OutputDevice = outputDeviceID
		}
		if flags.Changed("frames-per-buffer") {
			cfg.Audio.FramesPerBuffer = framesPerBuffer
		}
		if flags.Changed("low-latency") {
			cfg.Audio.LowLatency = lowLatency
		}
		if noPassThrough {
			cfg.Audio.PassThrough = false
		}
		if flags.Changed("endpoint") {
			cfg.Match.Endpoint = endpoint
		}
		if record {
			cfg.Recording.Enabled = true
		}
		if flags.Changed("output") {
			cfg.Recording.OutputFile = outputFile
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		if noTUI {
			cfg.TUI = false
		}

		if cfg.Recording.Enabled && cfg.Recording.OutputFile == "" {
			cfg.Recording.OutputFile = filepath.Join(cfg.Recording.OutputDir,
				"recording-"+time.Now().UTC().Format("02-01-2006-150405")+".wav")
		}

		// Flags may have broken what the file validated.
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		options = cfg
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ran = true
			return load(cmd)
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ran = true
			if err := load(cmd); err != nil {
				return err
			}
			options.Command = "list"
			return nil
		},
	}
	rootCmd.AddCommand(listCmd)

	flags := rootCmd.PersistentFlags()

	flags.StringVarP(&configPath, "config", "C", "",
		"Path to the YAML configuration file (default ./tunetable.yaml if present)")

	// Audio Device Configuration
	flags.IntVarP(&deviceID, "device", "d", config.DefaultInputDevice,
		"Input device ID, -1 for the system default. Use 'list' to see available devices.")
	flags.IntVar(&outputDeviceID, "output-device", config.DefaultOutputDevice,
		"Pass-through output device ID, -1 for the system default")
	flags.IntVarP(&framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"Samples per analysis frame, a power of two")
	flags.BoolVarP(&lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Request low latency device settings")
	flags.BoolVar(&noPassThrough, "no-pass-through", false,
		"Do not copy the input to the output device")

	// Match Configuration
	flags.StringVarP(&endpoint, "endpoint", "e", "",
		"Fingerprint service URL")

	// Recording Configuration
	flags.BoolVarP(&record, "record", "r", false,
		"Record the input to a WAV file")
	flags.StringVarP(&outputFile, "output", "o", "",
		"Recording file name. Default is recording-DD-MM-YYYY-HHMMSS.wav in the recording directory")

	// Debug Configuration
	flags.BoolVarP(&verbose, "verbose", "v", false,
		"Show verbose output")
	flags.BoolVar(&noTUI, "no-tui", false,
		"Log to the terminal instead of drawing the now-playing view")

	// Execute the CLI
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if !ran {
		return nil, nil
	}
	return options, nil
}
