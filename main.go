package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"tunetable/cmd"
	"tunetable/internal/audio"
	"tunetable/internal/config"
	"tunetable/internal/engine"
	applog "tunetable/internal/log"
	"tunetable/internal/match"
	"tunetable/internal/metrics"
	"tunetable/internal/nowplaying"
	"tunetable/internal/route"
	"tunetable/internal/transport"
	"tunetable/internal/tui"
	"tunetable/pkg/build"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 5 * time.Second

// main is the entry point for the now-playing engine.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and the config file
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//   - Build the graph, matcher, stabilizer and sinks
//
// 2. Concurrent Phase (Hot Path):
//   - The coordinator starts the capture graph
//   - Active frames are matched, outcomes stabilized and published
//   - Route changes and retries restart the graph
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop recording if active
//   - Clean up resources
func main() {
	if err := run(); err != nil {
		applog.Fatalf("%v", err)
	}
}

func run() error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Development builds have no linker flags.
	if err := build.Initialize(); err != nil {
		applog.Debugf("build info: %v", err)
	}

	cfg, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}
	level, _ := applog.ParseLevel(cfg.LogLevel)
	applog.SetLevel(level)

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := audio.Terminate(); err != nil {
			applog.Warnf("%v", err)
		}
	}()

	// Handle one-off commands that don't require the engine to be running
	if cfg.Command != "" {
		return executeCommand(cfg)
	}

	// The TUI owns the terminal, so logs go to a file.
	if cfg.TUI {
		f, err := os.OpenFile("tunetable.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		applog.SetOutput(f)
	}
	applog.Infof("starting %s", build.GetBuildFlags())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}
	metricsServer := serveMetrics(cfg.Metrics.Listen, m)

	// Capture graph
	backend := audio.NewPortAudioBackend(cfg.Audio)
	outputChannels := 0
	if cfg.Audio.PassThrough {
		outputChannels = cfg.Audio.OutputChannels
	}
	graph := audio.NewGraph(backend, audio.GraphOptions{
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		OutputChannels:  outputChannels,
		FloorDecibels:   cfg.Silence.FloorDecibels,
		Threshold:       cfg.Silence.Threshold,
		Metrics:         m,
	})

	var recorder *audio.Recorder
	if cfg.Recording.Enabled {
		recorder, err = startRecording(cfg, backend)
		if err != nil {
			return err
		}
		graph.SetSink(recorder)
	}

	// Matching
	matcher := match.NewHTTPMatcher(cfg.Match, &http.Client{})
	dispatcher := match.NewDispatcher(ctx, matcher, match.DispatcherOptions{
		Cooldown:    cfg.Match.Cooldown,
		MaxInFlight: cfg.Match.MaxInFlight,
		Timeout:     cfg.Match.Timeout,
		Metrics:     m,
	})
	stabilizer := match.NewStabilizer(match.Policy{
		ConfirmHits:      cfg.Match.ConfirmHits,
		ClearAfterMisses: cfg.Match.ClearAfterMisses,
	}, m)

	// Publishing
	publisher := nowplaying.NewPublisher(&nowplaying.State{})
	closers := []transport.Transport{}

	ws := transport.NewWebSocketTransport(cfg.Publish.WebSocketAddr)
	publisher.AddUISink(ws)
	closers = append(closers, ws)

	if !cfg.TUI {
		lt := transport.NewLoggingTransport()
		publisher.AddUISink(lt)
		closers = append(closers, lt)
	}

	var mqttSink *transport.MQTTMediaSink
	if cfg.Publish.MQTTBroker != "" {
		mqttSink, err = transport.NewMQTTMediaSink(cfg.Publish)
		if err != nil {
			return err
		}
		publisher.AddMediaSink(mqttSink)
	}

	var feed *tui.Feed
	if cfg.TUI {
		feed = tui.NewFeed()
		publisher.AddUISink(feed)
	}

	// Route changes
	var watcher *route.Watcher
	var routes <-chan route.Event
	if cfg.Route.Enabled {
		watcher = route.NewWatcher(route.FileLister(cfg.Route.CardsPath), cfg.Route.PollInterval)
		watcher.Start()
		routes = watcher.Events()
	}

	coordinator := engine.New(graph, dispatcher, stabilizer, publisher, engine.Options{
		ClearOnSilence: cfg.Match.ClearOnSilence,
		Metrics:        m,
	})

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coordinator.Run(runCtx, routes); err != nil && !errors.Is(err, context.Canceled) {
			applog.Errorf("coordinator: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		handleControlSignals(runCtx, coordinator, watcher)
	}()

	if cfg.TUI {
		if err := tui.Run(runCtx, tui.NewModel(feed, coordinator.Alerts(), coordinator.Retry)); err != nil {
			applog.Errorf("tui: %v", err)
		}
	} else {
		logAlerts(runCtx, coordinator.Alerts())
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	cancel()
	wg.Wait()

	var errs []error
	if err := graph.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing capture graph: %w", err))
	}
	dispatcher.Close()

	if recorder != nil {
		if err := recorder.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping recording: %w", err))
		} else {
			fmt.Printf("\nRecording saved to: %s\n", cfg.Recording.OutputFile)
		}
	}

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	// Flush the last media update before the sinks go away.
	publisher.Close()

	if mqttSink != nil {
		// Leave a stopped state behind for media displays.
		if err := mqttSink.ClearNowPlaying(); err != nil {
			applog.Warnf("mqtt: %v", err)
		}
		if err := mqttSink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// executeCommand handles one-off commands that don't require the engine
// to be running, such as listing available audio devices.
func executeCommand(cfg *config.Config) error {
	switch cfg.Command {
	case "list":
		if !cfg.TUI {
			return audio.ListDevices(os.Stdout)
		}
		d, ok, err := tui.RunDeviceList(audio.HostDevices)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("Selected %s. Run with --device %d to use it.\n", d.Name, d.ID)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

// startRecording opens the recording in the input's native format.
func startRecording(cfg *config.Config, backend audio.Backend) (*audio.Recorder, error) {
	info, err := backend.InputInfo()
	if err != nil {
		return nil, err
	}
	recorder := audio.NewRecorder(cfg.Recording.BitDepth)
	if err := os.MkdirAll(filepath.Dir(cfg.Recording.OutputFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	if err := recorder.Start(cfg.Recording.OutputFile, info.Format, cfg.Audio.FramesPerBuffer); err != nil {
		return nil, err
	}
	return recorder, nil
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		applog.Infof("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}

func logAlerts(ctx context.Context, alerts <-chan engine.Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-alerts:
			applog.Warnf("%s: %s (send SIGHUP to retry)", a.Title, a.Message)
		}
	}
}
