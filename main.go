// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"visualizer/cmd"
	"visualizer/internal/analysis"
	"visualizer/internal/capture"
	"visualizer/internal/config"
	applog "visualizer/internal/log"
	"visualizer/internal/publish"
	"visualizer/internal/record"
	"visualizer/internal/render"
	"visualizer/internal/smoothing"
	"visualizer/internal/source"
	"visualizer/internal/transport"
	"visualizer/internal/transport/udp"
	"visualizer/internal/tui"
	"visualizer/pkg/build"
)

// main is the entry point for the spectrum analyzer.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse configuration file, environment and command line
//   - Open the capture backend
//   - Execute one-off commands if requested
//   - Build the analyzer, smoothing memory and published state
//
// 2. Concurrent Phase (Hot Path):
//   - Capture goroutine: read, analyze, smooth, publish
//   - Render goroutine: snapshot and draw at a fixed rate
//   - Optional recorder goroutine fed by a frame tap
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals, a quit from the meter or end of input
//   - Stop capture, then renderers, then the recorder
//   - Release the transform plan and the backend
func main() {
	if err := run(os.Args[1:]); err != nil {
		applog.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		return err
	}

	cfg, err := cmd.ParseArgs(args, os.Stdout)
	if err != nil {
		return err
	}
	if cfg == nil || cfg.Command == cmd.CommandVersion {
		return nil
	}
	configureLogging(cfg)

	backend, release, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer release()

	switch cfg.Command {
	case cmd.CommandList:
		return listDevices(os.Stdout, backend)
	case cmd.CommandDevices:
		sel, err := tui.SelectDevice(backend)
		if errors.Is(err, tui.ErrNoSelection) {
			return nil
		}
		if err != nil {
			return err
		}
		cfg.Audio.Device = sel.Device.ID
		cfg.Audio.SampleRate = sel.SampleRate
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Render.TUI {
		// The meter owns the terminal; logs go to a file instead.
		logFile, err := redirectLogs()
		if err != nil {
			return err
		}
		defer logFile.Close()
	}

	p, err := newPipeline(cfg, backend)
	if err != nil {
		return err
	}
	defer p.close()

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return p.run(ctx)
}

func configureLogging(cfg *config.Config) {
	level, ok := applog.ParseLevel(cfg.LogLevel)
	if !ok {
		applog.Warnf("Unknown log level %q, using %v", cfg.LogLevel, level)
	}
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)
}

func redirectLogs() (*os.File, error) {
	path := filepath.Join(os.TempDir(), build.GetBuildFlags().Name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	applog.Infof("Logging to %s", path)
	applog.SetOutput(f)
	return f, nil
}

// openBackend returns the configured backend and a release function that
// must run after every source it opened is closed.
func openBackend(cfg *config.Config) (source.Backend, func(), error) {
	switch cfg.Audio.Backend {
	case config.BackendPortAudio:
		if err := source.Initialize(); err != nil {
			return nil, nil, err
		}
		release := func() {
			if err := source.Terminate(); err != nil {
				applog.Warnf("%v", err)
			}
		}
		return source.NewPortAudio(cfg.Audio.LowLatency), release, nil
	case config.BackendWAV:
		return source.NewWAVFile(cfg.Audio.Realtime, cfg.Recording.OutputDir), func() {}, nil
	case config.BackendSynthetic:
		return source.NewSynthetic(cfg.Audio.Realtime), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Audio.Backend)
	}
}

// listDevices prints every device the backend can open.
func listDevices(w io.Writer, backend source.Backend) error {
	devices, err := backend.Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "No capture devices found.")
		return nil
	}
	for _, d := range devices {
		fmt.Fprintln(w, d.String())
		if d.MaxInputChannels > 0 {
			fmt.Fprintf(w, "    Input channels: %d, Default sample rate: %.0f Hz\n",
				d.MaxInputChannels, d.DefaultSampleRate)
		}
	}
	return nil
}

// pipeline owns every long-lived component of a capture session.
type pipeline struct {
	cfg      *config.Config
	analyzer *analysis.Analyzer
	state    *publish.State
	loop     *capture.Loop
	driver   *render.Driver
	recorder *record.Recorder
	meter    *tui.MeterRenderer
}

func newPipeline(cfg *config.Config, backend source.Backend) (_ *pipeline, err error) {
	encoding, err := source.ParseSampleFormat(cfg.Audio.SampleFormat)
	if err != nil {
		return nil, err
	}
	window, err := analysis.ParseWindowFunc(cfg.Analysis.Window)
	if err != nil {
		return nil, err
	}
	scaling, err := analysis.ParseScaling(cfg.Analysis.Scaling)
	if err != nil {
		return nil, err
	}

	format := source.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		FrameSize:  cfg.Audio.FrameSize,
		Encoding:   encoding,
	}

	p := &pipeline{cfg: cfg}
	defer func() {
		if err != nil {
			p.close()
		}
	}()

	p.analyzer, err = analysis.New(analysis.Config{
		FrameSize:     cfg.Audio.FrameSize,
		SampleRate:    cfg.Audio.SampleRate,
		BucketCount:   cfg.Analysis.BucketCount,
		Window:        window,
		Scaling:       scaling,
		FloorDB:       cfg.Analysis.FloorDB,
		CeilingDB:     cfg.Analysis.CeilingDB,
		LevelFloorDB:  cfg.Analysis.LevelFloorDB,
		Gain:          cfg.Analysis.Gain,
		GateThreshold: cfg.Analysis.GateThreshold,
	})
	if err != nil {
		return nil, err
	}

	smooth, err := smoothing.NewState(cfg.Analysis.BucketCount, cfg.Smoothing.Alpha, cfg.Smoothing.LevelAlpha)
	if err != nil {
		return nil, err
	}
	p.state = publish.New(cfg.Analysis.BucketCount, cfg.Analysis.LevelFloorDB)

	var taps []capture.FrameTap
	if cfg.Recording.Enabled {
		p.recorder = record.New(format, cfg.Recording.BitDepth, record.DefaultBuffers)
		taps = append(taps, p.recorder)
	}

	p.loop, err = capture.New(capture.Config{
		Backend:   backend,
		Device:    cfg.Audio.Device,
		Format:    format,
		Analyzer:  p.analyzer,
		Smoothing: smooth,
		State:     p.state,
		Taps:      taps,
	})
	if err != nil {
		return nil, err
	}

	renderers, err := p.renderers()
	if err != nil {
		return nil, err
	}
	p.driver, err = render.NewDriver(p.state, cfg.Render.FPS, renderers...)
	if err != nil {
		for _, r := range renderers {
			r.Close()
		}
		return nil, err
	}
	return p, nil
}

// renderers builds the configured output surfaces. The log renderer is the
// fallback when nothing else would show the spectrum.
func (p *pipeline) renderers() ([]render.Renderer, error) {
	cfg := p.cfg
	var renderers []render.Renderer
	fail := func(err error) ([]render.Renderer, error) {
		for _, r := range renderers {
			r.Close()
		}
		return nil, err
	}

	if cfg.Transport.WSEnabled {
		ws, err := transport.NewWebSocketRenderer(cfg.Transport.WSAddr, 0)
		if err != nil {
			return fail(err)
		}
		renderers = append(renderers, ws)
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return fail(err)
		}
		pub, err := udp.NewPublisher(sender, cfg.Transport.UDPSendInterval, cfg.Analysis.BucketCount)
		if err != nil {
			sender.Close()
			return fail(err)
		}
		renderers = append(renderers, pub)
	}

	if cfg.Render.LogInterval > 0 && (!cfg.Render.TUI || len(renderers) == 0) {
		renderers = append(renderers, transport.NewLogRenderer(cfg.Render.LogInterval, p.analyzer.BucketFrequency))
	}

	if cfg.Render.TUI {
		title := fmt.Sprintf("%s  %s  %.0f Hz  N=%d", build.GetBuildFlags().Name,
			cfg.Audio.Device, cfg.Audio.SampleRate, cfg.Audio.FrameSize)
		p.meter = tui.NewMeterRenderer(tui.NewMeterModel(title, p.analyzer.BucketFrequency, cfg.Analysis.LevelFloorDB))
		renderers = append(renderers, p.meter)
	}
	return renderers, nil
}

// run starts capture and rendering and blocks until ctx is cancelled, the
// meter quits, or the capture session ends.
func (p *pipeline) run(ctx context.Context) error {
	ended := make(chan error, 1)
	go p.watch(ended)

	if p.recorder != nil {
		if err := p.recorder.Start(record.FileName(p.cfg.Recording.OutputDir, time.Now())); err != nil {
			return err
		}
	}

	p.driver.Start()
	if err := p.loop.Start(ctx); err != nil {
		return errors.Join(err, p.shutdown())
	}

	var meterDone <-chan struct{}
	if p.meter != nil {
		meterDone = p.meter.Done()
	}

	var err error
	select {
	case <-ctx.Done():
		applog.Infof("Shutting down")
	case <-meterDone:
	case err = <-ended:
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================
	return errors.Join(err, p.shutdown())
}

// watch logs state changes and reports the end of a session that stopped
// on its own. It returns when the loop is closed.
func (p *pipeline) watch(ended chan<- error) {
	for ev := range p.loop.Events() {
		applog.Debugf("capture: %v", ev.State)
		if ev.State != capture.Stopped || ev.Err == nil {
			continue
		}
		var err error
		if errors.Is(ev.Err, io.EOF) {
			applog.Infof("End of input")
		} else {
			err = ev.Err
		}
		select {
		case ended <- err:
		default:
		}
	}
}

// shutdown stops capture before the renderers so the final render shows the
// silence published on stop.
func (p *pipeline) shutdown() error {
	var errs []error
	if p.loop != nil {
		errs = append(errs, p.loop.Stop())
		stats := p.loop.Stats()
		applog.Infof("Captured %d frames (%d skipped)", stats.Frames, stats.Skipped)
	}
	if p.driver != nil {
		errs = append(errs, p.driver.Close())
	}
	if p.recorder != nil {
		if err := p.recorder.Stop(); err != nil {
			errs = append(errs, err)
		} else if p.recorder.Path() != "" {
			fmt.Printf("\nRecording saved to: %s\n", p.recorder.Path())
		}
	}
	return errors.Join(errs...)
}

// close releases everything newPipeline created. It is safe after shutdown.
func (p *pipeline) close() {
	if p.loop != nil {
		p.loop.Close()
	}
	if p.driver != nil {
		p.driver.Close()
	}
	if p.analyzer != nil {
		p.analyzer.Close()
	}
}
