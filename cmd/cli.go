// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"visualizer/internal/config"
	"visualizer/pkg/build"
)

// One-off commands that do not run the pipeline.
const (
	CommandList    = "list"
	CommandDevices = "devices"
	CommandVersion = "version"
)

// flagValues collects command line values before they are layered over the
// loaded configuration. Only flags the user actually set are applied.
type flagValues struct {
	configPath string

	backend      string
	device       string
	channels     int
	sampleRate   float64
	frameSize    int
	sampleFormat string
	lowLatency   bool

	buckets int
	window  string
	scaling string
	gain    float64
	gate    float64

	alpha      float64
	levelAlpha float64

	fps int
	tui bool

	wsAddr    string
	udpTarget string

	record    bool
	outputDir string

	verbose bool
}

// ParseArgs parses args (without the program name), loads the configuration
// file and environment, and applies any flags given. The result is not yet
// validated. Output from help and version goes to out.
func ParseArgs(args []string, out io.Writer) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()
	var (
		flags   flagValues
		options *config.Config
	)

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd.Flags(), cfg)
			options = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	setCommand := func(name string) func(*cobra.Command, []string) {
		return func(*cobra.Command, []string) { options.Command = name }
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   CommandList,
			Short: "List devices the selected backend can open",
			Run:   setCommand(CommandList),
		},
		&cobra.Command{
			Use:   CommandDevices,
			Short: "Browse devices interactively, then start capturing from the chosen one",
			Run:   setCommand(CommandDevices),
		},
		&cobra.Command{
			Use:   CommandVersion,
			Short: "Print build information",
			Run: func(cmd *cobra.Command, args []string) {
				options.Command = CommandVersion
				fmt.Fprintln(cmd.OutOrStdout(), buildInfo.String())
			},
		},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "",
		"Path to a YAML configuration file (default ./config.yaml if present)")

	// Audio Device Configuration
	pf.StringVar(&flags.backend, "backend", config.DefaultBackend,
		"Capture backend: portaudio, wav or synthetic")
	pf.StringVarP(&flags.device, "device", "d", config.DefaultDevice,
		"Input device: 'default', a device ID or name, a WAV path, or comma separated tone frequencies. Use 'list' to see devices.")
	pf.IntVarP(&flags.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture (only the first is analyzed)")
	pf.Float64VarP(&flags.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&flags.frameSize, "frame-size", "b", config.DefaultFrameSize,
		"Samples per frame and transform size (power of 2; affects latency and resolution)")
	pf.StringVar(&flags.sampleFormat, "sample-format", config.DefaultSampleFormat,
		"Sample encoding requested from the device: int16 or float32")
	pf.BoolVarP(&flags.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use the device's low input latency")

	// Analysis Configuration
	pf.IntVarP(&flags.buckets, "buckets", "n", config.DefaultBucketCount,
		"Number of spectrum buckets (at most frame-size/2)")
	pf.StringVar(&flags.window, "window", config.DefaultWindow,
		"Window function: hann, hamming, blackman, blackman-nuttall, bartlett-hann, lanczos, nuttall or none")
	pf.StringVar(&flags.scaling, "scaling", config.DefaultScaling,
		"Magnitude scaling: decibel or linear")
	pf.Float64Var(&flags.gain, "gain", config.DefaultGain,
		"Input sensitivity multiplier")
	pf.Float64Var(&flags.gate, "gate", config.DefaultGateThreshold,
		"Noise gate threshold (0..1 of full scale, 0 disables)")

	// Smoothing Configuration
	pf.Float64Var(&flags.alpha, "alpha", config.DefaultAlpha,
		"Spectrum smoothing factor in (0, 1]; 1 disables smoothing")
	pf.Float64Var(&flags.levelAlpha, "level-alpha", config.DefaultLevelAlpha,
		"Level smoothing factor in (0, 1]")

	// Output Configuration
	pf.IntVar(&flags.fps, "fps", config.DefaultFPS, "Render rate in frames per second")
	pf.BoolVarP(&flags.tui, "tui", "t", false, "Show the terminal spectrum meter")
	pf.StringVar(&flags.wsAddr, "ws", "", "Serve snapshots over WebSocket on this address, e.g. :8080")
	pf.StringVar(&flags.udpTarget, "udp", "", "Send snapshot packets to this UDP host:port")

	// Recording Configuration
	pf.BoolVarP(&flags.record, "record", "r", false, "Record the captured stream to a WAV file")
	pf.StringVarP(&flags.outputDir, "output-dir", "o", config.DefaultOutputDir,
		"Directory for recordings; also where the wav backend lists files")

	// Debug Configuration
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Show verbose output")

	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if options == nil {
		// --help or --version: nothing to run.
		return nil, nil
	}
	return options, nil
}

// apply copies every flag the user set onto cfg.
func (f *flagValues) apply(set *pflag.FlagSet, cfg *config.Config) {
	changed := set.Changed

	if changed("backend") {
		cfg.Audio.Backend = f.backend
	}
	if changed("device") {
		cfg.Audio.Device = f.device
	}
	if changed("channels") {
		cfg.Audio.Channels = f.channels
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = f.sampleRate
	}
	if changed("frame-size") {
		cfg.Audio.FrameSize = f.frameSize
	}
	if changed("sample-format") {
		cfg.Audio.SampleFormat = f.sampleFormat
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = f.lowLatency
	}

	if changed("buckets") {
		cfg.Analysis.BucketCount = f.buckets
	}
	if changed("window") {
		cfg.Analysis.Window = f.window
	}
	if changed("scaling") {
		cfg.Analysis.Scaling = f.scaling
	}
	if changed("gain") {
		cfg.Analysis.Gain = f.gain
	}
	if changed("gate") {
		cfg.Analysis.GateThreshold = f.gate
	}

	if changed("alpha") {
		cfg.Smoothing.Alpha = f.alpha
	}
	if changed("level-alpha") {
		cfg.Smoothing.LevelAlpha = f.levelAlpha
	}

	if changed("fps") {
		cfg.Render.FPS = f.fps
	}
	if changed("tui") {
		cfg.Render.TUI = f.tui
	}
	if changed("ws") {
		cfg.Transport.WSEnabled = f.wsAddr != ""
		cfg.Transport.WSAddr = f.wsAddr
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = f.udpTarget != ""
		cfg.Transport.UDPTargetAddress = f.udpTarget
	}

	if changed("record") {
		cfg.Recording.Enabled = f.record
	}
	if changed("output-dir") {
		cfg.Recording.OutputDir = f.outputDir
	}

	if changed("verbose") && f.verbose {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
}
