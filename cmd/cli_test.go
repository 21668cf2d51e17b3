// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"visualizer/internal/config"
)

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := ParseArgs(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if cfg.Command != "" {
		t.Errorf("Command = %q, want empty", cfg.Command)
	}
	def := config.Default()
	if cfg.Audio != def.Audio || cfg.Analysis != def.Analysis {
		t.Errorf("defaults changed without flags:\n got %+v\nwant %+v", cfg.Audio, def.Audio)
	}
}

func TestParseArgsFlags(t *testing.T) {
	args := []string{
		"--backend", "synthetic",
		"-d", "440,880",
		"-b", "2048",
		"-n", "64",
		"--scaling", "linear",
		"--alpha", "0.5",
		"--level-alpha", "1",
		"--ws", ":9000",
		"--udp", "10.0.0.2:7000",
		"-r", "-o", "/tmp/rec",
		"-v",
	}
	cfg, err := ParseArgs(args, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"backend", cfg.Audio.Backend, config.BackendSynthetic},
		{"device", cfg.Audio.Device, "440,880"},
		{"frame size", cfg.Audio.FrameSize, 2048},
		{"buckets", cfg.Analysis.BucketCount, 64},
		{"scaling", cfg.Analysis.Scaling, config.ScalingLinear},
		{"alpha", cfg.Smoothing.Alpha, 0.5},
		{"level alpha", cfg.Smoothing.LevelAlpha, 1.0},
		{"ws enabled", cfg.Transport.WSEnabled, true},
		{"ws addr", cfg.Transport.WSAddr, ":9000"},
		{"udp enabled", cfg.Transport.UDPEnabled, true},
		{"udp target", cfg.Transport.UDPTargetAddress, "10.0.0.2:7000"},
		{"record", cfg.Recording.Enabled, true},
		{"output dir", cfg.Recording.OutputDir, "/tmp/rec"},
		{"log level", cfg.LogLevel, "debug"},
		{"sample rate untouched", cfg.Audio.SampleRate, float64(config.DefaultSampleRate)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseArgsFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "audio:\n  frame_size: 512\n  sample_rate: 48000\nanalysis:\n  bucket_count: 32\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseArgs([]string{"--config", path, "-n", "16"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if cfg.Audio.FrameSize != 512 || cfg.Audio.SampleRate != 48000 {
		t.Errorf("file values lost: frame %d, rate %.0f", cfg.Audio.FrameSize, cfg.Audio.SampleRate)
	}
	if cfg.Analysis.BucketCount != 16 {
		t.Errorf("BucketCount = %d, want flag value 16", cfg.Analysis.BucketCount)
	}
}

func TestParseArgsCommands(t *testing.T) {
	for _, name := range []string{CommandList, CommandDevices} {
		t.Run(name, func(t *testing.T) {
			cfg, err := ParseArgs([]string{name, "--backend", "synthetic"}, &bytes.Buffer{})
			if err != nil {
				t.Fatalf("ParseArgs() error = %v", err)
			}
			if cfg.Command != name {
				t.Errorf("Command = %q, want %q", cfg.Command, name)
			}
			if cfg.Audio.Backend != config.BackendSynthetic {
				t.Errorf("persistent flag not applied to subcommand: backend %q", cfg.Audio.Backend)
			}
		})
	}
}

func TestParseArgsVersion(t *testing.T) {
	var out bytes.Buffer
	cfg, err := ParseArgs([]string{"version"}, &out)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if cfg.Command != CommandVersion {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandVersion)
	}
	if !strings.Contains(out.String(), "commit") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestParseArgsHelp(t *testing.T) {
	var out bytes.Buffer
	cfg, err := ParseArgs([]string{"--help"}, &out)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if cfg != nil {
		t.Errorf("ParseArgs(--help) = %+v, want nil", cfg)
	}
	if !strings.Contains(out.String(), "--frame-size") {
		t.Errorf("help output missing flags:\n%s", out.String())
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := [][]string{
		{"--frame-size", "abc"},
		{"--no-such-flag"},
		{"--config", "/nonexistent/config.yaml"},
	}
	for _, args := range tests {
		if _, err := ParseArgs(args, &bytes.Buffer{}); err == nil {
			t.Errorf("ParseArgs(%v) error = nil, want error", args)
		}
	}
}
