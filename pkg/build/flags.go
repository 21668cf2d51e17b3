// SPDX-License-Identifier: MIT
//
// Package build provides the build metadata reported by the CLI. Values are
// injected at link time, for example:
//
//	go build -ldflags "-X visualizer/pkg/build.buildName=visualizer \
//	    -X visualizer/pkg/build.buildVersion=0.3.0 \
//	    -X visualizer/pkg/build.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Development builds without ldflags fall back to the module's embedded
// build info (version and VCS revision) so `go run` still works.
package build

import (
	"fmt"
	"runtime/debug"
	"time"
)

// DefaultName is used when no name was injected at link time.
const DefaultName = "visualizer"

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// Package-level variables for build information. These are populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        DefaultName,
		Description: "Real-time audio spectrum analyzer",
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "devel",
	}
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Initialize copies link-time values into the build flags, filling gaps from
// the embedded module info. It returns an error only when an injected value
// is malformed, since a bad timestamp points at a broken release pipeline.
func Initialize() error {
	if buildTime != "" {
		if _, err := time.Parse(time.RFC3339, buildTime); err != nil {
			return fmt.Errorf("BuildTime %q is not RFC3339: %w", buildTime, err)
		}
	}

	if buildName != "" {
		buildFlags.Name = buildName
	}
	if buildVersion != "" {
		buildFlags.Version = buildVersion
	}
	if buildCommit != "" {
		buildFlags.Commit = buildCommit
	}
	if buildTime != "" {
		buildFlags.Time = buildTime
	}

	info, ok := readBuildInfo()
	if !ok {
		return nil
	}
	if buildVersion == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		buildFlags.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if buildCommit == "" {
				buildFlags.Commit = s.Value
			}
		case "vcs.time":
			if buildTime == "" {
				buildFlags.Time = s.Value
			}
		}
	}

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}

// String renders a single version line for --version output.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}
