// SPDX-License-Identifier: MIT
//
// Package build carries the build metadata embedded into the tunetable
// binary with linker flags:
//
//	go build -ldflags "-X tunetable/pkg/build.buildVersion=0.3.0 \
//	    -X tunetable/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	    -X tunetable/pkg/build.buildTime=$(date -u +%FT%TZ)"
//
// Development builds run without the flags and report "dev" values.
package build

import (
	"errors"
	"fmt"
)

// Info describes the running binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String renders a single version line, e.g. "tunetable 0.3.0 (abc123, 2026-01-02T10:00:00Z)".
func (i Info) String() string {
	return fmt.Sprintf("%s %s (%s, %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var info = &Info{
	Name:        "tunetable",
	Description: "Listens to a turntable feed and shows what is playing",
	Time:        "dev",
	Commit:      "dev",
	Version:     "dev",
}

// Initialize copies the linker-provided values into the build info. Missing
// values are reported as a joined error and leave the development defaults
// in place, so callers may treat the error as informational.
func Initialize() error {
	var errs []error
	set := func(dst *string, src, flag string) {
		if src == "" {
			errs = append(errs, fmt.Errorf("%s is not set", flag))
			return
		}
		*dst = src
	}

	set(&info.Name, buildName, "buildName")
	set(&info.Time, buildTime, "buildTime")
	set(&info.Commit, buildCommit, "buildCommit")
	set(&info.Version, buildVersion, "buildVersion")

	return errors.Join(errs...)
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return info
}
