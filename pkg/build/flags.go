// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata embedded into the specgate binary at
// link time:
//
//	go build -ldflags "-X specgate/pkg/build.buildName=specgate \
//	  -X specgate/pkg/build.buildVersion=0.1.0 ..."
//
// Development builds run with the defaults below; Initialize reports which
// flag is missing so release tooling can refuse an incomplete build.
package build

import (
	"errors"
	"fmt"
)

// ErrMissingFlag is returned by Initialize when a linker flag was not set.
var ErrMissingFlag = errors.New("build flag is required")

// Description is the one-line summary shown by the CLI.
const Description = "Real-time spectral noise gate for live audio input"

type ldFlags struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String renders the flags as a single version line.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:    "specgate",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "dev",
	}
)

// Initialize validates and copies build information from ldflags variables
// into the buildFlags struct. On error the development defaults stay in place,
// so callers may log the error and carry on.
func Initialize() error {
	required := []struct {
		name  string
		value string
	}{
		{"BuildName", buildName},
		{"BuildTime", buildTime},
		{"BuildCommit", buildCommit},
		{"BuildVersion", buildVersion},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s: %w", r.name, ErrMissingFlag)
		}
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
