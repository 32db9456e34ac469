// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package versions provides the build information of the thv-idp binary.
package versions

import (
	"fmt"
	"runtime"
	"time"
)

const unknownStr = "unknown"

// Build information, set at link time with
// -ldflags "-X github.com/stacklok/toolhive-idp/pkg/versions.Version=v1.0.0".
var (
	Version   = "dev"
	Commit    = unknownStr
	BuildDate = unknownStr
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"buildDate"`
	GoVersion string `json:"go_version" yaml:"goVersion"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetVersionInfo returns the build information. Development builds report
// "build-" followed by the abbreviated commit.
func GetVersionInfo() VersionInfo {
	ver := Version
	if ver == "dev" {
		ver = "build-" + Commit[:min(8, len(Commit))]
	}

	buildDate := BuildDate
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	return VersionInfo{
		Version:   ver,
		Commit:    Commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// UserAgent is sent on outbound request_uri fetches.
func UserAgent() string {
	return fmt.Sprintf("thv-idp/%s (%s/%s)", GetVersionInfo().Version, runtime.GOOS, runtime.GOARCH)
}
