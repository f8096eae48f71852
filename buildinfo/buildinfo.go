// Package buildinfo contains application metadata that can be set at build time.
//
// For release builds, set the version with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/davi-nfc-reader/buildinfo.Version=1.0.0 \
//	  -X github.com/dotside-studios/davi-nfc-reader/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/dotside-studios/davi-nfc-reader/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	  ./cmd/nfcreader
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

// Application metadata, overridable via ldflags.
var (
	// Name is the technical application name.
	Name = "davi-nfc-reader"

	// DisplayName is used for the mDNS instance name.
	DisplayName = "Davi NFC Reader"

	// Description is a short description of the application.
	Description = "Contactless reader plugin daemon with WebSocket card events"

	// Version is the semantic version.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = ""

	// BuildTime is the build timestamp.
	BuildTime = ""
)

// FullVersion returns the version with the commit when known,
// e.g. "1.0.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// UserAgent returns "name/version".
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}

// BuildInfo returns a multi-line summary for --version output.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}

// IsDev reports whether this is a development build.
func IsDev() bool {
	return Version == "dev"
}
