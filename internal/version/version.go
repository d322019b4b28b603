// Package version exposes build information and the host metadata that
// gets embedded in liveness-probe request bodies.
package version

import "runtime"

// Build information - set by goreleaser via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info describes this client and its host environment. The language
// server expects these fields in the metadata block of probe requests.
type Info struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
}

// Current returns the Info for this build and host.
func Current() Info {
	return Info{
		AppName:    "qwatch",
		AppVersion: Version,
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
	}
}
