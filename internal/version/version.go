// Package version exposes build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/pawtalk-api/internal/version.Version=1.0.0 -X ...Commit=abc123"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "0.0.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is reported by the health endpoint and startup log.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Get returns the version info.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s) built %s", i.Version, shortCommit(i.Commit), i.Date)
}

// UserAgent is sent on outbound calls to the video provider.
func (i Info) UserAgent() string {
	return "pawtalk-api/" + i.Version
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
