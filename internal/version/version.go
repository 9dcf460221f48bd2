// Package version exposes build metadata stamped in at link time.
package version

import (
	"sync"
)

// Info holds the version, commit and build timestamp reported by the app.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

var (
	info = Info{Version: "dev"}
	mu   sync.RWMutex
)

// Set records the build metadata. An empty version falls back to "dev".
func Set(v Info) {
	mu.Lock()
	defer mu.Unlock()

	if v.Version == "" {
		v.Version = "dev"
	}
	info = v
}

// Current returns the build metadata last recorded with Set.
func Current() Info {
	mu.RLock()
	defer mu.RUnlock()
	return info
}
