// Package version holds build metadata, overridden at link time:
//
//	go build -ldflags "-X github.com/MrSnakeDoc/namebroker/internal/version.Version=v0.3.0"
package version

import (
	"runtime"
	"time"
)

var (
	Version   = "dev"                           // ex: v0.3.0
	Commit    = "none"                          // ex: abcd123
	BuildDate = time.Now().Format(time.RFC3339) // ex: 2026-10-19T18:42:00Z
	GoVersion = runtime.Version()
)
