package version

import (
	"runtime"
	"time"
)

var (
	Version   = "0.3.0"                         // reported on /api/thalamus/version
	Commit    = "none"                          // ex: abcd123
	BuildDate = time.Now().Format(time.RFC3339) // ex: 2025-08-11T18:42:00Z
	GoVersion = runtime.Version()
)
