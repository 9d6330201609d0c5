package app

import (
	"fmt"
	"runtime"
)

// Build-time variables set via -ldflags. For example:
//
//	go build -ldflags "-X github.com/large-farva/attention-stream/internal/app.Version=v1.0.0"
var (
	Version   = "dev"
	GoVersion = runtime.Version()
	BuiltAt   = "unknown"
)

// DefaultUserAgent identifies attentiond in the start envelope when the
// config leaves session.user_agent empty.
func DefaultUserAgent() string {
	return fmt.Sprintf("attentiond/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}
