// Package version carries build information.
package version

import (
	"fmt"
	"runtime"

	"github.com/chronologos/glide/internal/protocol"
)

// Version and Commit are set at build time via:
//
//	go build -ldflags "-X ...version.VERSION=0.4.0 -X ...version.Commit=abc123"
var (
	VERSION = "dev"
	Commit  = "dev"
)

// String describes the build and the protocol version it speaks.
func String() string {
	return fmt.Sprintf("glide %s (%s) protocol %s %s/%s",
		VERSION, Commit, protocol.Current, runtime.GOOS, runtime.GOARCH)
}
