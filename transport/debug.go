package transport

import (
	"fmt"
	"os"
)

// debugEnabled turns on fmt-based tracing independent of the qlog-style
// LogEvent stream; it exists for local troubleshooting only and is gated
// behind an env var so normal test/production runs pay nothing for it.
var debugEnabled = os.Getenv("QUIC_DEBUG") != ""

func debug(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	fmt.Fprintf(os.Stderr, "transport: "+format+"\n", args...)
}
