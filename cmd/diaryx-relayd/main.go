// Command diaryx-relayd is the sync relay daemon: it serves the WebSocket
// sync protocol (spec §4.9), runs database migrations, and sweeps expired
// attachment sessions / soft-deleted blobs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "diaryx-relayd:", err)
		os.Exit(1)
	}
}
