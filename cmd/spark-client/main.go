// Command spark-client talks to the Spark API through the throttled,
// paginating client: one-off requests, a local proxy server and a view of
// the shared rate-limit state.
package main

import (
	"os"
)

// Version information set via ldflags during build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
