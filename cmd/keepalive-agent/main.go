// Command keepalive-agent simulates one or more agents against a keepalive
// server: it joins a room and acknowledges every send it is asked to do.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
