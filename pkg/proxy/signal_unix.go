//go:build unix

package proxy

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// InstallSignalHandler stops the relay loop on SIGINT or SIGTERM. The
// flag is consulted once per loop iteration; the current iteration
// finishes before the loop exits.
func (r *Relay) InstallSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, unix.SIGTERM)
	go func() {
		<-ch
		r.Stop()
	}()
}
