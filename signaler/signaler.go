// Package signaler funnels process interrupt signals into one channel so
// every binary shares the same shutdown trigger.
package signaler

import (
	"os"
	"os/signal"
	"syscall"
)

var interrupts = make(chan os.Signal, 1)

func init() {
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
}

// WaitForInterrupt returns the channel interrupt signals arrive on
func WaitForInterrupt() <-chan os.Signal {
	return interrupts
}
