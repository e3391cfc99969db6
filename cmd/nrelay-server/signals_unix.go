//go:build !windows

package main

import (
	"os"
	"syscall"
)

// notifySignals lists the signals this platform toggles runtime behavior
// on: SIGHUP reloads the admin bearer token, SIGUSR1/SIGUSR2 enable and
// disable the Prometheus metrics observer without restarting the metrics
// listener.
func notifySignals() []os.Signal {
	return []os.Signal{
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	}
}

func isReloadSignal(sig os.Signal) bool         { return sig == syscall.SIGHUP }
func isMetricsEnableSignal(sig os.Signal) bool  { return sig == syscall.SIGUSR1 }
func isMetricsDisableSignal(sig os.Signal) bool { return sig == syscall.SIGUSR2 }
