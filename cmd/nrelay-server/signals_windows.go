//go:build windows

package main

import "os"

// notifySignals: Windows has no SIGHUP/SIGUSR* equivalents, so only
// interrupt triggers shutdown; the runtime toggles below are unavailable.
func notifySignals() []os.Signal { return []os.Signal{os.Interrupt} }

func isReloadSignal(os.Signal) bool         { return false }
func isMetricsEnableSignal(os.Signal) bool  { return false }
func isMetricsDisableSignal(os.Signal) bool { return false }
