package actor

import "github.com/btcsuite/btclog/v2"

// Subsystem is the logging subsystem identifier this package registers
// itself under when wired into a multi-package logging backend.
const Subsystem = "ACTR"

// log is the package-level logger used throughout the actor package. It
// defaults to a disabled logger so importing this package without calling
// UseLogger produces no output, matching the convention used across the
// btcsuite/lnd ecosystem.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-level logger used by the actor package.
// Callers typically build a shared btclog.Logger wired to one or more
// handlers (console, rotating file, etc.) via build.NewMultiHandler and
// btclog.NewSLogger, then pass it here with a subsystem prefix.
func UseLogger(logger btclog.Logger) {
	log = logger
}
