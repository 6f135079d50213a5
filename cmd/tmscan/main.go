// File: cmd/tmscan/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/tmscan/cmd"
	"github.com/xkilldash9x/tmscan/internal/observability"
)

const panicLogFile = "tmscan-panic.log"

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitThreshold = 2
)

// Overridden in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// Set up a context that listens for interrupt signals for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitCode(cmd.Execute(ctx))
	stop()
	osExit(code)
}

// exitCode maps a command error to the process status. An interrupted run
// exits cleanly; a --fail-on hit is distinguishable from a failure.
func exitCode(err error) int {
	var threshold *cmd.ThresholdError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.As(err, &threshold):
		return exitThreshold
	default:
		return exitError
	}
}

// handlePanic writes the panic and its stack to panicLogFile and exits.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(exitError)
		return
	}
	fmt.Fprintf(os.Stderr, "tmscan crashed: %v\nDetails logged to %s\n", r, panicLogFile)
	osExit(exitError)
}
