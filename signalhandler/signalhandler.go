package signalhandler

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"imagededup/logging"
)

var log = logging.Module("signal")

// Stopper is asked to finish cleanly on the first interrupt
type Stopper interface {
	Stop()
}

// ExitCode is used when a second interrupt forces the process down
const ExitCode = 130

// SetupHandler routes SIGINT and SIGTERM to stopper. The first signal asks the
// stopper to flush and finish; a second one exits immediately. With a nil
// stopper the first signal exits. The returned function unregisters the
// handler.
func SetupHandler(stopper Stopper) (release func()) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go handle(sigChan, done, stopper, os.Exit)

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

func handle(sigChan <-chan os.Signal, done <-chan struct{}, stopper Stopper, exit func(int)) {
	stopping := false
	for {
		select {
		case <-done:
			return
		case sig := <-sigChan:
			if stopper == nil || stopping {
				log.Warn("exiting on signal", "signal", sig.String())
				exit(ExitCode)
				return
			}
			stopping = true
			log.Info("stopping after current file, interrupt again to exit now", "signal", sig.String())
			stopper.Stop()
		}
	}
}

// GetOptimalProcs returns the optimal number of worker goroutines for the system
func GetOptimalProcs() int {
	// For image processing with CGo, using too many goroutines can cause issues
	maxProcs := (runtime.GOMAXPROCS(0) * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}
	return maxProcs
}
