package signals

import (
	"sync"
	"time"
)

const defaultGracefulTimeout = 30 * time.Second

var (
	timeoutMu       sync.RWMutex
	gracefulTimeout = defaultGracefulTimeout
)

// RegisterPreShutdownHandler registers a handler that runs before the
// interrupt handlers, such as stopping a listener so that no new requests
// reach resources the interrupt handlers are about to close.
func RegisterPreShutdownHandler(f Handler) HandlerID { return preShutdown.add(f) }

// DeregisterPreShutdownHandler removes a pre-shutdown handler by ID.
func DeregisterPreShutdownHandler(id HandlerID) { preShutdown.remove(id) }

// SetGracefulTimeout bounds the pre-shutdown phase. Zero or negative
// restores the 30 second default.
func SetGracefulTimeout(timeout time.Duration) {
	timeoutMu.Lock()
	defer timeoutMu.Unlock()
	if timeout <= 0 {
		gracefulTimeout = defaultGracefulTimeout
	} else {
		gracefulTimeout = timeout
	}
}

// handlePreShutdown runs the pre-shutdown handlers and reports whether they
// finished within the graceful timeout.
func handlePreShutdown() bool {
	if preShutdown.len() == 0 {
		return true
	}
	timeoutMu.RLock()
	timeout := gracefulTimeout
	timeoutMu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		preShutdown.run()
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.WithField("timeout", timeout).Warn("pre-shutdown handlers timed out")
		return false
	}
}
