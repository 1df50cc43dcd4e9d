// Package signals dispatches process signals to registered handlers. The
// serve command uses it to stop the HTTP server and close the reader
// registry on SIGINT/SIGTERM and to report cache statistics on SIGHUP.
package signals

import (
	"os"
	"os/signal"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registered handler for deregistration.
type HandlerID int

type registeredHandler struct {
	id HandlerID
	fn Handler
}

// handlerList is a concurrency-safe ordered list of handlers.
type handlerList struct {
	name     string
	mu       sync.RWMutex
	handlers []registeredHandler
}

var (
	idMu     sync.Mutex
	nextID   HandlerID
	stopOnce sync.Once

	reloaders    = &handlerList{name: "reload"}
	interrupters = &handlerList{name: "interrupt"}
	preShutdown  = &handlerList{name: "pre-shutdown"}
)

func newID() HandlerID {
	idMu.Lock()
	defer idMu.Unlock()
	id := nextID
	nextID++
	return id
}

// add registers f. Nil handlers are ignored and return -1.
func (l *handlerList) add(f Handler) HandlerID {
	if f == nil {
		return -1
	}
	id := newID()
	l.mu.Lock()
	l.handlers = append(l.handlers, registeredHandler{id: id, fn: f})
	l.mu.Unlock()
	return id
}

func (l *handlerList) remove(id HandlerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, h := range l.handlers {
		if h.id == id {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

func (l *handlerList) snapshot() []registeredHandler {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]registeredHandler, len(l.handlers))
	copy(out, l.handlers)
	return out
}

func (l *handlerList) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

func (l *handlerList) reset() {
	l.mu.Lock()
	l.handlers = nil
	l.mu.Unlock()
}

// run calls every handler in registration order. A panicking handler is
// logged and does not stop the others.
func (l *handlerList) run() {
	for _, h := range l.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":      "signals.run",
						"handler": l.name,
						"panic":   r,
					}).Error("signal handler panicked")
				}
			}()
			h.fn()
		}()
	}
}

// RegisterReloadHandler registers a handler called on SIGHUP.
func RegisterReloadHandler(f Handler) HandlerID { return reloaders.add(f) }

// DeregisterReloadHandler removes a reload handler by ID.
func DeregisterReloadHandler(id HandlerID) { reloaders.remove(id) }

// RegisterInterruptHandler registers a handler called on SIGINT/SIGTERM,
// after every pre-shutdown handler.
func RegisterInterruptHandler(f Handler) HandlerID { return interrupters.add(f) }

// DeregisterInterruptHandler removes an interrupt handler by ID.
func DeregisterInterruptHandler(id HandlerID) { interrupters.remove(id) }

func handleReload() {
	log.WithField("handlers", reloaders.len()).Debug("reload signal received")
	reloaders.run()
}

func handleInterrupted() {
	handlePreShutdown()
	log.WithField("handlers", interrupters.len()).Debug("running interrupt handlers")
	interrupters.run()
}

// StopHandle makes Handle return. Safe to call multiple times.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}
