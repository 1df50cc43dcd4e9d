package util

import (
	"errors"
	"io"
	"sync"

	"github.com/samber/oops"
)

type namedCloser struct {
	name   string
	closer io.Closer
}

var (
	closeOnExit []namedCloser
	closeMutex  sync.Mutex
)

// RegisterCloser adds c to the resources released by CloseAll. name appears
// in logs and in the error CloseAll returns.
func RegisterCloser(name string, c io.Closer) {
	closeMutex.Lock()
	defer closeMutex.Unlock()
	closeOnExit = append(closeOnExit, namedCloser{name: name, closer: c})
	log.WithField("name", name).WithField("count", len(closeOnExit)).Debug("Registered closer")
}

// CloseAll closes every registered resource, newest first, and empties the
// list. Failures do not stop the sweep; they are returned together.
func CloseAll() error {
	closeMutex.Lock()
	pending := closeOnExit
	closeOnExit = nil
	closeMutex.Unlock()

	var errs []error
	for idx := len(pending) - 1; idx >= 0; idx-- {
		nc := pending[idx]
		if err := nc.closer.Close(); err != nil {
			log.WithError(err).WithField("name", nc.name).Warn("Error closing resource")
			errs = append(errs, oops.Wrapf(err, "close %s", nc.name))
		}
	}
	if len(pending) > 0 {
		log.WithField("count", len(pending)).Debug("All closers closed")
	}
	return errors.Join(errs...)
}
