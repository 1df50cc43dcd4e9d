// Package sequence provides a FIFO task runner.
//
// Every task posted to a Sequence runs on the same goroutine, one at a time,
// in posting order. Code that keeps all of its mutable state inside tasks of a
// single Sequence needs no further locking for that state. Blocking work is
// done elsewhere and its result is posted back as a new task.
package sequence

import (
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Sequence is an unbounded FIFO of tasks drained by one goroutine.
type Sequence struct {
	name string

	mu      sync.Mutex
	tasks   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// New creates a Sequence and starts its goroutine.
func New(name string) *Sequence {
	s := &Sequence{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Post appends task to the sequence. It never blocks and may be called from
// any goroutine, including from a running task. Returns false if the sequence
// has been stopped, in which case the task is dropped.
func (s *Sequence) Post(task func()) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		log.WithFields(logger.Fields{
			"at":       "(Sequence) Post",
			"sequence": s.name,
			"reason":   "sequence stopped",
		}).Debug("dropping task")
		return false
	}
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync posts task and waits until it has run. It must not be called from a
// task running on the same sequence. Returns false if the task was dropped.
func (s *Sequence) Sync(task func()) bool {
	ran := make(chan struct{})
	if !s.Post(func() {
		defer close(ran)
		task()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-s.done:
		// The task may have been the last one drained before exit.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Stop prevents further posts. Tasks already queued still run. Stop does not
// wait; use Wait for that.
func (s *Sequence) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the sequence goroutine has exited after Stop.
func (s *Sequence) Wait() {
	<-s.done
}

func (s *Sequence) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			<-s.wake
			continue
		}
		task := s.tasks[0]
		s.tasks[0] = nil
		s.tasks = s.tasks[1:]
		s.mu.Unlock()

		task()
	}
}
