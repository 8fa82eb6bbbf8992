package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultBuffer = 64
	// offerTimeout bounds how long a dispatch waits on a stream with a full buffer.
	offerTimeout = time.Second
)

type CloseReason int

const (
	ReasonOpen CloseReason = iota
	ReasonMaxReached
	ReasonTimeout
	ReasonStopped
	ReasonError
)

func (r CloseReason) String() string {
	switch r {
	case ReasonOpen:
		return "open"
	case ReasonMaxReached:
		return "max-reached"
	case ReasonTimeout:
		return "timeout"
	case ReasonStopped:
		return "explicit-stop"
	case ReasonError:
		return "error"
	default:
		return "unknown"
	}
}

// Stream delivers events of one subscription until it is closed.
//
// The events channel is never closed: consumers select on Done. Events buffered
// before the close can still be drained afterwards.
type Stream[E any] struct {
	events chan E
	done   chan struct{}
	once   sync.Once

	filter func(E) bool
	max    int

	mu     sync.Mutex
	count  int
	reason CloseReason
	err    error

	clock   clockwork.Clock
	timer   clockwork.Timer
	onClose func()
}

func newStream[E any](clock clockwork.Clock, max int, timeout time.Duration, filter func(E) bool, onClose func()) *Stream[E] {
	s := &Stream[E]{
		events:  make(chan E, defaultBuffer),
		done:    make(chan struct{}),
		filter:  filter,
		max:     max,
		clock:   clock,
		onClose: onClose,
	}

	if timeout > 0 {
		s.timer = clock.NewTimer(timeout)
		go func(t clockwork.Timer) {
			select {
			case <-t.Chan():
				s.close(ReasonTimeout, nil)
			case <-s.done:
			}
		}(s.timer)
	}

	return s
}

func (s *Stream[E]) Events() <-chan E {
	return s.events
}

func (s *Stream[E]) Done() <-chan struct{} {
	return s.done
}

// Reason returns why the stream closed, ReasonOpen while it is open.
func (s *Stream[E]) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Stream[E]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop closes the stream. It is safe to call more than once.
func (s *Stream[E]) Stop() {
	s.close(ReasonStopped, nil)
}

// Fail closes the stream with an error.
func (s *Stream[E]) Fail(err error) {
	s.close(ReasonError, err)
}

func (s *Stream[E]) close(reason CloseReason, err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.err = err
		s.mu.Unlock()

		if s.timer != nil {
			s.timer.Stop()
		}
		close(s.done)

		if s.onClose != nil {
			s.onClose()
		}
	})
}

// offer delivers e if it passes the filter. When the buffer is full it waits
// offerTimeout at most, then drops e.
func (s *Stream[E]) offer(e E) bool {
	if s.filter != nil && !s.filter(e) {
		return false
	}

	s.mu.Lock()
	if s.reason != ReasonOpen || (s.max > 0 && s.count >= s.max) {
		s.mu.Unlock()
		return false
	}
	s.count++
	last := s.max > 0 && s.count == s.max
	s.mu.Unlock()

	if !s.send(e) {
		s.mu.Lock()
		s.count--
		s.mu.Unlock()
		return false
	}

	if last {
		s.close(ReasonMaxReached, nil)
	}
	return true
}

func (s *Stream[E]) send(e E) bool {
	select {
	case s.events <- e:
		return true
	case <-s.done:
		return false
	default:
	}

	t := s.clock.NewTimer(offerTimeout)
	defer t.Stop()

	select {
	case s.events <- e:
		return true
	case <-s.done:
		return false
	case <-t.Chan():
		slog.Warn("gateway: stream backlogged, event dropped", "buffer", cap(s.events))
		return false
	}
}
