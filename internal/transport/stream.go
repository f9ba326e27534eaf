package transport

import (
	"context"
	"io"
	"sync"
)

// eventStream is a channel-backed Stream. The producer goroutine owns
// the channel and closes it when done; Close only cancels.
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	errMu sync.Mutex
	err   error
}

func newEventStream(ctx context.Context) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	return &eventStream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 64),
	}
}

// Recv returns the next event, io.EOF on normal completion, or the
// producer's error.
func (s *eventStream) Recv() (*Event, error) {
	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			s.errMu.Lock()
			err := s.err
			s.errMu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return &ev, nil
	}
}

// Close cancels the stream. Safe to call more than once.
func (s *eventStream) Close() error {
	s.cancel()
	return nil
}

// send delivers an event to the consumer. Returns false if the stream
// was canceled.
func (s *eventStream) send(ev Event) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.events <- ev:
		return true
	}
}

// fail records the terminal error the consumer will see after the
// channel closes.
func (s *eventStream) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}
