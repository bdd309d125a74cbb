package scan

import (
	"context"
	"errors"
	"sync"

	"photosweep/internal/models"
)

// ErrCancelled is returned by Pass.Result when the pass was cancelled
var ErrCancelled = errors.New("scan cancelled")

// updateBuffer bounds how far the producer may run ahead of the consumer
const updateBuffer = 64

// Pass is one running scan. Updates must be drained until the channel is
// closed, or the consumer must call Close (or cancel the context passed to
// Start) to walk away.
type Pass struct {
	updates chan models.ScanUpdate
	parent  context.Context
	cancel  context.CancelFunc

	abandoned   chan struct{}
	abandonOnce sync.Once

	done     chan struct{}
	terminal models.ScanUpdate
}

func newPass(parent context.Context) (*Pass, context.Context) {
	work, cancel := context.WithCancel(parent)
	return &Pass{
		updates:   make(chan models.ScanUpdate, updateBuffer),
		parent:    parent,
		cancel:    cancel,
		abandoned: make(chan struct{}),
		done:      make(chan struct{}),
	}, work
}

// Updates returns the event stream. The terminal event is always the last
// one and the channel is closed after it.
func (p *Pass) Updates() <-chan models.ScanUpdate {
	return p.updates
}

// Cancel stops scheduling new work. The consumer keeps reading and receives
// every remaining event including the cancelled terminal event.
func (p *Pass) Cancel() {
	p.cancel()
}

// Close cancels the pass and tells the producer nobody is reading anymore.
// Pending events are dropped.
func (p *Pass) Close() {
	p.abandonOnce.Do(func() {
		close(p.abandoned)
	})
	p.cancel()
}

// Done is closed once the pass has terminated
func (p *Pass) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the pass terminates and returns its terminal event
func (p *Pass) Wait() models.ScanUpdate {
	<-p.done
	return p.terminal
}

// Result waits for the pass and returns its result. A cancelled pass returns
// the partial result (possibly nil) with ErrCancelled.
func (p *Pass) Result() (*models.ScanResult, error) {
	u := p.Wait()
	switch u.Type {
	case models.UpdateCompleted:
		return u.Result, nil
	case models.UpdateCancelled:
		return u.Result, ErrCancelled
	default:
		return nil, u.Err
	}
}

// emit delivers u unless the consumer walked away. It reports whether the
// event was delivered.
func (p *Pass) emit(u models.ScanUpdate) bool {
	select {
	case p.updates <- u:
		return true
	case <-p.abandoned:
		return false
	case <-p.parent.Done():
		return false
	}
}

// finish sends the terminal event and closes the stream. An abandoned
// stream still gets the terminal event if buffer space allows.
func (p *Pass) finish(u models.ScanUpdate) {
	p.terminal = u
	if !p.emit(u) {
		select {
		case p.updates <- u:
		default:
		}
	}
	close(p.updates)
	p.cancel()
	close(p.done)
}

func (p *Pass) gone() bool {
	select {
	case <-p.abandoned:
		return true
	case <-p.parent.Done():
		return true
	default:
		return false
	}
}
