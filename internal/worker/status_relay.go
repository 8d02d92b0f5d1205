package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scout-sync/internal/logging"
)

// StatusPublisher pushes sync state to other processes
type StatusPublisher interface {
	PublishStatus(ctx context.Context, state SyncState) error
}

// StatusRelay forwards synchronizer state to a publisher from its own
// goroutine. Only the latest state is kept, so a slow publisher never
// blocks a drain pass.
type StatusRelay struct {
	source    *Synchronizer
	publisher StatusPublisher
	timeout   time.Duration
	logger    *logging.Logger

	latest chan SyncState

	mu          sync.Mutex
	running     bool
	unsubscribe func()
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewStatusRelay creates a relay from source to publisher
func NewStatusRelay(source *Synchronizer, publisher StatusPublisher) *StatusRelay {
	return &StatusRelay{
		source:    source,
		publisher: publisher,
		timeout:   2 * time.Second,
		logger:    logging.WithComponent("status-relay"),
		latest:    make(chan SyncState, 1),
	}
}

// Start subscribes to the synchronizer and begins publishing
func (r *StatusRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("status relay is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	r.unsubscribe = r.source.Subscribe(r.offer)
	go r.loop(ctx, r.stopCh, r.doneCh)
	return nil
}

// Stop unsubscribes and waits for the publishing goroutine
func (r *StatusRelay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.unsubscribe()
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offer replaces any unpublished state with state
func (r *StatusRelay) offer(state SyncState) {
	for {
		select {
		case r.latest <- state:
			return
		default:
		}
		select {
		case <-r.latest:
		default:
		}
	}
}

func (r *StatusRelay) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case state := <-r.latest:
			pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
			if err := r.publisher.PublishStatus(pubCtx, state); err != nil {
				r.logger.WithError(err).Debug("Failed to publish sync status")
			}
			cancel()
		}
	}
}
