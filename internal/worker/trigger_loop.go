package worker

import (
	"context"
	"fmt"
	"time"
)

// Start subscribes to connectivity and the pending count and runs drain
// passes whenever the device is online with work queued. Entries left in
// syncing by a previous run are failed first.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return fmt.Errorf("synchronizer is already running")
	}

	if _, err := s.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted entries: %w", err)
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	lastCount := -1
	s.unsubs = []func(){
		s.connectivity.Subscribe(func(online bool) {
			if online {
				s.Trigger()
			}
			s.publish()
		}),
		s.queue.Subscribe(func(count int) {
			grew := lastCount >= 0 && count > lastCount
			lastCount = count
			if grew && s.connectivity.IsOnline() {
				s.Trigger()
			}
			s.publish()
		}),
	}

	s.logger.WithField("maxRetryAttempts", s.maxAttempts).Info("Synchronizer started")
	go s.triggerLoop(ctx, s.stopCh, s.doneCh)
	return nil
}

// Stop unsubscribes and waits for a running pass to finish
func (s *Synchronizer) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return fmt.Errorf("synchronizer is not running")
	}
	s.running = false
	for _, unsubscribe := range s.unsubs {
		unsubscribe()
	}
	s.unsubs = nil
	stopCh, doneCh := s.stopCh, s.doneCh
	s.runMu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		s.logger.Info("Synchronizer stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Synchronizer stop timed out")
		return ctx.Err()
	}
}

// Trigger asks the loop to consider a drain pass. Triggers coalesce.
func (s *Synchronizer) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) triggerLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.triggerCh:
		case <-timer.C:
		}

		if wait := s.backoff.Remaining(s.now()); wait > 0 {
			timer.Reset(wait)
			continue
		}

		if !s.connectivity.IsOnline() || s.queue.PendingCount() == 0 {
			continue
		}

		// Stop interrupts a pass between entries
		passCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-stopCh:
				cancel()
			case <-passCtx.Done():
			}
		}()
		result, err := s.SyncPending(passCtx)
		cancel()

		switch {
		case err != nil:
			delay := s.backoff.Failure(s.now())
			s.logger.WithError(err).WithField("retryIn", delay.String()).Error("Drain pass failed")
			timer.Reset(delay)
		case result.Skipped:
		case result.Failed > 0 || result.Halted:
			delay := s.backoff.Failure(s.now())
			s.logger.WithFields(map[string]interface{}{
				"failed":  result.Failed,
				"halted":  result.Halted,
				"retryIn": delay.String(),
			}).Warn("Drain pass incomplete, backing off")
			timer.Reset(delay)
		default:
			s.backoff.Success()
		}
	}
}
