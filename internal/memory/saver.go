package memory

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// saver is the persistence actor: a dirty flag plus a scheduled flush,
// driven by explicit messages instead of ambient timer callbacks. Rapid
// mutations coalesce into one write of the latest snapshot; Flush and Close
// drain synchronously for shutdown paths.
type saver struct {
	dirtyCh   chan struct{}
	flushCh   chan chan error
	closeCh   chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closeErr  error
	delay     time.Duration
	save      func() error
	logger    *zap.Logger
}

func newSaver(delay time.Duration, save func() error, logger *zap.Logger) *saver {
	s := &saver{
		dirtyCh: make(chan struct{}, 1),
		flushCh: make(chan chan error),
		closeCh: make(chan struct{}),
		stopped: make(chan struct{}),
		delay:   delay,
		save:    save,
		logger:  logger,
	}
	go s.loop()
	return s
}

// MarkDirty records that the store changed. The first signal in a quiet
// period schedules a flush one delay later; signals landing inside the
// window are absorbed by it.
func (s *saver) MarkDirty() {
	select {
	case s.dirtyCh <- struct{}{}:
	default:
		// a signal is already pending; this mutation rides along
	}
}

// Flush writes the current snapshot now if anything is pending. Returns nil
// after Close since the close path already drained.
func (s *saver) Flush() error {
	reply := make(chan error, 1)
	select {
	case s.flushCh <- reply:
		return <-reply
	case <-s.stopped:
		return s.closeErr
	}
}

// Close drains any pending write and stops the actor. Idempotent.
func (s *saver) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
	<-s.stopped
	return s.closeErr
}

func (s *saver) loop() {
	defer close(s.stopped)

	var timer *time.Timer
	var timerC <-chan time.Time
	dirty := false

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-s.dirtyCh:
			dirty = true
			if timer == nil {
				timer = time.NewTimer(s.delay)
				timerC = timer.C
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if dirty {
				dirty = false
				if err := s.save(); err != nil {
					s.logger.Warn("debounced save failed", zap.Error(err))
				}
			}

		case reply := <-s.flushCh:
			stopTimer()
			// absorb a dirty signal that raced the flush request
			select {
			case <-s.dirtyCh:
				dirty = true
			default:
			}
			var err error
			if dirty {
				dirty = false
				err = s.save()
			}
			reply <- err

		case <-s.closeCh:
			stopTimer()
			// absorb a dirty signal racing with close
			select {
			case <-s.dirtyCh:
				dirty = true
			default:
			}
			if dirty {
				s.closeErr = s.save()
			}
			// answer flushers racing with close
			for {
				select {
				case reply := <-s.flushCh:
					reply <- s.closeErr
				default:
					return
				}
			}
		}
	}
}
