package queue

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
)

// ProcessExclusive runs Process while holding a Redis lease, so only one
// consumer per queue is active across processes. Standby consumers wait for
// the lease; a consumer that loses it stops claiming jobs and goes back to
// waiting.
func (q *Queue) ProcessExclusive(ctx context.Context, rs *redsync.Redsync, ttl time.Duration, h Handler) error {
	mutex := rs.NewMutex(
		q.keys.consumer,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	for ctx.Err() == nil {
		if err := mutex.LockContext(ctx); err != nil {
			q.log.WithError(err).Debug("consumer lease held elsewhere")
			sleep(ctx, ttl/2)
			continue
		}

		q.log.Info("consumer lease acquired")
		if n, err := q.Recover(ctx); err != nil {
			q.log.WithError(err).Error("recovering active jobs failed")
		} else if n > 0 {
			q.log.WithField("count", n).Warn("recovered jobs from a previous consumer")
		}

		q.holdLease(ctx, mutex, ttl, h)

		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			q.log.WithError(err).Debug("releasing consumer lease")
		}
	}
	return nil
}

func (q *Queue) holdLease(ctx context.Context, mutex *redsync.Mutex, ttl time.Duration, h Handler) {
	leaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				ok, err := mutex.ExtendContext(leaseCtx)
				if err != nil || !ok {
					if leaseCtx.Err() == nil {
						q.log.WithError(err).Warn("consumer lease lost")
					}
					cancel()
					return
				}
			}
		}
	}()

	_ = q.Process(leaseCtx, h)
}
