// Package queue is a durable at-least-once work queue on Redis lists.
//
// Jobs are pushed to the waiting list and claimed by moving them to the
// active list, so a crashed consumer leaves its job recoverable. Failed
// jobs wait in a sorted set until their backoff expires and are then
// pushed back to waiting. Jobs that exhaust their attempts land in the
// failed list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/clock"
)

// Job is one enqueued payload. Payload is carried byte for byte.
type Job struct {
	ID         string    `json:"id"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// Handler processes a job. Returning an error wrapped with Permanent
// acknowledges the job without retrying; any other error retries it.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PollTimeout    time.Duration
	PromoteBatch   int
	Clock          clock.Clock
	Log            *logrus.Logger
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 2 * time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = time.Second
	}
	if o.PromoteBatch <= 0 {
		o.PromoteBatch = 100
	}
	if o.Clock == nil {
		o.Clock = clock.NewSystem()
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
}

type keys struct {
	waiting  string
	active   string
	delayed  string
	failed   string
	consumer string
}

type Queue struct {
	client *redis.Client
	name   string
	keys   keys
	opts   Options
	log    *logrus.Entry
}

func New(client *redis.Client, name string, opts Options) *Queue {
	opts.defaults()
	prefix := "relay:" + name + ":"
	return &Queue{
		client: client,
		name:   name,
		keys: keys{
			waiting:  prefix + "waiting",
			active:   prefix + "active",
			delayed:  prefix + "delayed",
			failed:   prefix + "failed",
			consumer: prefix + "consumer",
		},
		opts: opts,
		log:  opts.Log.WithField("queue", name),
	}
}

// Enqueue stores payload as a new job and returns once Redis has it.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) (*Job, error) {
	job := &Job{
		ID:         uuid.NewString(),
		Payload:    append([]byte(nil), payload...),
		EnqueuedAt: q.opts.Clock.Now(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	if err := q.client.LPush(ctx, q.keys.waiting, data).Err(); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	return job, nil
}

var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// promoteDelayed moves retries whose backoff has passed back to waiting.
func (q *Queue) promoteDelayed(ctx context.Context) (int, error) {
	now := strconv.FormatInt(q.opts.Clock.Now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.keys.delayed, q.keys.waiting},
		now, q.opts.PromoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// ProcessNext claims at most one job and runs h on it. It reports whether a
// job was claimed. Handler failures are recorded on the job, not returned.
func (q *Queue) ProcessNext(ctx context.Context, h Handler) (bool, error) {
	if _, err := q.promoteDelayed(ctx); err != nil {
		return false, err
	}

	raw, err := q.client.BLMove(ctx, q.keys.waiting, q.keys.active, "RIGHT", "LEFT", q.opts.PollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	// Bookkeeping must finish even when the consumer is shutting down.
	bg := context.WithoutCancel(ctx)

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.log.WithError(err).Error("unreadable job moved to failed")
		return true, q.moveToFailed(bg, raw, raw)
	}

	job.Attempts++
	logger := q.log.WithFields(logrus.Fields{"job_id": job.ID, "attempt": job.Attempts})

	herr := h.Handle(ctx, &job)
	switch {
	case herr == nil:
		logger.Debug("job done")
		return true, q.ack(bg, raw)
	case IsPermanent(herr):
		logger.WithError(herr).Warn("job rejected, not retrying")
		return true, q.ack(bg, raw)
	}

	job.LastError = herr.Error()
	data, err := json.Marshal(job)
	if err != nil {
		return true, err
	}

	if job.Attempts >= q.opts.MaxAttempts {
		logger.WithError(herr).Error("job exhausted its attempts")
		return true, q.moveToFailed(bg, raw, string(data))
	}

	delay := q.backoff(job.Attempts)
	logger.WithError(herr).WithField("retry_in", delay).Warn("job failed, will retry")
	return true, q.retryLater(bg, raw, string(data), delay)
}

func (q *Queue) ack(ctx context.Context, raw string) error {
	if err := q.client.LRem(ctx, q.keys.active, 1, raw).Err(); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

func (q *Queue) retryLater(ctx context.Context, raw, updated string, delay time.Duration) error {
	at := q.opts.Clock.Now().Add(delay).UnixMilli()
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.keys.active, 1, raw)
		p.ZAdd(ctx, q.keys.delayed, redis.Z{Score: float64(at), Member: updated})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

func (q *Queue) moveToFailed(ctx context.Context, raw, updated string) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.keys.active, 1, raw)
		p.LPush(ctx, q.keys.failed, updated)
		return nil
	})
	if err != nil {
		return fmt.Errorf("move job to failed: %w", err)
	}
	return nil
}

// backoff returns the wait before the given attempt is retried: the initial
// interval doubled per attempt, capped at MaxBackoff.
func (q *Queue) backoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.InitialBackoff
	b.MaxInterval = q.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.InitialInterval
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Recover returns jobs left in the active list by a consumer that died
// mid-job to the head of the waiting list, oldest first. Only call it while
// no other consumer runs.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.keys.active, q.keys.waiting, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover active jobs: %w", err)
		}
		n++
	}
}

// RequeueFailed moves dead-lettered jobs back to waiting with a fresh
// attempt budget.
func (q *Queue) RequeueFailed(ctx context.Context) (int, error) {
	n := 0
	for {
		raw, err := q.client.RPop(ctx, q.keys.failed).Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("requeue failed jobs: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.log.WithError(err).Warn("dropping unreadable failed job")
			continue
		}
		job.Attempts = 0
		job.LastError = ""
		data, _ := json.Marshal(job)
		if err := q.client.LPush(ctx, q.keys.waiting, data).Err(); err != nil {
			return n, fmt.Errorf("requeue failed jobs: %w", err)
		}
		n++
	}
}

type Stats struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var waiting, active, delayed, failed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		waiting = p.LLen(ctx, q.keys.waiting)
		active = p.LLen(ctx, q.keys.active)
		delayed = p.ZCard(ctx, q.keys.delayed)
		failed = p.LLen(ctx, q.keys.failed)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

// Process claims and handles jobs until ctx is cancelled.
func (q *Queue) Process(ctx context.Context, h Handler) error {
	for ctx.Err() == nil {
		if _, err := q.ProcessNext(ctx, h); err != nil {
			if ctx.Err() != nil {
				break
			}
			q.log.WithError(err).Error("queue poll failed")
			sleep(ctx, q.opts.PollTimeout)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
