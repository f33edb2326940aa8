package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	workerQueueDepth = 64
	lockTTL          = 30 * time.Second
	lockRetryDelay   = 250 * time.Millisecond
)

// SettleFunc settles all due pending activities for one user.
type SettleFunc func(ctx context.Context, userID snowflake.ID) (int64, error)

type DispatcherParam struct {
	fx.In

	Log    *zap.Logger
	Locker *Locker `optional:"true"`
}

// Dispatcher fans settlement work out to one goroutine per user, so two
// settlements for the same user never interleave while different users
// settle concurrently. An optional redis lock extends the same guarantee
// across worker processes.
type Dispatcher struct {
	log    *zap.Logger
	locker *Locker

	settle SettleFunc

	mu      sync.Mutex
	workers map[snowflake.ID]chan struct{}
	closed  bool
	wg      sync.WaitGroup

	base   context.Context
	cancel context.CancelFunc
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:     p.Log.Named("settlement.dispatcher"),
		locker:  p.Locker,
		workers: make(map[snowflake.ID]chan struct{}),
		base:    base,
		cancel:  cancel,
	}
}

// Bind sets the settle handler. Bound once at startup, before any Enqueue.
func (d *Dispatcher) Bind(fn SettleFunc) {
	d.settle = fn
}

// Enqueue schedules a settlement pass for the user. Multiple enqueues while a
// pass is pending coalesce into a single extra pass.
func (d *Dispatcher) Enqueue(userID snowflake.ID) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	ch, ok := d.workers[userID]
	if !ok {
		ch = make(chan struct{}, workerQueueDepth)
		d.workers[userID] = ch
		d.wg.Add(1)
		go d.run(userID, ch)
	}
	d.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
		// Queue full; a pass is already pending and will pick up this work.
	}
}

// Drain stops accepting work and waits for in-flight settlements to finish.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.workers {
		close(ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
}

func (d *Dispatcher) run(userID snowflake.ID, ch <-chan struct{}) {
	defer d.wg.Done()
	for range ch {
		d.settleOne(userID)
	}
}

func (d *Dispatcher) settleOne(userID snowflake.ID) {
	if d.settle == nil {
		d.log.Error("settle handler not bound", zap.String("user_id", userID.String()))
		return
	}

	ctx, cancel := context.WithTimeout(d.base, lockTTL)
	defer cancel()

	release, err := d.acquire(ctx, userID)
	if err != nil {
		d.log.Warn("settlement lock not acquired",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return
	}
	defer release()

	if _, err := d.settle(ctx, userID); err != nil {
		d.log.Error("settlement failed",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}

// acquire takes the cross-process lock when redis is configured, retrying
// briefly; without redis the per-user goroutine is the only guard.
func (d *Dispatcher) acquire(ctx context.Context, userID snowflake.ID) (func(), error) {
	if d.locker == nil {
		return func() {}, nil
	}

	key := fmt.Sprintf("settlement:user:%s", userID.String())
	for {
		token, ok, err := d.locker.TryLock(ctx, key, lockTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := d.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					d.log.Warn("settlement lock release failed",
						zap.String("key", key),
						zap.Error(err),
					)
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}
