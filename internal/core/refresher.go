package core

import (
	"context"
	"sync"
	"time"
)

// Loader is the part of Service the Refresher drives.
type Loader interface {
	Load(ctx context.Context) (LoadResult, error)
}

// Refresher reloads the dataset on a fixed interval and on demand.
type Refresher struct {
	loader   Loader
	interval time.Duration
	timeout  time.Duration
	logger   Logger

	trigger chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRefresher constructs a refresher. An interval of zero disables periodic
// reloads; Trigger still works. timeout bounds each Load when positive.
func NewRefresher(loader Loader, interval, timeout time.Duration, logger Logger) *Refresher {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		loader:   loader,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs one load immediately, then keeps refreshing until Stop.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop signals the refresher to halt and waits for the running load, if any.
func (r *Refresher) Stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a reload. It never blocks and reports false when a request
// is already pending.
func (r *Refresher) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *Refresher) loop() {
	defer r.wg.Done()
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	r.run("startup")
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-tick:
			r.run("interval")
		case <-r.trigger:
			r.run("trigger")
		}
	}
}

func (r *Refresher) run(reason string) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	res, err := r.loader.Load(ctx)
	if err != nil {
		// Service already logged the failure.
		return
	}
	r.logger.Debug("dataset_refresh", "reason", reason, "changed", res.Changed, "source_key", res.SourceKey)
}
