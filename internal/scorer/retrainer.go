package scorer

import (
	"context"
	"sync"
	"time"

	"github.com/himanishpuri/LoopProfiler/pkg/logger"
)

// RetrainFunc performs one retrain. It is never called concurrently with
// itself.
type RetrainFunc func(ctx context.Context) error

// Retrainer debounces and coalesces retrain requests: a burst of Trigger
// calls within the debounce window results in one run, and a Trigger
// during a run queues exactly one follow-up run.
type Retrainer struct {
	debounce time.Duration
	fn       RetrainFunc
	log      *logger.Logger

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}

	mu   sync.Mutex
	runs int
	last error
	once sync.Once
}

func NewRetrainer(debounce time.Duration, fn RetrainFunc, log *logger.Logger) *Retrainer {
	if log == nil {
		log = logger.Nop()
	}
	return &Retrainer{
		debounce: debounce,
		fn:       fn,
		log:      log.With("retrain"),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the worker until ctx is done or Stop is called.
func (r *Retrainer) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Trigger requests a retrain. It never blocks.
func (r *Retrainer) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the worker. A request still pending is run first so no
// feedback is left untrained.
func (r *Retrainer) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

// Runs is the number of completed retrains.
func (r *Retrainer) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// LastErr is the error of the most recent run.
func (r *Retrainer) LastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Retrainer) loop(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			r.drain(ctx)
			return
		case <-r.trigger:
		}

		if !r.settle(ctx) {
			r.run(ctx)
			return
		}
		r.run(ctx)
	}
}

// settle waits until no trigger arrived for a full debounce window. It
// returns false if the worker should exit after the pending run.
func (r *Retrainer) settle(ctx context.Context) bool {
	if r.debounce <= 0 {
		return true
	}
	timer := time.NewTimer(r.debounce)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case <-r.trigger:
			timer.Reset(r.debounce)
		case <-r.stop:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (r *Retrainer) drain(ctx context.Context) {
	select {
	case <-r.trigger:
		r.run(ctx)
	default:
	}
}

func (r *Retrainer) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := r.fn(ctx)
	if err != nil {
		r.log.Fields(logger.WARN, "retrain failed", "err", err)
	}
	r.mu.Lock()
	r.runs++
	r.last = err
	r.mu.Unlock()
}
