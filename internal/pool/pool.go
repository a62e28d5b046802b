// Package pool runs blocking backend lookups on a fixed set of worker
// goroutines. Callers block on Submit while a worker does the work, so the
// backend never sees more simultaneous calls than there are workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/metrics"
	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/evyataryagoni/geoquery/internal/store"
)

const (
	DefaultSize          = 10
	DefaultLookupTimeout = 2 * time.Second

	// maxWaitFactor caps a submission's total wait at this many lookup timeouts
	maxWaitFactor = 2
)

// ErrClosed is reported for submissions after Close
var ErrClosed = errors.New("worker pool closed")

// Config sizes the pool
type Config struct {
	Size          int           // number of workers (default 10)
	QueueSize     int           // pending jobs before Submit blocks (default Size*4)
	LookupTimeout time.Duration // per backend call (default 2s)
	Metrics       *metrics.Metrics
}

type job struct {
	ctx      context.Context
	address  string
	deadline time.Time
	result   chan models.LookupResult
}

// Pool is a fixed-size worker pool in front of a blocking Store
type Pool struct {
	backend store.Store
	timeout time.Duration
	size    int
	logger  *logger.Logger
	metrics *metrics.Metrics

	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	inFlight atomic.Int64
	queued   atomic.Int64
}

// New starts cfg.Size workers; zero selects DefaultSize and a negative size is an error
func New(backend store.Store, cfg Config, log *logger.Logger) (*Pool, error) {
	if backend == nil {
		return nil, fmt.Errorf("worker pool requires a lookup backend")
	}
	if cfg.Size < 0 {
		return nil, fmt.Errorf("invalid worker pool size %d", cfg.Size)
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Size * 4
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}

	p := &Pool{
		backend: backend,
		timeout: cfg.LookupTimeout,
		size:    cfg.Size,
		logger:  log.WithComponent("LookupWorkerPool"),
		metrics: cfg.Metrics,
		jobs:    make(chan job, cfg.QueueSize),
	}

	p.wg.Add(cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		go p.worker()
	}

	p.logger.Info().
		Int("size", cfg.Size).
		Int("queue_size", cfg.QueueSize).
		Dur("lookup_timeout", cfg.LookupTimeout).
		Msg("Worker pool started")

	return p, nil
}

// Submit runs one lookup on a worker and waits for its result
//
// The wait, including time spent waiting for queue space, ends at the
// deadline even if the backend ignores its context; the worker slot stays
// busy until the backend returns.
func (p *Pool) Submit(ctx context.Context, address string) models.LookupResult {
	start := time.Now()

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return failure(address, ErrClosed.Error(), start)
	}

	// Each worker ahead of us may hold its slot for a full timeout
	ahead := p.addQueued(1) - 1
	j := job{
		ctx:      ctx,
		address:  address,
		deadline: start.Add(p.waitFor(ahead)),
		result:   make(chan models.LookupResult, 1),
	}

	timer := time.NewTimer(time.Until(j.deadline))
	defer timer.Stop()

	select {
	case p.jobs <- j:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.addQueued(-1)
		p.mu.RUnlock()
		return failure(address, "cancelled while waiting for a worker: "+ctx.Err().Error(), start)
	case <-timer.C:
		p.addQueued(-1)
		p.mu.RUnlock()
		p.logger.Warn().Str("address", address).Msg("No worker free before the lookup deadline")
		return failure(address, "lookup timed out waiting for a worker", start)
	}

	select {
	case res := <-j.result:
		return res
	case <-ctx.Done():
		return failure(address, "cancelled: "+ctx.Err().Error(), start)
	case <-timer.C:
		return failure(address, "lookup timed out", start)
	}
}

// waitFor is the total time a submission with ahead jobs in front of it may wait
func (p *Pool) waitFor(ahead int64) time.Duration {
	factor := 1 + ahead/int64(p.size)
	if factor > maxWaitFactor {
		factor = maxWaitFactor
	}
	return p.timeout * time.Duration(factor)
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for j := range p.jobs {
		p.addQueued(-1)

		// Skip jobs whose caller already gave up
		if j.ctx.Err() != nil || time.Now().After(j.deadline) {
			j.result <- models.NewErrorResult(j.address, models.ErrLookupFailure, "abandoned before dispatch")
			continue
		}

		p.addInFlight(1)
		res := p.run(j)
		p.addInFlight(-1)

		j.result <- res
	}
}

// run calls the backend with a timeout and converts every outcome into a result
func (p *Pool) run(j job) (res models.LookupResult) {
	start := time.Now()
	log := p.logger.WithAddress(j.address)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Lookup backend panicked")
			res = failure(j.address, fmt.Sprintf("backend panic: %v", r), start)
		}
	}()

	ctx, cancel := context.WithTimeout(j.ctx, p.timeout)
	defer cancel()

	location, err := p.backend.FindByIP(ctx, j.address)
	switch {
	case err == nil && location != nil:
		return models.LookupResult{
			Address:    j.address,
			Location:   *location,
			DurationMs: elapsedMs(start),
		}

	case errors.Is(err, store.ErrNotFound):
		log.Debug().Msg("Address not found in backend")
		return models.LookupResult{
			Address:    j.address,
			Error:      models.ErrAddressNotFound,
			Message:    store.ErrNotFound.Error(),
			DurationMs: elapsedMs(start),
		}

	case err == nil:
		err = fmt.Errorf("backend returned no location")
	}

	log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Lookup failed")
	return failure(j.address, err.Error(), start)
}

// Size returns the fixed number of workers
func (p *Pool) Size() int {
	return p.size
}

// InFlight returns how many backend calls are running right now
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Queued returns how many submissions are waiting for a worker
func (p *Pool) Queued() int {
	return int(p.queued.Load())
}

func (p *Pool) addQueued(delta int64) int64 {
	n := p.queued.Add(delta)
	if p.metrics != nil {
		p.metrics.WorkerPoolQueued.Add(float64(delta))
	}
	return n
}

func (p *Pool) addInFlight(delta int64) {
	p.inFlight.Add(delta)
	if p.metrics != nil {
		p.metrics.WorkerPoolInFlight.Add(float64(delta))
	}
}

// Close stops accepting work and lets workers drain the queue
//
// It waits at most two lookup timeouts; workers stuck in a backend call
// that ignores its context are left behind and reported in the error.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.timeout * maxWaitFactor)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info().Msg("Worker pool stopped")
		return nil
	case <-timer.C:
		stuck := p.InFlight()
		p.logger.Warn().Int("in_flight", stuck).Msg("Worker pool stopped with lookups still running")
		return fmt.Errorf("worker pool close: %d lookups still running", stuck)
	}
}

func failure(address, message string, start time.Time) models.LookupResult {
	res := models.NewErrorResult(address, models.ErrLookupFailure, message)
	res.DurationMs = elapsedMs(start)
	return res
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
