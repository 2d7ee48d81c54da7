// Package sweep walks a token ID range against an inference endpoint,
// persisting results through the checkpoint store so interrupted runs resume
// exactly where the last flush left off. Probes run on a bounded worker
// pool; results commit strictly in id order, so last_completed_id never
// advances over a gap.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tokenlens/internal/checkpoint"
	"tokenlens/internal/probe"
)

// State is the engine's lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateResuming
	StateProbing
	StateBackoff
	StateCheckpointing
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResuming:
		return "resuming"
	case StateProbing:
		return "probing"
	case StateBackoff:
		return "backoff"
	case StateCheckpointing:
		return "checkpointing"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ErrInterrupted reports a sweep stopped before reaching end_id. The
// checkpoint on disk is valid and resumable.
var ErrInterrupted = errors.New("sweep interrupted before completion")

// Config holds all sweep tuning knobs. Every rate and retry bound is
// configuration, never a hidden constant.
type Config struct {
	StartID int
	EndID   int

	// Concurrency is the number of outstanding probe requests (>= 1).
	Concurrency int

	// BatchSize is how many processed ids accumulate between checkpoint
	// flushes.
	BatchSize int

	// MaxRetries bounds transient-failure retries per id before the id is
	// recorded as failed and the sweep moves on.
	MaxRetries int

	// BackoffBase doubles per retry attempt, capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the documented retry/backoff bounds: 5 retries per
// id, 500ms exponential backoff capped at 30s, batches of 100.
func DefaultConfig(startID, endID int) Config {
	return Config{
		StartID:     startID,
		EndID:       endID,
		Concurrency: 1,
		BatchSize:   100,
		MaxRetries:  5,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}
}

func (c Config) validate() error {
	if c.StartID < 0 {
		return fmt.Errorf("start_id must be >= 0, got %d", c.StartID)
	}
	if c.EndID < c.StartID {
		return fmt.Errorf("end_id %d is below start_id %d", c.EndID, c.StartID)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// Stats summarizes one Run.
type Stats struct {
	StartedAt time.Time
	Elapsed   time.Duration
	Processed int64 // ids probed this run
	Resolved  int64
	Empty     int64
	Failed    int64
	Skipped   int64 // ids already present in the loaded checkpoint
	Retries   int64
}

// TokensPerSecond is the processing rate over the run so far.
func (s Stats) TokensPerSecond() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Processed) / secs
}

// Engine orchestrates prober and store across an ID range.
type Engine struct {
	prober probe.Prober
	store  *checkpoint.Store
	cfg    Config
	logger *zap.Logger

	state     atomic.Int32
	startedAt time.Time
	processed atomic.Int64
	resolved  atomic.Int64
	empty     atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	retries   atomic.Int64
}

// New creates a sweep engine. The store must already be opened for the
// model being swept.
func New(prober probe.Prober, store *checkpoint.Store, cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid sweep config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{prober: prober, store: store, cfg: cfg, logger: logger}, nil
}

// State returns the engine's current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Stats returns a snapshot of the run counters.
func (e *Engine) Stats() Stats {
	elapsed := time.Duration(0)
	if !e.startedAt.IsZero() {
		elapsed = time.Since(e.startedAt)
	}
	return Stats{
		StartedAt: e.startedAt,
		Elapsed:   elapsed,
		Processed: e.processed.Load(),
		Resolved:  e.resolved.Load(),
		Empty:     e.empty.Load(),
		Failed:    e.failed.Load(),
		Skipped:   e.skipped.Load(),
		Retries:   e.retries.Load(),
	}
}

// Run sweeps [StartID, EndID], resuming from any loaded checkpoint. Per-id
// probe failures never escape; only checkpoint I/O errors are fatal. A
// cancelled context drains in-flight work, flushes the gap-free prefix, and
// returns ErrInterrupted.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	e.startedAt = time.Now()
	e.setState(StateResuming)

	mapped := e.store.Mapping()
	progress := e.store.Progress()

	effectiveStart := e.cfg.StartID
	if e.store.Loaded() && progress.LastCompletedID >= e.cfg.StartID {
		effectiveStart = progress.LastCompletedID + 1
	}
	e.store.Begin(uuid.NewString(), e.cfg.StartID, e.cfg.EndID)

	e.logger.Info("starting sweep",
		zap.String("model", progress.ModelName),
		zap.Int("start_id", e.cfg.StartID),
		zap.Int("end_id", e.cfg.EndID),
		zap.Int("effective_start", effectiveStart),
		zap.Int("already_mapped", len(mapped)),
		zap.Int("concurrency", e.cfg.Concurrency))

	if effectiveStart > e.cfg.EndID {
		if err := e.store.Flush(); err != nil {
			e.setState(StateAborted)
			return e.Stats(), fmt.Errorf("checkpoint flush failed: %w", err)
		}
		e.setState(StateCompleted)
		return e.Stats(), nil
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	jobs := make(chan int)
	results := make(chan checkpoint.TokenRecord, e.cfg.Concurrency)

	g, gctx := errgroup.WithContext(runCtx)

	// Producer: feed unmapped ids in increasing order.
	g.Go(func() error {
		defer close(jobs)
		for id := effectiveStart; id <= e.cfg.EndID; id++ {
			if _, ok := mapped[id]; ok {
				continue // committer accounts for the skip
			}
			select {
			case jobs <- id:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	// Workers: probe with bounded retry. Ids abandoned mid-probe on
	// cancellation produce no result and get re-probed on resume.
	e.setState(StateProbing)
	for i := 0; i < e.cfg.Concurrency; i++ {
		g.Go(func() error {
			for id := range jobs {
				rec, ok := e.probeWithRetry(gctx, id)
				if !ok {
					return nil
				}
				select {
				case results <- rec:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	// Committer: the single writer to the store. Records commit strictly
	// in id order so no gap is ever checkpointed as done.
	next, commitErr := e.commit(results, mapped, effectiveStart, cancelRun)

	cancelRun()
	_ = g.Wait()

	if commitErr != nil {
		e.setState(StateAborted)
		return e.Stats(), commitErr
	}

	e.setState(StateCheckpointing)
	e.store.Advance(next - 1)
	if err := e.store.Flush(); err != nil {
		e.setState(StateAborted)
		return e.Stats(), fmt.Errorf("checkpoint flush failed (last durable id %d): %w",
			e.store.Progress().LastCompletedID, err)
	}

	stats := e.Stats()
	if next <= e.cfg.EndID {
		e.setState(StateAborted)
		e.logStats("sweep interrupted", stats, next-1)
		return stats, fmt.Errorf("%w: resumable from id %d", ErrInterrupted, next)
	}

	e.setState(StateCompleted)
	e.logStats("sweep completed", stats, e.cfg.EndID)
	return stats, nil
}

// commit consumes out-of-order results and appends them to the store in id
// order, flushing every BatchSize processed ids. Returns the first id NOT
// durably accounted for.
func (e *Engine) commit(results <-chan checkpoint.TokenRecord, mapped checkpoint.Mapping, start int, cancelRun context.CancelFunc) (int, error) {
	pending := make(map[int]checkpoint.TokenRecord)
	next := start
	batchCount := 0

	for next <= e.cfg.EndID {
		if _, ok := mapped[next]; ok {
			e.skipped.Add(1)
			next++
			continue
		}

		rec, ok := pending[next]
		if !ok {
			incoming, more := <-results
			if !more {
				// Workers are gone and next never arrived: interrupted.
				return next, nil
			}
			pending[incoming.ID] = incoming
			continue
		}
		delete(pending, next)

		e.store.Append(rec)
		e.countRecord(rec)
		next++
		batchCount++

		if batchCount >= e.cfg.BatchSize {
			e.setState(StateCheckpointing)
			e.store.Advance(next - 1)
			if err := e.store.Flush(); err != nil {
				cancelRun()
				return next, fmt.Errorf("checkpoint flush failed (last durable id %d): %w",
					e.store.Progress().LastCompletedID, err)
			}
			e.logStats("checkpoint flushed", e.Stats(), next-1)
			batchCount = 0
			e.setState(StateProbing)
		}
	}
	return next, nil
}

func (e *Engine) countRecord(rec checkpoint.TokenRecord) {
	e.processed.Add(1)
	switch rec.Status {
	case checkpoint.StatusResolved:
		e.resolved.Add(1)
	case checkpoint.StatusEmpty:
		e.empty.Add(1)
	case checkpoint.StatusFailed:
		e.failed.Add(1)
	}
}

// probeWithRetry probes one id, retrying transient failures up to
// MaxRetries with capped exponential backoff. The second return is false
// when the id was abandoned due to cancellation and must be re-probed on
// resume.
func (e *Engine) probeWithRetry(ctx context.Context, id int) (checkpoint.TokenRecord, bool) {
	var lastReason error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return checkpoint.TokenRecord{}, false
		}

		out := e.prober.Probe(ctx, id)
		switch out.Kind {
		case probe.KindResolved:
			return checkpoint.TokenRecord{
				ID:     id,
				Text:   out.Text,
				Bytes:  []byte(out.Text),
				Status: checkpoint.StatusResolved,
			}, true

		case probe.KindEmpty:
			return checkpoint.TokenRecord{ID: id, Text: out.Text, Status: checkpoint.StatusEmpty}, true

		case probe.KindPermanent:
			e.logger.Debug("id permanently rejected, recording as empty",
				zap.Int("token_id", id), zap.Error(out.Reason))
			return checkpoint.TokenRecord{ID: id, Status: checkpoint.StatusEmpty}, true

		case probe.KindTransient:
			lastReason = out.Reason
			if ctx.Err() != nil {
				// The failure is our own cancellation, not the server's.
				return checkpoint.TokenRecord{}, false
			}
			if attempt == e.cfg.MaxRetries {
				break
			}
			e.retries.Add(1)
			delay := e.backoffDelay(attempt)
			e.logger.Warn("transient probe failure, backing off",
				zap.Int("token_id", id),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(out.Reason))
			e.setState(StateBackoff)
			if !sleepCtx(ctx, delay) {
				e.setState(StateProbing)
				return checkpoint.TokenRecord{}, false
			}
			e.setState(StateProbing)
		}
	}

	e.logger.Warn("retry budget exhausted, recording id as failed",
		zap.Int("token_id", id),
		zap.Int("max_retries", e.cfg.MaxRetries),
		zap.Error(lastReason))
	return checkpoint.TokenRecord{ID: id, Status: checkpoint.StatusFailed}, true
}

// backoffDelay doubles BackoffBase per attempt, capped at BackoffMax.
func (e *Engine) backoffDelay(attempt int) time.Duration {
	d := e.cfg.BackoffBase << uint(attempt)
	if d > e.cfg.BackoffMax || d <= 0 {
		return e.cfg.BackoffMax
	}
	return d
}

// sleepCtx waits for d, returning false if ctx fired first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) logStats(msg string, stats Stats, lastID int) {
	e.logger.Info(msg,
		zap.Int("last_completed_id", lastID),
		zap.Int64("processed", stats.Processed),
		zap.Int64("resolved", stats.Resolved),
		zap.Int64("empty", stats.Empty),
		zap.Int64("failed", stats.Failed),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("retries", stats.Retries),
		zap.Duration("elapsed", stats.Elapsed),
		zap.Float64("tokens_per_second", stats.TokensPerSecond()))
}
