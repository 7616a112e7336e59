package matcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/record"
)

// DefaultBatchSize is the number of candidates handed to a worker at once.
// It affects throughput only, never the result.
const DefaultBatchSize = 1000

// Engine joins candidates to permits on a bounded pool of workers
type Engine struct {
	Workers   int
	BatchSize int

	logger     *zap.Logger
	metrics    *Metrics
	localDebug bool
}

// CandidateBatch is a disjoint slice of candidates processed as one unit
type CandidateBatch struct {
	ID         int
	Candidates []Candidate
}

// BatchResult is the self-contained output of one batch
type BatchResult struct {
	BatchID        int
	CandidateCount int
	Pairs          []record.MatchPair
	ProcessTime    time.Duration
}

// NewEngine creates an engine; non-positive sizes fall back to defaults
func NewEngine(workers, batchSize int, logger *zap.Logger, metrics *Metrics) *Engine {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		Workers:   workers,
		BatchSize: batchSize,
		logger:    debug.OrNop(logger),
		metrics:   metrics,
	}
}

// SetDebug toggles tracing of the join keys
func (e *Engine) SetDebug(enabled bool) {
	e.localDebug = enabled
}

// CreateBatches splits candidates into batches of at most batchSize
func CreateBatches(candidates []Candidate, batchSize int) []CandidateBatch {
	var batches []CandidateBatch

	for i := 0; i < len(candidates); i += batchSize {
		end := i + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		batches = append(batches, CandidateBatch{
			ID:         len(batches) + 1,
			Candidates: candidates[i:end],
		})
	}

	return batches
}

// MatchBatch scans the permit index for every candidate in the batch and
// emits one pair per matching permit. It only reads shared state.
func MatchBatch(candidates []Candidate, permits *PermitIndex) ([]record.MatchPair, error) {
	var pairs []record.MatchPair
	for _, c := range candidates {
		for _, permit := range permits.Lookup(c.Key) {
			encoded, err := permit.JSON()
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, record.MatchPair{Property: c.Raw, Permit: encoded})
		}
	}
	return pairs, nil
}

// Match runs every batch on the worker pool and concatenates the results in
// completion order. The order of the returned pairs carries no meaning. If
// any batch fails the whole run fails.
func (e *Engine) Match(ctx context.Context, region string, candidates []Candidate, permits *PermitIndex) ([]record.MatchPair, error) {
	batches := CreateBatches(candidates, e.BatchSize)
	if len(batches) == 0 {
		return nil, nil
	}

	e.logger.Info("matching candidates",
		zap.String("region", region),
		zap.Int("candidates", len(candidates)),
		zap.Int("batches", len(batches)),
		zap.Int("workers", e.Workers))

	results := make(chan BatchResult, len(batches))
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Workers)

	for _, batch := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			pairs, err := MatchBatch(batch.Candidates, permits)
			if err != nil {
				return fmt.Errorf("batch %d: %w", batch.ID, err)
			}

			result := BatchResult{
				BatchID:        batch.ID,
				CandidateCount: len(batch.Candidates),
				Pairs:          pairs,
				ProcessTime:    time.Since(start),
			}
			e.metrics.ObserveBatch(region, result.ProcessTime)
			results <- result

			if n := completed.Add(1); n%10 == 0 {
				e.logger.Info("batch progress",
					zap.String("region", region),
					zap.Int64("batches_done", n),
					zap.Int("batches_total", len(batches)))
			}
			return nil
		})
	}

	err := g.Wait()
	close(results)
	if err != nil {
		return nil, fmt.Errorf("matching %s: %w", region, err)
	}

	var all []record.MatchPair
	for result := range results {
		all = append(all, result.Pairs...)
	}
	return all, nil
}
