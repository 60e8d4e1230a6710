// Copyright 2025 Kylix Project
//
// Transaction Queue - Ticker-driven batched dispatch of asynchronous
// submissions

package txqueue

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anusornc/kylix/pkg/validators"
)

// Admitter is the subset of the blockchain server the queue needs.
// Taking it as an interface (rather than importing pkg/chainserver
// directly) breaks the queue->server->coordinator->queue construction
// cycle with dependency injection resolved at construction time.
type Admitter interface {
	AddTransaction(subject, predicate, object, validatorID string, signature []byte) (string, error)
}

// Queue is a multiple-submitter, single-processor FIFO. Submitters get an
// opaque reference immediately; a ticker-driven loop drains the queue in
// bounded batches.
type Queue struct {
	mu sync.Mutex

	items    []Submission
	statuses map[string]*Status

	admitter    Admitter
	coordinator *validators.Coordinator

	cfg Config

	stats Stats

	logger *log.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	telemetry *telemetry
}

// New constructs a queue over an admitter and a validator coordinator,
// using cfg's batch size and processing interval.
func New(admitter Admitter, coordinator *validators.Coordinator, cfg Config) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.ProcessingInterval <= 0 {
		cfg.ProcessingInterval = DefaultConfig().ProcessingInterval
	}
	return &Queue{
		statuses:    make(map[string]*Status),
		admitter:    admitter,
		coordinator: coordinator,
		cfg:         cfg,
		logger:      log.New(os.Stderr, "txqueue: ", log.LstdFlags),
		telemetry:   newTelemetry(),
	}
}

// Submit enqueues a new admission request and returns its opaque
// reference immediately.
func (q *Queue) Submit(subject, predicate, object, validatorID string, signature []byte) string {
	ref := uuid.NewString()
	now := time.Now().UTC()

	q.mu.Lock()
	q.items = append(q.items, Submission{
		Ref:         ref,
		Subject:     subject,
		Predicate:   predicate,
		Object:      object,
		ValidatorID: validatorID,
		Signature:   signature,
		SubmittedAt: now,
	})
	q.statuses[ref] = &Status{State: StatusPending, SubmittedAt: now}
	q.stats.Submitted++
	q.mu.Unlock()

	q.telemetry.submitted.Inc()
	return ref
}

// GetTransactionStatus returns the current status for ref, or false if
// unknown.
func (q *Queue) GetTransactionStatus(ref string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[ref]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// SetProcessingRate updates the batch size and interval. Takes effect on
// the next tick.
func (q *Queue) SetProcessingRate(batchSize int, interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if batchSize > 0 {
		q.cfg.BatchSize = batchSize
	}
	if interval > 0 {
		q.cfg.ProcessingInterval = interval
	}
}

// Clear drops all queued items and status history. A submission that has
// already been dispatched to an admission task in flight is unaffected.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.statuses = make(map[string]*Status)
	q.stats = Stats{}
}

// Status returns a read-only snapshot of the queue's running counters.
func (q *Queue) Status() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	for _, st := range q.statuses {
		switch st.State {
		case StatusPending:
			s.PendingCount++
		case StatusCompleted:
			s.CompletedCount++
		}
	}
	return s
}

// Start launches the ticker-driven processing loop. Call Stop (or cancel
// ctx) to halt it; Start is safe to call at most once per Queue.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})

	ticker := time.NewTicker(q.currentInterval())
	go func() {
		defer close(q.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.processBatch()
				ticker.Reset(q.currentInterval())
			}
		}
	}()
}

// Stop halts the processing loop and waits for the in-flight tick to
// finish.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
}

func (q *Queue) currentInterval() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg.ProcessingInterval
}

type dispatchResult struct {
	ref  string
	txID string
	err  error
}

// processBatch drains up to batch_size entries, overrides each entry's
// validator with the coordinator's round-robin pick, and dispatches the
// admission calls concurrently.
func (q *Queue) processBatch() {
	q.mu.Lock()
	n := q.cfg.BatchSize
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := append([]Submission(nil), q.items[:n]...)
	q.items = q.items[n:]
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	results := make(chan dispatchResult, len(batch))
	var wg sync.WaitGroup
	for _, sub := range batch {
		sub := sub
		sub.ValidatorID = q.coordinator.CurrentValidator()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- dispatchResult{ref: sub.Ref, err: fmt.Errorf("processing_failed: %v", r)}
				}
			}()
			txID, err := q.admitter.AddTransaction(sub.Subject, sub.Predicate, sub.Object, sub.ValidatorID, sub.Signature)
			results <- dispatchResult{ref: sub.Ref, txID: txID, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		q.deliver(res)
	}
}

// deliver merges one task's result back into statuses and stats.
func (q *Queue) deliver(res dispatchResult) {
	now := time.Now().UTC()

	q.mu.Lock()
	q.statuses[res.ref] = &Status{
		State:       StatusCompleted,
		CompletedAt: now,
		TxID:        res.txID,
		Err:         res.err,
	}
	q.stats.Processed++
	if res.err != nil {
		q.stats.Failed++
	}
	q.stats.LastProcessedAt = now
	q.mu.Unlock()

	if res.err != nil {
		q.logger.Printf("ref %s failed: %v", res.ref, res.err)
		q.telemetry.failed.Inc()
	} else {
		q.telemetry.processed.Inc()
	}
}
