// Copyright 2025 Kylix Project
//
// Unit tests for the transaction queue

package txqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anusornc/kylix/pkg/validators"
)

// recordingAdmitter is a fake admitter that records the validator each
// call was assigned and returns a deterministic tx id in call order.
type recordingAdmitter struct {
	mu         sync.Mutex
	validators []string
	next       int
}

func (a *recordingAdmitter) AddTransaction(subject, predicate, object, validatorID string, signature []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := fmt.Sprintf("tx%d", a.next)
	a.next++
	a.validators = append(a.validators, validatorID)
	return id, nil
}

func seededCoordinator(t *testing.T, ids ...string) *validators.Coordinator {
	t.Helper()
	c := validators.NewCoordinator(validators.Config{ConfigDir: t.TempDir(), WindowSize: 100})
	for _, id := range ids {
		if err := c.Seed(id, []byte(id)); err != nil {
			t.Fatalf("Seed(%s): %v", id, err)
		}
	}
	return c
}

func TestSubmitAssignsPendingStatus(t *testing.T) {
	coord := seededCoordinator(t, "agent1")
	admitter := &recordingAdmitter{}
	q := New(admitter, coord, DefaultConfig())

	ref := q.Submit("s", "p", "o", "ignored", []byte("sig"))

	st, ok := q.GetTransactionStatus(ref)
	if !ok {
		t.Fatal("expected a status for a freshly submitted ref")
	}
	if st.State != StatusPending {
		t.Fatalf("expected pending, got %v", st.State)
	}
}

func TestGetTransactionStatusUnknownRef(t *testing.T) {
	q := New(&recordingAdmitter{}, seededCoordinator(t, "agent1"), DefaultConfig())
	if _, ok := q.GetTransactionStatus("does-not-exist"); ok {
		t.Fatal("expected no status for an unknown ref")
	}
}

func TestProcessBatchOverridesValidatorRoundRobin(t *testing.T) {
	coord := seededCoordinator(t, "agent1", "agent2", "agent3")
	admitter := &recordingAdmitter{}
	q := New(admitter, coord, Config{BatchSize: 10, ProcessingInterval: time.Hour})

	var refs []string
	for i := 0; i < 6; i++ {
		refs = append(refs, q.Submit("s", "p", "o", "whatever-the-submitter-said", []byte("sig")))
	}

	q.processBatch()

	admitter.mu.Lock()
	got := append([]string(nil), admitter.validators...)
	admitter.mu.Unlock()

	// Assignment is round-robin but dispatch is concurrent, so the
	// admitter observes the calls in nondeterministic order; assert the
	// per-validator counts instead of positions.
	if len(got) != 6 {
		t.Fatalf("expected 6 dispatched admissions, got %d", len(got))
	}
	counts := map[string]int{}
	for _, v := range got {
		counts[v]++
	}
	for _, id := range []string{"agent1", "agent2", "agent3"} {
		if counts[id] != 2 {
			t.Fatalf("expected validator %s assigned exactly twice, got %d (full: %v)", id, counts[id], got)
		}
	}

	for _, ref := range refs {
		st, ok := q.GetTransactionStatus(ref)
		if !ok || st.State != StatusCompleted {
			t.Fatalf("ref %s: expected completed status, got %+v (ok=%v)", ref, st, ok)
		}
	}
}

func TestStatsReflectProcessing(t *testing.T) {
	coord := seededCoordinator(t, "agent1")
	q := New(&recordingAdmitter{}, coord, Config{BatchSize: 10, ProcessingInterval: time.Hour})

	q.Submit("s", "p", "o", "x", []byte("sig"))
	q.Submit("s", "p", "o", "x", []byte("sig"))
	q.processBatch()

	stats := q.Status()
	if stats.Submitted != 2 {
		t.Fatalf("expected submitted=2, got %d", stats.Submitted)
	}
	if stats.Processed != 2 {
		t.Fatalf("expected processed=2, got %d", stats.Processed)
	}
	if stats.CompletedCount != 2 {
		t.Fatalf("expected completed_count=2, got %d", stats.CompletedCount)
	}
}

func TestClearDropsQueueAndStatuses(t *testing.T) {
	coord := seededCoordinator(t, "agent1")
	q := New(&recordingAdmitter{}, coord, DefaultConfig())

	ref := q.Submit("s", "p", "o", "x", []byte("sig"))
	q.Clear()

	if _, ok := q.GetTransactionStatus(ref); ok {
		t.Fatal("Clear should drop prior submission statuses")
	}
	if stats := q.Status(); stats.Submitted != 0 {
		t.Fatalf("Clear should reset stats, got submitted=%d", stats.Submitted)
	}
}

func TestSetProcessingRate(t *testing.T) {
	coord := seededCoordinator(t, "agent1")
	q := New(&recordingAdmitter{}, coord, DefaultConfig())

	q.SetProcessingRate(5, 50*time.Millisecond)
	if q.cfg.BatchSize != 5 {
		t.Fatalf("expected batch size 5, got %d", q.cfg.BatchSize)
	}
	if q.cfg.ProcessingInterval != 50*time.Millisecond {
		t.Fatalf("expected interval 50ms, got %v", q.cfg.ProcessingInterval)
	}
}

// failingAdmitter always panics, exercising the recover-and-surface path in
// processBatch.
type failingAdmitter struct{}

func (failingAdmitter) AddTransaction(subject, predicate, object, validatorID string, signature []byte) (string, error) {
	panic("boom")
}

func TestProcessBatchRecoversPanics(t *testing.T) {
	coord := seededCoordinator(t, "agent1")
	q := New(failingAdmitter{}, coord, Config{BatchSize: 10, ProcessingInterval: time.Hour})

	ref := q.Submit("s", "p", "o", "x", []byte("sig"))
	q.processBatch()

	st, ok := q.GetTransactionStatus(ref)
	if !ok || st.State != StatusCompleted || st.Err == nil {
		t.Fatalf("expected a completed status carrying an error, got %+v (ok=%v)", st, ok)
	}
}

func TestStartStopProcessesOnTicks(t *testing.T) {
	coord := seededCoordinator(t, "agent1")
	admitter := &recordingAdmitter{}
	q := New(admitter, coord, Config{BatchSize: 10, ProcessingInterval: 10 * time.Millisecond})

	ref := q.Submit("s", "p", "o", "x", []byte("sig"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if st, ok := q.GetTransactionStatus(ref); ok && st.State == StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the ticker to process the submission")
		case <-time.After(10 * time.Millisecond):
		}
	}

	q.Stop()
}
