// Copyright 2025 Kylix Project
//
// Validator Types - Membership records and sliding-window performance
// samples

package validators

import "time"

// Validator is one member of the active PoA validator set.
type Validator struct {
	ID        string
	PublicKey []byte
	VouchedBy string
	JoinedAt  time.Time
}

// Window holds the sliding-window performance samples for one validator.
type Window struct {
	RecentResults []bool  // front = most recent
	RecentTxTimes []int64 // microseconds, front = most recent
	LastActive    time.Time
}

// Snapshot is the read-only, derived view of a Window, computed on
// demand.
type Snapshot struct {
	ValidatorID            string
	TotalTransactions      int
	SuccessfulTransactions int
	FailureRate            float64
	AvgTxTimeMicros        float64
	LastActive             time.Time
}

func (w *Window) snapshot(id string) Snapshot {
	total := len(w.RecentResults)
	succ := 0
	for _, ok := range w.RecentResults {
		if ok {
			succ++
		}
	}
	failed := total - succ
	failureRate := 0.0
	if total > 0 {
		failureRate = float64(failed) / float64(total)
	}
	avg := 0.0
	if len(w.RecentTxTimes) > 0 {
		var sum int64
		for _, t := range w.RecentTxTimes {
			sum += t
		}
		avg = float64(sum) / float64(len(w.RecentTxTimes))
	}
	return Snapshot{
		ValidatorID:            id,
		TotalTransactions:      total,
		SuccessfulTransactions: succ,
		FailureRate:            failureRate,
		AvgTxTimeMicros:        avg,
		LastActive:             w.LastActive,
	}
}

// DefaultWindowSize bounds both sample windows unless configured
// otherwise.
const DefaultWindowSize = 100

// SentinelNoValidator is returned by CurrentValidator when the set is
// empty.
const SentinelNoValidator = ""

// Status is a read-only snapshot of the coordinator's membership state.
type Status struct {
	Validators []string
	NextIndex  int
}
