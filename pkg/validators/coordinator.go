// Copyright 2025 Kylix Project
//
// Validator Coordinator - PoA membership with vouching, deterministic
// round-robin selection, and per-validator performance telemetry

package validators

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/anusornc/kylix/pkg/errs"
	"github.com/anusornc/kylix/pkg/hashsig"
)

// Coordinator is the serial actor that owns validator membership,
// round-robin selection, and performance telemetry. It is mutex-guarded
// rather than channel-driven; the single-writer discipline is the same
// either way.
type Coordinator struct {
	mu sync.Mutex

	order      []string
	index      int
	publicKeys map[string][]byte
	vouchedBy  map[string]string
	joinedAt   map[string]time.Time
	metrics    map[string]*Window

	configDir  string
	windowSize int
	logger     *log.Logger
	telemetry  *telemetry
}

// Config configures a Coordinator's construction-time defaults.
type Config struct {
	ConfigDir  string
	WindowSize int
}

// DefaultConfig returns the stock key directory and window size.
func DefaultConfig() Config {
	return Config{
		ConfigDir:  "config/validators",
		WindowSize: DefaultWindowSize,
	}
}

// NewCoordinator constructs a coordinator with no validators. Use Seed to
// load the initial roster at construction time (no voucher required);
// AddValidator always requires an existing voucher, including for the
// very first addition made after construction.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &Coordinator{
		publicKeys: make(map[string][]byte),
		vouchedBy:  make(map[string]string),
		joinedAt:   make(map[string]time.Time),
		metrics:    make(map[string]*Window),
		configDir:  cfg.ConfigDir,
		windowSize: cfg.WindowSize,
		logger:     log.New(os.Stderr, "validators: ", log.LstdFlags),
		telemetry:  newTelemetry(),
	}
}

// CurrentValidator returns the next validator in round-robin order and
// advances the internal index. On an empty set it returns
// SentinelNoValidator and logs.
func (c *Coordinator) CurrentValidator() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) == 0 {
		c.logger.Printf("current_validator called with empty validator set")
		return SentinelNoValidator
	}
	id := c.order[c.index]
	c.index = (c.index + 1) % len(c.order)
	return id
}

// AddValidator inserts id into the active set. vouchedBy must name an
// already-active validator; there is no bootstrap exception here. Use
// Seed at construction time to load the initial validator set (e.g. from
// configuration) without a voucher. The public key is persisted to
// <config_dir>/<id>.pub asynchronously and best-effort.
func (c *Coordinator) AddValidator(id string, pk []byte, vouchedBy string) error {
	c.mu.Lock()

	if _, exists := c.publicKeys[id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", errs.ErrValidatorExists, id)
	}
	if _, ok := c.publicKeys[vouchedBy]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: voucher %s", errs.ErrUnknownValidator, vouchedBy)
	}

	c.order = append(c.order, id)
	c.publicKeys[id] = pk
	c.vouchedBy[id] = vouchedBy
	c.joinedAt[id] = time.Now().UTC()
	c.metrics[id] = &Window{}

	configDir := c.configDir
	c.mu.Unlock()

	go func() {
		if err := hashsig.SavePublicKey(configDir, id, pk); err != nil {
			c.logger.Printf("async public key persist for %s failed: %v", id, err)
		}
	}()

	return nil
}

// Seed adds id to the active set at construction time without requiring a
// voucher, for loading the initial validator roster (e.g. from
// configuration) before any runtime vouching has occurred. It fails with
// errs.ErrValidatorExists if id is already present.
func (c *Coordinator) Seed(id string, pk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.publicKeys[id]; exists {
		return fmt.Errorf("%w: %s", errs.ErrValidatorExists, id)
	}
	c.order = append(c.order, id)
	c.publicKeys[id] = pk
	c.vouchedBy[id] = ""
	c.joinedAt[id] = time.Now().UTC()
	c.metrics[id] = &Window{}
	return nil
}

// RemoveValidator drops id from the active set. It fails if id is absent,
// or if it is the last remaining validator.
func (c *Coordinator) RemoveValidator(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.publicKeys[id]; !ok {
		return fmt.Errorf("%w: %s", errs.ErrUnknownValidator, id)
	}
	if len(c.order) <= 1 {
		return errs.ErrCannotRemoveLastValidator
	}

	newOrder := make([]string, 0, len(c.order)-1)
	for _, existing := range c.order {
		if existing != id {
			newOrder = append(newOrder, existing)
		}
	}
	c.order = newOrder
	delete(c.publicKeys, id)
	delete(c.vouchedBy, id)
	delete(c.joinedAt, id)
	delete(c.metrics, id)
	c.telemetry.drop(id)

	if c.index >= len(c.order) {
		c.index = len(c.order) - 1
	}
	if c.index < 0 {
		c.index = 0
	}
	return nil
}

// IsActive reports whether id is currently a member of the validator set.
func (c *Coordinator) IsActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.publicKeys[id]
	return ok
}

// PublicKey returns the stored public key for id, or nil, false if unknown.
func (c *Coordinator) PublicKey(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pk, ok := c.publicKeys[id]
	return pk, ok
}

// RecordTransactionPerformance prepends a result onto id's sliding
// windows, trimming to the configured window size. Unknown validators are
// a no-op with a logged warning.
func (c *Coordinator) RecordTransactionPerformance(id string, success bool, txTimeMicros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.metrics[id]
	if !ok {
		c.logger.Printf("warning: record_transaction_performance for unknown validator %s", id)
		return
	}

	w.RecentResults = prependBool(w.RecentResults, success, c.windowSize)
	w.RecentTxTimes = prependInt64(w.RecentTxTimes, txTimeMicros, c.windowSize)
	w.LastActive = time.Now().UTC()

	snap := w.snapshot(id)
	c.telemetry.observe(id, snap, success)
}

func prependBool(s []bool, v bool, max int) []bool {
	s = append([]bool{v}, s...)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

func prependInt64(s []int64, v int64, max int) []int64 {
	s = append([]int64{v}, s...)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// Status returns a read-only snapshot of the membership state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Validators: append([]string(nil), c.order...),
		NextIndex:  c.index,
	}
}

// GetPerformanceMetrics returns a snapshot of every validator's derived
// performance statistics.
func (c *Coordinator) GetPerformanceMetrics() map[string]Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Snapshot, len(c.metrics))
	for id, w := range c.metrics {
		out[id] = w.snapshot(id)
	}
	return out
}
