// Copyright 2025 Kylix Project
//
// Blockchain Server - Admission pipeline from raw triple to appended,
// chain-linked DAG node
//
// Runs the fixed sequence of shape, size, validator, PROV-O, dedup, and
// signature checks, then appends and links the node. Owns the monotonic
// transaction counter.

package chainserver

import (
	"crypto/ed25519"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/anusornc/kylix/pkg/dagstore"
	"github.com/anusornc/kylix/pkg/errs"
	"github.com/anusornc/kylix/pkg/hashsig"
	"github.com/anusornc/kylix/pkg/provo"
	"github.com/anusornc/kylix/pkg/validators"
)

// Server is the admission-pipeline actor. It single-writer guards the
// monotonic counter and chain-spine linkage state; the DAG store itself
// supports concurrent readers independently, so queries never go through
// the Server's lock.
type Server struct {
	mu sync.Mutex

	store        dagstore.Store
	coordinator  *validators.Coordinator
	counter      int64
	lastAppended string // "" before the first node

	testPub  ed25519.PublicKey
	testPriv ed25519.PrivateKey

	logger *log.Logger
	now    func() time.Time
}

// New constructs a Server over an existing DAG store and validator
// coordinator.
func New(store dagstore.Store, coordinator *validators.Coordinator) *Server {
	pub, priv, err := hashsig.GenerateKeyPair()
	if err != nil {
		// GenerateKeyPair only fails if the OS CSPRNG is broken; in that
		// case nothing in the process can proceed safely.
		panic(fmt.Sprintf("chainserver: generate test key pair: %v", err))
	}
	return &Server{
		store:       store,
		coordinator: coordinator,
		testPub:     pub,
		testPriv:    priv,
		logger:      log.New(os.Stderr, "chainserver: ", log.LstdFlags),
		now:         time.Now,
	}
}

// AddTransaction runs the full admission pipeline - shape, size,
// validator membership, PROV-O roles, dedup, signature, append, chain
// linkage, telemetry - and returns the new node's id on success.
func (s *Server) AddTransaction(subject, predicate, object, validatorID string, signature []byte) (string, error) {
	start := time.Now()

	// 1. Shape.
	if subject == "" {
		return "", errs.ErrInvalidSubject
	}
	if predicate == "" {
		return "", errs.ErrInvalidPredicate
	}
	if object == "" {
		return "", errs.ErrInvalidObject
	}

	// 2. Size.
	if err := dagstore.ValidateSizes(subject, predicate, object); err != nil {
		return "", err
	}

	// 3. Validator.
	if !s.coordinator.IsActive(validatorID) {
		return "", fmt.Errorf("%w: %s", errs.ErrUnknownValidator, validatorID)
	}

	// 4. PROV-O shape check.
	if rel, recognized := provo.Lookup(predicate); recognized {
		if !rel.Satisfies(subject, object) {
			return "", errs.ErrInvalidProvenanceRelationship
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 5. Timestamp.
	ts := s.now().UTC()

	// 6. Hash.
	digest := hashsig.Hash(subject, predicate, object, validatorID, ts)

	// 7. Duplicate.
	if s.hashExistsLocked(digest) {
		s.coordinator.RecordTransactionPerformance(validatorID, false, time.Since(start).Microseconds())
		return "", errs.ErrDuplicateTransaction
	}

	// 8. Signature.
	pk, ok := s.coordinator.PublicKey(validatorID)
	if !ok {
		return "", fmt.Errorf("%w: %s", errs.ErrUnknownValidator, validatorID)
	}
	if err := hashsig.Verify(digest[:], signature, ed25519.PublicKey(pk)); err != nil {
		s.coordinator.RecordTransactionPerformance(validatorID, false, time.Since(start).Microseconds())
		return "", err
	}

	// 9. Append.
	id := fmt.Sprintf("tx%d", s.counter)
	rec := &dagstore.NodeRecord{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		Validator: validatorID,
		Timestamp: ts,
		Signature: append([]byte(nil), signature...),
		Hash:      digest,
	}
	if err := s.store.AddNode(id, rec); err != nil {
		return "", fmt.Errorf("append node %s: %w", id, err)
	}
	s.counter++

	// 10. Link.
	if s.lastAppended != "" {
		if err := s.store.AddEdge(s.lastAppended, id, "confirms"); err != nil {
			// The node is already committed; the linkage failure is
			// logged, not surfaced, and the spine self-heals on the next
			// successful append.
			s.logger.Printf("chain linkage %s -> %s failed: %v", s.lastAppended, id, err)
		}
	}
	s.lastAppended = id

	// 11. Telemetry.
	s.coordinator.RecordTransactionPerformance(validatorID, true, time.Since(start).Microseconds())

	// 12. Return.
	return id, nil
}

func (s *Server) hashExistsLocked(h [32]byte) bool {
	all, err := s.store.GetAllNodes()
	if err != nil {
		s.logger.Printf("duplicate check: list nodes failed: %v", err)
		return false
	}
	for _, rec := range all {
		if rec.Hash == h {
			return true
		}
	}
	return false
}

// ReceiveTransaction parses an asynchronous-ingress map into admission
// arguments and calls AddTransaction. Network ingress is fire-and-forget:
// errors are logged, not returned.
func (s *Server) ReceiveTransaction(payload map[string]any) {
	subject, _ := payload["subject"].(string)
	predicate, _ := payload["predicate"].(string)
	object, _ := payload["object"].(string)
	validatorID, _ := payload["validator"].(string)
	sig, _ := payload["signature"].([]byte)

	if _, err := s.AddTransaction(subject, predicate, object, validatorID, sig); err != nil {
		s.logger.Printf("receive_transaction rejected: %v", err)
	}
}

// Query is a thin passthrough to the DAG store.
func (s *Server) Query(pattern dagstore.Pattern) ([]dagstore.QueryResult, error) {
	return s.store.Query(pattern)
}

// GetValidators passes through to the coordinator.
func (s *Server) GetValidators() []string {
	return s.coordinator.Status().Validators
}

// AddValidator passes through to the coordinator, which enforces the PoA
// vouching rule.
func (s *Server) AddValidator(id string, pk []byte, vouchedBy string) error {
	return s.coordinator.AddValidator(id, pk, vouchedBy)
}

// ResetTxCount is a test hook: it resets the monotonic counter and clears
// the chain-spine cursor. Callers must also clear the underlying store,
// or invariant 2 (dense ids) will be violated on the next append.
func (s *Server) ResetTxCount(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = n
	s.lastAppended = ""
}

// GetTestKeyPair exposes a fixed keypair held by the server, for tests
// that need a signer without standing up a full validator key directory.
func (s *Server) GetTestKeyPair() (ed25519.PublicKey, ed25519.PrivateKey) {
	return s.testPub, s.testPriv
}

// Store exposes the underlying DAG store for callers (e.g. the SPARQL
// executor) that read directly instead of going through the admission
// actor.
func (s *Server) Store() dagstore.Store { return s.store }
