// Copyright 2025 Kylix Project
//
// Hash & Signature Service - Canonical transaction message, SHA-256
// digest, ed25519 sign/verify, and validator public key loading

package hashsig

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anusornc/kylix/pkg/errs"
)

// Digest is the 32-byte canonical hash of a transaction.
type Digest [32]byte

func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

// Canon builds the canonical message string:
// subject|predicate|object|validator|iso8601(timestamp).
func Canon(subject, predicate, object, validator string, ts time.Time) string {
	return strings.Join([]string{
		subject, predicate, object, validator, ts.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// Hash computes H(canon(s,p,o,v,ts)) using SHA-256.
func Hash(subject, predicate, object, validator string, ts time.Time) Digest {
	return sha256.Sum256([]byte(Canon(subject, predicate, object, validator, ts)))
}

// Sign signs msg with sk, returning the raw ed25519 signature bytes.
func Sign(msg []byte, sk ed25519.PrivateKey) []byte {
	return ed25519.Sign(sk, msg)
}

// Verify checks sig over msg against pk. It returns nil on success,
// errs.ErrInvalidSignature when the signature is well-formed but does not
// match, and errs.ErrVerificationFailed when the underlying primitive
// could not even attempt verification (malformed key/signature length).
func Verify(msg, sig []byte, pk ed25519.PublicKey) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errs.ErrVerificationFailed, r)
		}
	}()

	if len(pk) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key size %d", errs.ErrVerificationFailed, len(pk))
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature size %d", errs.ErrVerificationFailed, len(sig))
	}
	if !ed25519.Verify(pk, msg, sig) {
		return errs.ErrInvalidSignature
	}
	return nil
}

// GenerateKeyPair produces a fresh ed25519 key pair for tests and demos.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return pub, priv, nil
}

// LoadPublicKeys scans dir for files ending in ".pub". The file stem is
// the validator id; the raw file contents are the public key bytes.
// Non-".pub" files are ignored. A missing directory yields an empty map,
// not an error: the config directory may not exist yet at startup.
func LoadPublicKeys(dir string) (map[string]ed25519.PublicKey, error) {
	out := make(map[string]ed25519.PublicKey)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read validator key dir %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pub") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".pub")
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read public key file %s: %w", e.Name(), err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: key file %s has %d bytes, want %d", errs.ErrInvalidData, e.Name(), len(raw), ed25519.PublicKeySize)
		}
		out[id] = ed25519.PublicKey(raw)
	}
	return out, nil
}

// SavePublicKey writes a validator's public key to <dir>/<id>.pub. It is
// used by the validator coordinator's best-effort async key persistence
// and creates dir if it does not exist.
func SavePublicKey(dir, id string, pk ed25519.PublicKey) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create validator key dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, id+".pub")
	if err := os.WriteFile(path, pk, 0o600); err != nil {
		return fmt.Errorf("write public key file %s: %w", path, err)
	}
	return nil
}
