// Copyright 2025 Kylix Project
//
// KeyManager - File-backed ed25519 key pair (load if present, else
// generate and save)

package hashsig

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// KeyManager owns a single ed25519 key pair backed by a hex-encoded file
// on disk: load if present, else generate and save.
type KeyManager struct {
	keyPath string
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
}

// NewKeyManager constructs a manager bound to keyPath. keyPath may be empty,
// in which case keys are kept in memory only.
func NewKeyManager(keyPath string) *KeyManager {
	return &KeyManager{keyPath: keyPath}
}

// LoadOrGenerate loads the key at keyPath, generating and persisting a new
// one if it does not exist yet.
func (km *KeyManager) LoadOrGenerate() error {
	if km.keyPath != "" {
		if _, err := os.Stat(km.keyPath); err == nil {
			return km.Load()
		}
	}
	return km.Generate()
}

// Load reads and hex-decodes the private key file at keyPath.
func (km *KeyManager) Load() error {
	if km.keyPath == "" {
		return fmt.Errorf("key manager: no key path configured")
	}
	data, err := os.ReadFile(km.keyPath)
	if err != nil {
		return fmt.Errorf("read key file %s: %w", km.keyPath, err)
	}
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("decode key hex: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return fmt.Errorf("key file %s: want %d bytes, got %d", km.keyPath, ed25519.PrivateKeySize, len(raw))
	}
	km.priv = ed25519.PrivateKey(raw)
	km.pub = km.priv.Public().(ed25519.PublicKey)
	return nil
}

// Generate creates a fresh key pair, persisting it if keyPath is set.
func (km *KeyManager) Generate() error {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		return err
	}
	km.pub, km.priv = pub, priv
	if km.keyPath == "" {
		return nil
	}
	return km.Save()
}

// Save hex-encodes and writes the private key to keyPath with owner-only
// permissions, creating parent directories as needed.
func (km *KeyManager) Save() error {
	if km.keyPath == "" {
		return fmt.Errorf("key manager: no key path configured")
	}
	if km.priv == nil {
		return fmt.Errorf("key manager: no private key to save")
	}
	if dir := filepath.Dir(km.keyPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
	}
	return os.WriteFile(km.keyPath, []byte(hex.EncodeToString(km.priv)), 0o600)
}

func (km *KeyManager) PrivateKey() ed25519.PrivateKey { return km.priv }
func (km *KeyManager) PublicKey() ed25519.PublicKey   { return km.pub }
