// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package vault maps operator-issued custom tokens to real Bambu Lab
// access tokens. The mapping is persisted as a single JSON file written
// atomically (temp file + rename) with owner-only permissions, so a
// crash mid-write can never corrupt or truncate the live file.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bambugate/internal/metrics"
	"github.com/tomtom215/bambugate/internal/models"
	"github.com/tomtom215/bambugate/internal/sanitize"
)

// entry is the on-disk record for one custom token.
type entry struct {
	RealToken string    `json:"real_token"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Vault is a concurrency-safe custom-token store backed by a JSON file.
type Vault struct {
	mu     sync.RWMutex
	path   string
	tokens map[string]entry
}

// New creates a Vault backed by the given file path and loads any
// existing mappings. A missing file is not an error; the vault starts
// empty and the file appears on the first Add.
func New(path string) (*Vault, error) {
	v := &Vault{
		path:   path,
		tokens: make(map[string]entry),
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	metrics.VaultTokens.Set(float64(len(v.tokens)))
	return v, nil
}

// load reads the token file. Legacy files that store a plain
// custom->real string map are upgraded transparently.
func (v *Vault) load() error {
	raw, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token file %s: %w", v.path, err)
	}
	if len(raw) == 0 {
		return nil
	}

	entries := make(map[string]entry)
	if err := json.Unmarshal(raw, &entries); err == nil {
		v.tokens = entries
		return nil
	}

	legacy := make(map[string]string)
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("failed to parse token file %s: %w", v.path, err)
	}
	for custom, real := range legacy {
		v.tokens[custom] = entry{RealToken: real, CreatedAt: time.Now().UTC()}
	}
	return nil
}

// save writes the full token map atomically. The temp file lands in
// the same directory so the rename stays on one filesystem.
func (v *Vault) save() error {
	data, err := json.MarshalIndent(v.tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	dir := filepath.Dir(v.path)
	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp token file: %w", err)
	}

	if err := os.Rename(tmpName, v.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Add stores a custom token mapping and persists immediately.
// An existing mapping for the same custom token is overwritten.
func (v *Vault) Add(customToken, realToken, label string) error {
	if customToken == "" {
		return fmt.Errorf("custom token must not be empty")
	}
	if realToken == "" {
		return fmt.Errorf("real token must not be empty")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.tokens[customToken] = entry{
		RealToken: realToken,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}
	if err := v.save(); err != nil {
		delete(v.tokens, customToken)
		return err
	}
	metrics.VaultTokens.Set(float64(len(v.tokens)))
	return nil
}

// Remove deletes a custom token mapping. Returns false if the token
// was not present; the file is only rewritten on an actual removal.
func (v *Vault) Remove(customToken string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	old, ok := v.tokens[customToken]
	if !ok {
		return false, nil
	}
	delete(v.tokens, customToken)
	if err := v.save(); err != nil {
		v.tokens[customToken] = old
		return false, err
	}
	metrics.VaultTokens.Set(float64(len(v.tokens)))
	return true, nil
}

// Validate resolves a custom token to the real Bambu Lab token.
// Returns ok=false for unknown tokens; the caller must not contact the
// vendor in that case.
func (v *Vault) Validate(customToken string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok := v.tokens[customToken]
	if !ok {
		return "", false
	}
	return e.RealToken, true
}

// List returns the token inventory: each operator-issued custom token
// in full, mapped to its masked vendor credential. The raw vendor
// token never appears in a listing.
func (v *Vault) List() models.TokenList {
	v.mu.RLock()
	defer v.mu.RUnlock()

	infos := make([]models.TokenInfo, 0, len(v.tokens))
	for custom, e := range v.tokens {
		infos = append(infos, models.TokenInfo{
			Token:       custom,
			VendorToken: sanitize.MaskToken(e.RealToken),
			Label:       e.Label,
			CreatedAt:   e.CreatedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})

	return models.TokenList{
		Total:  len(infos),
		Tokens: infos,
	}
}

// Count returns the number of configured tokens.
func (v *Vault) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.tokens)
}
