// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package vault

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.json")
	v, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}

func TestAddValidateRemove(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)

	if err := v.Add("custom-token-1", "real-bambu-token-aabbccddeeff", "printer farm"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	real, ok := v.Validate("custom-token-1")
	if !ok {
		t.Fatal("expected token to validate")
	}
	if real != "real-bambu-token-aabbccddeeff" {
		t.Errorf("Validate returned %q", real)
	}

	if _, ok := v.Validate("unknown"); ok {
		t.Error("unknown token should not validate")
	}

	removed, err := v.Remove("custom-token-1")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !removed {
		t.Error("expected Remove to report true")
	}
	if _, ok := v.Validate("custom-token-1"); ok {
		t.Error("removed token should not validate")
	}

	removed, err = v.Remove("custom-token-1")
	if err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
	if removed {
		t.Error("removing an absent token should report false")
	}
}

func TestAddRejectsEmpty(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	if err := v.Add("", "real", ""); err == nil {
		t.Error("expected error for empty custom token")
	}
	if err := v.Add("custom", "", ""); err == nil {
		t.Error("expected error for empty real token")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	v, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := v.Add("persisted-token", "real-token-001122334455", "lab"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	v2, err := New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	real, ok := v2.Validate("persisted-token")
	if !ok || real != "real-token-001122334455" {
		t.Errorf("reopened vault lost mapping: %q, %v", real, ok)
	}
	if v2.Count() != 1 {
		t.Errorf("Count = %d, want 1", v2.Count())
	}
}

func TestFilePermissions(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("file mode semantics differ on windows")
	}

	path := filepath.Join(t.TempDir(), "tokens.json")
	v, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := v.Add("tok", "real-token-999888777666", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("token file mode = %o, want 600", info.Mode().Perm())
	}
}

func TestLegacyPlainMapUpgrade(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	legacy := `{"old-custom-token": "old-real-token-aabbccddeeff0011"}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	v, err := New(path)
	if err != nil {
		t.Fatalf("New failed on legacy file: %v", err)
	}
	real, ok := v.Validate("old-custom-token")
	if !ok || real != "old-real-token-aabbccddeeff0011" {
		t.Errorf("legacy mapping not loaded: %q, %v", real, ok)
	}
}

func TestListMasksVendorTokens(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	if err := v.Add("custom-token-abcdefghijklmnop", "real-token-998877665544332211", "shop"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	list := v.List()
	if list.Total != 1 || len(list.Tokens) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}

	got := list.Tokens[0]
	if got.Label != "shop" {
		t.Errorf("label = %q", got.Label)
	}
	// The custom token appears in full; operators use the listing to
	// match entries against what they handed out.
	if got.Token != "custom-token-abcdefghijklmnop" {
		t.Errorf("listed custom token = %q", got.Token)
	}
	// The vendor credential is reduced to a fixed-length prefix.
	if !strings.HasSuffix(got.VendorToken, "...") {
		t.Errorf("vendor token not masked: %q", got.VendorToken)
	}
	if !strings.HasPrefix(got.VendorToken, "real-token-998877665") {
		t.Errorf("vendor token prefix wrong: %q", got.VendorToken)
	}
	if strings.Contains(got.VendorToken, "544332211") {
		t.Errorf("vendor token leaks tail: %q", got.VendorToken)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestMissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	if v.Count() != 0 {
		t.Errorf("Count = %d, want 0", v.Count())
	}
	if list := v.List(); list.Total != 0 {
		t.Errorf("Total = %d, want 0", list.Total)
	}
}

func TestCorruptFileErrors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("not json at all {"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, err := New(path); err == nil {
		t.Error("expected error for corrupt token file")
	}
}
