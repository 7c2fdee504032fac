package keys

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeyStoreRootAndRoles(t *testing.T) {
	ks, err := CreateKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("CreateKeyStore: %v", err)
	}

	root, path, err := ks.InitializeRoot("alice", "ALICE9SEED", Ed25519, false)
	if err != nil {
		t.Fatalf("InitializeRoot: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected seed file: %v", err)
	}
	if _, _, err := ks.InitializeRoot("alice", "OTHER", Ed25519, false); err == nil {
		t.Fatalf("expected existing root seed to be protected")
	}

	role, _, err := ks.DeriveRole("alice", "subscriber", Ed25519, false)
	if err != nil {
		t.Fatalf("DeriveRole: %v", err)
	}
	if role.ID() == root.ID() {
		t.Fatalf("role identity must differ from root identity")
	}
	again, _, err := ks.DeriveRole("alice", "subscriber", Ed25519, true)
	if err != nil {
		t.Fatalf("DeriveRole(overwrite): %v", err)
	}
	if again.ID() != role.ID() {
		t.Fatalf("role derivation must be deterministic")
	}

	seed, err := ks.LoadSeed("alice", "")
	if err != nil || seed != "ALICE9SEED" {
		t.Fatalf("LoadSeed: got %q, %v", seed, err)
	}

	exported, err := ks.Export("alice", "subscriber", Ed25519)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	pub, err := ParsePublic(exported)
	if err != nil {
		t.Fatalf("ParsePublic: %v", err)
	}
	if pub.ID() != role.ID() {
		t.Fatalf("exported identity mismatch")
	}

	entries, err := ks.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(entries) != 1 || entries[0].Identifier != "alice" || len(entries[0].Roles) != 1 || entries[0].Roles[0] != "subscriber" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestKeyStoreRejectsBadNames(t *testing.T) {
	ks := &KeyStore{Directory: filepath.Join(t.TempDir(), "missing")}
	if entries, err := ks.ListKeys(); err != nil || entries != nil {
		t.Fatalf("expected empty listing for missing directory, got %v, %v", entries, err)
	}
	if _, _, err := ks.InitializeRoot("../escape", "x", Ed25519, false); err == nil {
		t.Fatalf("expected invalid identifier to be rejected")
	}
	if _, err := ks.LoadSeed("alice", "bad/role"); err == nil {
		t.Fatalf("expected invalid role to be rejected")
	}
}
