package opstate

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "opstate_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)

	val, err := s.Get("ns", "missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != "" {
		t.Errorf("Get() = %q, want empty string for missing key", val)
	}
}

func TestSetAndGet(t *testing.T) {
	s := testStore(t)

	if err := s.Set("email_poll", "INBOX", "4217"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	val, err := s.Get("email_poll", "INBOX")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != "4217" {
		t.Errorf("Get() = %q, want %q", val, "4217")
	}
}

func TestSetUpsert(t *testing.T) {
	s := testStore(t)

	if err := s.Set("ns", "key", "v1"); err != nil {
		t.Fatalf("Set(v1) error: %v", err)
	}
	if err := s.Set("ns", "key", "v2"); err != nil {
		t.Fatalf("Set(v2) error: %v", err)
	}

	val, err := s.Get("ns", "key")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != "v2" {
		t.Errorf("Get() = %q, want %q after upsert", val, "v2")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	s := testStore(t)

	if err := s.Set("alpha", "key", "a-val"); err != nil {
		t.Fatalf("Set(alpha) error: %v", err)
	}
	if ok, err := s.Claim("beta", "key", "b-val"); err != nil || !ok {
		t.Fatalf("Claim(beta) = %v, %v; want a fresh claim", ok, err)
	}

	aVal, _ := s.Get("alpha", "key")
	bVal, _ := s.Get("beta", "key")
	if aVal != "a-val" {
		t.Errorf("alpha/key = %q, want %q", aVal, "a-val")
	}
	if bVal != "b-val" {
		t.Errorf("beta/key = %q, want %q", bVal, "b-val")
	}
}

func TestClaim(t *testing.T) {
	s := testStore(t)

	ok, err := s.Claim("inbound_email", "msg-1", "run-a")
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if !ok {
		t.Fatal("first Claim() should win")
	}

	ok, err = s.Claim("inbound_email", "msg-1", "run-b")
	if err != nil {
		t.Fatalf("second Claim() error: %v", err)
	}
	if ok {
		t.Error("second Claim() should lose")
	}

	val, _ := s.Get("inbound_email", "msg-1")
	if val != "run-a" {
		t.Errorf("claimed value = %q, want the first claimant's %q", val, "run-a")
	}
}

func TestClaim_Concurrent(t *testing.T) {
	s := testStore(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim("inbound_email", "msg-1", "x")
			if err != nil {
				t.Errorf("Claim() error: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("%d concurrent claims won, want exactly 1", got)
	}
}

func TestRelease(t *testing.T) {
	s := testStore(t)

	if _, err := s.Claim("inbound_email", "msg-1", "x"); err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if err := s.Release("inbound_email", "msg-1"); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	ok, err := s.Claim("inbound_email", "msg-1", "y")
	if err != nil {
		t.Fatalf("Claim() after release error: %v", err)
	}
	if !ok {
		t.Error("Claim() after Release() should win again")
	}
}

func TestReleaseMissing(t *testing.T) {
	s := testStore(t)

	if err := s.Release("ns", "nope"); err != nil {
		t.Errorf("Release(missing) error: %v", err)
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)

	if _, err := s.Claim("inbound_email", "old", "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("email_poll", "INBOX", "7"); err != nil {
		t.Fatal(err)
	}

	// Everything written so far is older than a cutoff in the future.
	n, err := s.Prune("inbound_email", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d entries, want 1", n)
	}

	if val, _ := s.Get("inbound_email", "old"); val != "" {
		t.Errorf("pruned key still present: %q", val)
	}
	if val, _ := s.Get("email_poll", "INBOX"); val != "7" {
		t.Errorf("other namespace touched by prune: %q", val)
	}

	n, err = s.Prune("inbound_email", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if n != 0 {
		t.Errorf("Prune() with past cutoff removed %d entries, want 0", n)
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	_, err := NewStore("/nonexistent/path/db.sqlite")
	if err == nil {
		t.Error("NewStore() should fail for invalid path")
	}
}

func TestStore_PersistAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist_test.db")

	s1, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(1): %v", err)
	}
	if _, err := s1.Claim("inbound_email", "msg-1", "x"); err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	s1.Close()

	s2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(2): %v", err)
	}
	defer s2.Close()

	ok, err := s2.Claim("inbound_email", "msg-1", "y")
	if err != nil {
		t.Fatalf("Claim() after reopen error: %v", err)
	}
	if ok {
		t.Error("claim should survive a restart")
	}
}

func TestNewStore_InvalidPath_NoDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "db.sqlite")
	_ = os.RemoveAll(filepath.Dir(filepath.Dir(dbPath)))

	_, err := NewStore(dbPath)
	if err == nil {
		t.Error("NewStore() should fail when parent directory doesn't exist")
	}
}
