package store

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
)

func TestAddUserAndCheckConnection(t *testing.T) {
	s := New()

	uid, err := s.AddUser("alice", "pw")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if uid != 1 {
		t.Fatalf("expected first uid 1, got %d", uid)
	}

	if _, err := s.AddUser("alice", "other"); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}

	got, ok := s.CheckConnection("alice", "pw")
	if !ok || got != uid {
		t.Fatalf("CheckConnection: got (%d,%v), want (%d,true)", got, ok, uid)
	}

	if _, ok := s.CheckConnection("alice", "wrong"); ok {
		t.Fatalf("expected auth failure for wrong password")
	}
	if _, ok := s.CheckConnection("nobody", "pw"); ok {
		t.Fatalf("expected auth failure for unknown user")
	}
}

func TestGetUsernameUnknown(t *testing.T) {
	s := New()
	uid, _ := s.AddUser("alice", "pw")
	if got := s.GetUsername(uid); got != "alice" {
		t.Fatalf("GetUsername(%d) = %q, want alice", uid, got)
	}
	if got := s.GetUsername(999); got != UnknownUsername {
		t.Fatalf("GetUsername(999) = %q, want %q", got, UnknownUsername)
	}
}

func TestAddNewMessageAndGetLastMessages(t *testing.T) {
	s := New()
	uid, _ := s.AddUser("alice", "pw")

	for i := 0; i < 5; i++ {
		s.AddNewMessage(float64(i), uid, "msg")
	}

	last := s.GetLastMessages(3)
	if len(last) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(last))
	}
	if last[0].MID != 3 || last[2].MID != 5 {
		t.Fatalf("expected mids 3..5, got %+v", last)
	}

	all := s.GetLastMessages(100)
	if len(all) != 5 {
		t.Fatalf("expected all 5 messages when n exceeds count, got %d", len(all))
	}
}

// TestMonotonicMids exercises property 3: after any interleaving of
// concurrent AddNewMessage calls, the returned ids form a permutation of
// 1..=N and the stored order matches id order.
func TestMonotonicMids(t *testing.T) {
	s := New()
	uid, _ := s.AddUser("alice", "pw")

	const n = 500
	var wg sync.WaitGroup
	mids := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mids[i] = s.AddNewMessage(float64(i), uid, "x")
		}(i)
	}
	wg.Wait()

	sorted := append([]uint64(nil), mids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, mid := range sorted {
		if mid != uint64(i+1) {
			t.Fatalf("expected permutation of 1..%d, got %v", n, sorted)
		}
	}

	stored := s.GetLastMessages(n)
	for i, m := range stored {
		if m.MID != uint64(i+1) {
			t.Fatalf("stored order does not match id order at index %d: %+v", i, stored)
		}
	}
}

// TestUniqueUsernamesUnderContention exercises property 4: concurrent
// AddUser calls racing on the same name must let exactly one succeed.
func TestUniqueUsernamesUnderContention(t *testing.T) {
	s := New()

	const n = 100
	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddUser("contested", "pw")
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one successful AddUser, got %d", count)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")
	secret := []byte("test-secret")

	s := New()
	uid, _ := s.AddUser("alice", "pw")
	s.AddNewMessage(1700000000, uid, "hello")

	if err := s.Save(path, secret); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, secret)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := loaded.CheckConnection("alice", "pw")
	if !ok || got != uid {
		t.Fatalf("loaded store lost user: got (%d,%v)", got, ok)
	}
	msgs := loaded.GetLastMessages(10)
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Fatalf("loaded store lost message: %+v", msgs)
	}
}

func TestLoadMissingFileSeedsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.bin")

	s, err := Load(path, DefaultSecret)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.UsernameExists("admin") || !s.UsernameExists("user") {
		t.Fatalf("expected seeded admin/user, got %+v", s.users)
	}
	if msgs := s.GetLastMessages(10); len(msgs) == 0 {
		t.Fatalf("expected a seeded welcome message")
	}
}

// TestHMACIntegrity exercises property 5: flipping any bit of either the
// signature or the body makes Load fail with ErrBadSignature.
func TestHMACIntegrity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")
	secret := []byte("test-secret")

	s := New()
	s.AddUser("alice", "pw")
	if err := s.Save(path, secret); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	flipSignature := append([]byte(nil), raw...)
	flipSignature[0] ^= 0xFF
	if err := os.WriteFile(path, flipSignature, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, secret); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature after flipping signature, got %v", err)
	}

	flipBody := append([]byte(nil), raw...)
	flipBody[len(flipBody)-1] ^= 0xFF
	if err := os.WriteFile(path, flipBody, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, secret); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature after flipping body, got %v", err)
	}
}

func TestLoadWrongSecretFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")

	s := New()
	s.AddUser("alice", "pw")
	if err := s.Save(path, []byte("right-secret")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := Load(path, []byte("wrong-secret")); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}
