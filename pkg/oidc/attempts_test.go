package oidc

import (
	"errors"
	"testing"
	"time"
)

func TestAttemptConsumeOnce(t *testing.T) {
	store := NewMemoryAttemptStore()

	if err := store.Put(&Attempt{State: "s1", Verifier: "v1"}); err != nil {
		t.Fatal(err)
	}

	attempt, err := store.Consume("s1")
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Verifier != "v1" {
		t.Errorf("verifier = %q", attempt.Verifier)
	}

	if _, err := store.Consume("s1"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("second consume: got %v, want ErrStateNotFound", err)
	}
}

func TestAttemptExpiry(t *testing.T) {
	store := &memoryAttemptStore{
		attempts: make(map[string]*Attempt),
		nowFn:    time.Now,
	}

	stale := time.Now().Add(-attemptTTL - time.Minute)
	if err := store.Put(&Attempt{State: "old", Verifier: "v", CreatedAt: stale}); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Consume("old"); !errors.Is(err, ErrStateExpired) {
		t.Errorf("stale attempt: got %v, want ErrStateExpired", err)
	}
	// expired consume still removed the entry
	if _, err := store.Consume("old"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("after expired consume: got %v, want ErrStateNotFound", err)
	}
}
