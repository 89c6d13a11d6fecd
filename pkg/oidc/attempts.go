package oidc

import (
	"errors"
	"sync"
	"time"
)

// attemptTTL bounds how long a login attempt may wait for its
// callback. Older entries are treated as failed, never reused.
const attemptTTL = 10 * time.Minute

var (
	ErrStateNotFound = errors.New("state not found or already consumed")
	ErrStateExpired  = errors.New("state expired")
)

// Attempt is the per-login PKCE state, keyed by the anti-forgery
// state value. It exists before any session does.
type Attempt struct {
	State     string
	Verifier  string
	Nonce     string
	CreatedAt time.Time
}

// AttemptStore tracks pending login attempts process-wide. A state is
// consumed exactly once; duplicate callback delivery must not yield
// the attempt twice.
type AttemptStore interface {
	Put(attempt *Attempt) error
	Consume(state string) (*Attempt, error)
}

type memoryAttemptStore struct {
	mux      sync.Mutex
	attempts map[string]*Attempt
	nowFn    func() time.Time
}

func NewMemoryAttemptStore() AttemptStore {
	return &memoryAttemptStore{
		attempts: make(map[string]*Attempt),
		nowFn:    time.Now,
	}
}

func (s *memoryAttemptStore) Put(attempt *Attempt) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	// opportunistic purge keeps abandoned attempts from piling up
	now := s.nowFn()
	for state, a := range s.attempts {
		if now.Sub(a.CreatedAt) > attemptTTL {
			delete(s.attempts, state)
		}
	}

	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	s.attempts[attempt.State] = attempt
	return nil
}

// Consume removes and returns the attempt for state. The removal
// happens regardless of outcome, so a second delivery of the same
// state always fails.
func (s *memoryAttemptStore) Consume(state string) (*Attempt, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	attempt, ok := s.attempts[state]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.attempts, state)

	if s.nowFn().Sub(attempt.CreatedAt) > attemptTTL {
		return nil, ErrStateExpired
	}

	return attempt, nil
}
