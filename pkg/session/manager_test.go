package session

import (
	"testing"
	"time"
)

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()

	sess := m.Create()
	if sess.ID == "" {
		t.Fatal("session id missing")
	}
	if sess.Authenticated() {
		t.Error("fresh session must be anonymous")
	}

	got, ok := m.Get(sess.ID)
	if !ok || got.ID != sess.ID {
		t.Fatal("session not found by id")
	}

	m.Destroy(sess.ID)
	if _, ok := m.Get(sess.ID); ok {
		t.Error("destroyed session still resolvable")
	}
}

func TestManagerExpiry(t *testing.T) {
	m := NewManager()
	sess := m.Create()

	m.nowFn = func() time.Time { return time.Now().Add(DefaultTTL + time.Minute) }

	if _, ok := m.Get(sess.ID); ok {
		t.Error("session past TTL must be dropped on lookup")
	}
}

func TestAuthExpired(t *testing.T) {
	s := &Session{}
	if s.AuthExpired(time.Now()) {
		t.Error("anonymous session can not be auth-expired")
	}

	s.Auth = &Authentication{TokenExpiresAt: time.Now().Add(-time.Minute)}
	if !s.AuthExpired(time.Now()) {
		t.Error("past token expiry must report expired")
	}

	s.Auth = &Authentication{}
	if s.AuthExpired(time.Now()) {
		t.Error("missing expiry instant must not expire")
	}
}
