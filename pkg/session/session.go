// Package session keeps the server-side browser state: an opaque
// cookie id maps to authentication material and at most one active
// credential exchange.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/opencredlab/credex/pkg/oidc"
)

// Authentication is present only after a completed login. Token
// material is server-only and never rendered to the browser.
type Authentication struct {
	UserInfo       oidc.UserInfo
	AccessToken    string
	IDToken        string
	RefreshToken   string
	TokenExpiresAt time.Time
	LoginTime      time.Time
}

// ExchangeRef points at the single live upstream exchange owned by
// this session.
type ExchangeRef struct {
	ID         string
	LastStatus json.RawMessage
	CreatedAt  time.Time
}

type Session struct {
	ID        string
	CreatedAt time.Time

	Auth     *Authentication
	Exchange *ExchangeRef

	// mux serializes exchange creation and polling within one
	// session; concurrent requests must not race to create two
	// exchanges.
	mux sync.Mutex
}

func (s *Session) Lock()   { s.mux.Lock() }
func (s *Session) Unlock() { s.mux.Unlock() }

func (s *Session) Authenticated() bool {
	return s.Auth != nil
}

// AuthExpired reports whether the login's token lifetime has passed.
// Sessions without an expiry instant never expire this way.
func (s *Session) AuthExpired(now time.Time) bool {
	if s.Auth == nil || s.Auth.TokenExpiresAt.IsZero() {
		return false
	}
	return s.Auth.TokenExpiresAt.Before(now)
}
