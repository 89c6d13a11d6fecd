package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-secure-stdlib/nonceutil"

	"github.com/opencredlab/credex/pkg/oauth2"
)

var (
	// ErrInvalidRequest marks a callback missing code or state.
	ErrInvalidRequest = errors.New("missing code or state")
	// ErrExpiredState marks a state that was never issued, already
	// consumed, or waited too long for its callback.
	ErrExpiredState = errors.New("invalid or expired state")
)

type LoginStart struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

// LoginResult carries everything the session layer needs after a
// successful callback. Raw tokens stay server-side.
type LoginResult struct {
	UserInfo       *UserInfo
	AccessToken    string
	IDToken        string
	RefreshToken   string
	TokenExpiresAt time.Time
	LoginTime      time.Time
}

// LoginFlow drives the authorization-code + PKCE handshake against
// one identity provider and owns the pending-attempt state.
type LoginFlow struct {
	client   *Client
	attempts AttemptStore
	nonces   nonceutil.NonceService
	nowFn    func() time.Time
}

func NewLoginFlow(client *Client, attempts AttemptStore) (*LoginFlow, error) {
	nonces := nonceutil.NewNonceService()
	if err := nonces.Initialize(); err != nil {
		return nil, fmt.Errorf("could not initialize nonce service: %w", err)
	}

	return &LoginFlow{
		client:   client,
		attempts: attempts,
		nonces:   nonces,
		nowFn:    time.Now,
	}, nil
}

// Begin creates a fresh PKCE attempt and returns the authorization
// redirect for the browser.
func (f *LoginFlow) Begin(ctx context.Context) (*LoginStart, error) {
	verifier := oauth2.GenerateCodeVerifier()
	state := oauth2.GenerateState()

	nonce, _, err := f.nonces.Get()
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	if err := f.attempts.Put(&Attempt{
		State:     state,
		Verifier:  verifier,
		Nonce:     nonce,
		CreatedAt: f.nowFn(),
	}); err != nil {
		return nil, fmt.Errorf("storing login attempt: %w", err)
	}

	return &LoginStart{
		AuthURL: f.client.AuthCodeURL(state, nonce, verifier),
		State:   state,
	}, nil
}

// HandleCallback completes the login: it consumes the attempt exactly
// once, exchanges the code, and assembles the authenticated result.
// Userinfo and ID-token verification failures are tolerated; the
// profile is then partially populated.
func (f *LoginFlow) HandleCallback(ctx context.Context, code, state string) (*LoginResult, error) {
	if code == "" || state == "" {
		return nil, ErrInvalidRequest
	}

	attempt, err := f.attempts.Consume(state)
	if err != nil {
		return nil, ErrExpiredState
	}

	tokens, err := f.client.Exchange(ctx, code, attempt.Verifier)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	if tokens.IDToken != "" {
		if _, err := f.client.ParseIDToken(ctx, tokens.IDToken, attempt.Nonce); err != nil {
			slog.Warn("id token verification failed, continuing with tokens", "error", err)
		} else if !f.nonces.Redeem(attempt.Nonce) {
			slog.Warn("nonce was already redeemed", "state_known", true)
		}
	}

	result := &LoginResult{
		AccessToken:  tokens.AccessToken,
		IDToken:      tokens.IDToken,
		RefreshToken: tokens.RefreshToken,
		LoginTime:    f.nowFn(),
		UserInfo:     &UserInfo{},
	}
	if tokens.ExpiresIn > 0 {
		result.TokenExpiresAt = f.nowFn().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}

	info, err := f.client.Userinfo(ctx, tokens.AccessToken)
	if err != nil {
		slog.Warn("userinfo fetch failed, authentication proceeds with partial profile", "error", err)
	} else {
		result.UserInfo = info
	}

	return result, nil
}

// LogoutURL builds the provider end-session URL. It never fails; the
// caller destroys the local session regardless.
func (f *LoginFlow) LogoutURL(idToken string) string {
	return f.client.EndSessionURL(idToken, f.client.cfg.RedirectURI)
}
