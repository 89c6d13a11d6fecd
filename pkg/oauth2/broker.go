package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opencredlab/credex/pkg/reliablehttp"
)

// expiryMargin is subtracted from the advertised token lifetime so a
// caller never receives a token about to lapse mid-call.
const expiryMargin = 60 * time.Second

// TokenAcquisitionError is returned when the token endpoint answers
// with a non-success status after transport retries.
type TokenAcquisitionError struct {
	StatusCode int
	Body       string
}

func (e *TokenAcquisitionError) Error() string {
	return fmt.Sprintf("token request failed with status %d", e.StatusCode)
}

type BrokerConfig struct {
	TokenURL     string `validate:"required,url"`
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
}

// TokenBroker obtains and caches a machine-to-machine bearer token via
// the client-credentials grant. A single broker instance serves one
// agent identity; concurrent callers observing an expired token share
// one in-flight refresh.
type TokenBroker struct {
	cfg       BrokerConfig
	transport *reliablehttp.Client

	mux       sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
	nowFn func() time.Time
}

func NewTokenBroker(cfg BrokerConfig, transport *reliablehttp.Client) *TokenBroker {
	return &TokenBroker{
		cfg:       cfg,
		transport: transport,
		nowFn:     time.Now,
	}
}

// Token returns a bearer token that is guaranteed to be valid now.
func (b *TokenBroker) Token(ctx context.Context) (string, error) {
	b.mux.Lock()
	if b.token != "" && b.nowFn().Before(b.expiresAt) {
		token := b.token
		b.mux.Unlock()
		return token, nil
	}
	b.mux.Unlock()

	token, err, _ := b.group.Do("refresh", func() (interface{}, error) {
		return b.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (b *TokenBroker) refresh(ctx context.Context) (string, error) {
	// a concurrent caller may have refreshed between the cache check
	// and joining the flight
	b.mux.Lock()
	if b.token != "" && b.nowFn().Before(b.expiresAt) {
		token := b.token
		b.mux.Unlock()
		return token, nil
	}
	b.mux.Unlock()

	form := url.Values{}
	form.Set("client_id", b.cfg.ClientID)
	form.Set("client_secret", b.cfg.ClientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequest(http.MethodPost, b.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.transport.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &TokenAcquisitionError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokenResponse TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tokenResponse.AccessToken == "" {
		return "", fmt.Errorf("token response contains no access_token")
	}

	issuedAt := b.nowFn()

	b.mux.Lock()
	b.token = tokenResponse.AccessToken
	b.expiresAt = issuedAt.Add(time.Duration(tokenResponse.ExpiresIn)*time.Second - expiryMargin)
	b.mux.Unlock()

	slog.Info("acquired machine token", "client_id", b.cfg.ClientID, "expires_in", tokenResponse.ExpiresIn)

	return tokenResponse.AccessToken, nil
}

// ExpiresAt exposes the cached expiry instant, for tests.
func (b *TokenBroker) ExpiresAt() time.Time {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.expiresAt
}
