// Package oidc implements the relying-party side of the authorization
// code flow with PKCE: discovery, authorization URL construction, the
// code-for-token exchange, userinfo and end-session URLs.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/opencredlab/credex/pkg/oauth2"
	"github.com/opencredlab/credex/pkg/reliablehttp"
)

type Config struct {
	Issuer       string   `validate:"required,url"`
	ClientID     string   `validate:"required"`
	ClientSecret string   `validate:"required"`
	RedirectURI  string   `validate:"required,url"`
	Scopes       []string `validate:"required"`
}

type Client struct {
	cfg               Config
	transport         *reliablehttp.Client
	discoveryDocument *DiscoveryDocument
	keyCache          *jwk.Cache
}

// NewClient fetches the discovery document and prepares the signing
// key cache. A failed discovery fetch is a configuration error and
// aborts construction.
func NewClient(ctx context.Context, cfg Config, transport *reliablehttp.Client) (*Client, error) {
	doc, err := FetchDiscoveryDocument(ctx, transport, cfg.Issuer)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:               cfg,
		transport:         transport,
		discoveryDocument: doc,
	}

	if doc.JwksURI != "" {
		c.keyCache = jwk.NewCache(context.Background())
		c.keyCache.Register(doc.JwksURI, jwk.WithMinRefreshInterval(15*time.Minute))
	}

	return c, nil
}

func (c *Client) Issuer() string {
	return c.discoveryDocument.Issuer
}

func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

func (c *Client) DiscoveryDocument() *DiscoveryDocument {
	return c.discoveryDocument
}

// AuthCodeURL builds the authorization redirect with the S256
// challenge derived from verifier.
func (c *Client) AuthCodeURL(state, nonce, verifier string, opts ...oauth2.ParameterOption) string {
	codeChallenge := oauth2.S256ChallengeFromVerifier(verifier)
	query := url.Values{}
	query.Add("client_id", c.cfg.ClientID)
	query.Add("redirect_uri", c.cfg.RedirectURI)
	query.Add("response_type", "code")
	query.Add("scope", strings.Join(c.cfg.Scopes, " "))
	query.Add("state", state)
	query.Add("nonce", nonce)
	query.Add("code_challenge", codeChallenge)
	query.Add("code_challenge_method", string(oauth2.CodeChallengeMethodS256))

	for _, opt := range opts {
		opt(query)
	}

	return fmt.Sprintf("%s?%s", c.discoveryDocument.AuthorizationEndpoint, query.Encode())
}

// Exchange posts the authorization code and verifier directly to the
// token endpoint.
func (c *Client) Exchange(ctx context.Context, code, verifier string, opts ...oauth2.ParameterOption) (*oauth2.TokenResponse, error) {
	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	params.Set("client_secret", c.cfg.ClientSecret)
	params.Set("code", code)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("grant_type", "authorization_code")
	params.Set("code_verifier", verifier)

	for _, opt := range opts {
		opt(params)
	}

	req, err := http.NewRequest(http.MethodPost, c.discoveryDocument.TokenEndpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("unable to exchange code for token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oidcErr oauth2.Error
		if err := json.Unmarshal(body, &oidcErr); err != nil {
			return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		return nil, &oidcErr
	}

	var tokenResponse oauth2.TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, fmt.Errorf("unable to decode token response: %w", err)
	}

	return &tokenResponse, nil
}

// UserInfo is the sanitized profile subset exposed to the browser.
// Token material never travels alongside it.
type UserInfo struct {
	Subject    string `json:"sub,omitempty"`
	Name       string `json:"name,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Userinfo fetches the profile claims with the given access token.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	if c.discoveryDocument.UserinfoEndpoint == "" {
		return nil, fmt.Errorf("provider advertises no userinfo endpoint")
	}

	req, err := http.NewRequest(http.MethodGet, c.discoveryDocument.UserinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request returned status %d", resp.StatusCode)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("unable to decode userinfo: %w", err)
	}

	return &info, nil
}

// EndSessionURL constructs the provider logout URL. Empty when the
// provider advertises no end-session endpoint.
func (c *Client) EndSessionURL(idTokenHint, postLogoutRedirectURI string) string {
	if c.discoveryDocument.EndSessionEndpoint == "" {
		return ""
	}

	query := url.Values{}
	if idTokenHint != "" {
		query.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		query.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}

	return fmt.Sprintf("%s?%s", c.discoveryDocument.EndSessionEndpoint, query.Encode())
}

// ParseIDToken parses and verifies an ID token against the provider
// keys and the expected nonce.
func (c *Client) ParseIDToken(ctx context.Context, serialized, nonce string) (jwt.Token, error) {
	if c.keyCache == nil {
		return nil, fmt.Errorf("provider advertises no jwks_uri")
	}

	keySet, err := c.keyCache.Get(ctx, c.discoveryDocument.JwksURI)
	if err != nil {
		return nil, fmt.Errorf("unable to get provider key set: %w", err)
	}

	token, err := jwt.ParseString(
		serialized,
		jwt.WithKeySet(keySet),
		jwt.WithIssuer(c.discoveryDocument.Issuer),
		jwt.WithAudience(c.cfg.ClientID),
		jwt.WithClaimValue("nonce", nonce),
		jwt.WithRequiredClaim("exp"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse id token: %w", err)
	}

	slog.Debug("id token verified", "issuer", c.discoveryDocument.Issuer)
	return token, nil
}
