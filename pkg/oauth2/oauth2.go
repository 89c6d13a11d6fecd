// Package oauth2 holds the OAuth2 primitives shared by the login flow
// and the machine-to-machine token broker: PKCE material, wire types
// and the client-credentials grant.
package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
)

type ParameterOption func(params url.Values)

func WithParameter(name, value string) ParameterOption {
	return func(params url.Values) {
		params.Set(name, value)
	}
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
}

type CodeChallengeMethod string

const (
	CodeChallengeMethodS256 CodeChallengeMethod = "S256"
)

// Error is the standard OAuth2 error document.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

// GenerateCodeVerifier returns a 128-character PKCE code verifier.
func GenerateCodeVerifier() string {
	n := 128
	ret := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			panic("random number generation failed")
		}
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

func S256ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}

// GenerateState returns the anti-forgery state for an authorization
// request.
func GenerateState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("random number generation failed")
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
