// Package diagency talks to the upstream credential-agency service:
// verifiable-presentation exchanges, verification results and
// issuance offers. Every call is authenticated with the machine token
// and checked against an explicit path allow-list first.
package diagency

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opencredlab/credex/pkg/oauth2"
	"github.com/opencredlab/credex/pkg/reliablehttp"
	"github.com/opencredlab/credex/pkg/util"
)

// GatewayError means no upstream response was received at all. A
// received non-2xx response is not a GatewayError; it is forwarded
// transparently.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("no response received from upstream: %v", e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

type ClientConfig struct {
	// BaseURL of the credential agency, e.g. the account service root.
	BaseURL string `validate:"required,url"`
}

type Client struct {
	baseURL   string
	broker    *oauth2.TokenBroker
	transport *reliablehttp.Client
	policy    *Policy
}

func NewClient(cfg ClientConfig, broker *oauth2.TokenBroker, transport *reliablehttp.Client, policy *Policy) *Client {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		broker:    broker,
		transport: transport,
		policy:    policy,
	}
}

// call forwards one request upstream. The Authorization header is
// always the broker token; whatever the browser sent is discarded.
func (c *Client) call(ctx context.Context, method, path string, body []byte, accept string) (*Result, error) {
	if !c.policy.Allowed(method, path) {
		slog.Warn("blocked upstream request outside allow-list",
			"method", util.SanitizeForLog(method), "path", util.SanitizeForLog(path))
		return nil, ErrForbidden
	}

	token, err := c.broker.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring upstream token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		var terr *reliablehttp.TransportError
		if errors.As(err, &terr) {
			return nil, &GatewayError{Err: err}
		}
		return nil, err
	}
	defer resp.Body.Close()

	return buildResult(resp, accept)
}

func buildResult(resp *http.Response, accept string) (*Result, error) {
	result := &Result{
		Status:      resp.StatusCode,
		Header:      copyForwardHeaders(resp.Header),
		ContentType: resp.Header.Get("Content-Type"),
	}

	if location := resp.Header.Get("Location"); location != "" && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		result.Kind = KindRedirect
		result.Location = location
		return result, nil
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}

	switch {
	case strings.Contains(result.ContentType, "application/json"):
		result.Kind = KindJSON
		result.JSON = payload
	case isImageContentType(result.ContentType) || isImageContentType(accept):
		result.Kind = KindBinary
		result.Binary = payload
	default:
		result.Kind = KindText
		result.Text = string(payload)
	}

	return result, nil
}
