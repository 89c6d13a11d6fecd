package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opencredlab/credex/pkg/reliablehttp"
)

type DiscoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	JwksURI                          string   `json:"jwks_uri"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	EndSessionEndpoint               string   `json:"end_session_endpoint"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	IdTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
}

// FetchDiscoveryDocument loads the provider metadata from
// <issuer>/.well-known/openid-configuration through the reliable
// transport. Failure here is fatal for client construction.
func FetchDiscoveryDocument(ctx context.Context, transport *reliablehttp.Client, issuer string) (*DiscoveryDocument, error) {
	url := issuer + "/.well-known/openid-configuration"

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}

	resp, err := transport.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("unable to get discovery document from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery document request to %s returned status %d", url, resp.StatusCode)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("unable to decode discovery document: %w", err)
	}

	return &doc, nil
}
