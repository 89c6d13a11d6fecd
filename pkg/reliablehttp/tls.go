package reliablehttp

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
)

// newTLSTransport builds the transport used for encrypted endpoints.
// Remote certificates are always validated against the system trust
// store; an optional operator CA extends (never replaces) that store.
func newTLSTransport(caCertFile string) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	if caCertFile == "" {
		return transport, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}

	pem, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate '%s': %w", caCertFile, err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in '%s'", caCertFile)
	}

	transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	return transport, nil
}
