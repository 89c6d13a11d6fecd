package diagency

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ResultKind discriminates the forwarded upstream response shape.
type ResultKind int

const (
	KindJSON ResultKind = iota
	KindText
	KindBinary
	KindRedirect
)

// Result is the tagged outcome of one forwarded upstream call. The
// router consumes it exhaustively; exactly one payload field matching
// Kind is populated.
type Result struct {
	Kind        ResultKind
	Status      int
	Header      http.Header
	ContentType string

	JSON     json.RawMessage
	Text     string
	Binary   []byte
	Location string
}

// hop-by-hop and codec headers must not be forwarded: the transport
// already decompressed the body.
var strippedHeaders = map[string]bool{
	"Transfer-Encoding": true,
	"Content-Encoding":  true,
	"Content-Length":    true,
}

func copyForwardHeaders(src http.Header) http.Header {
	dst := http.Header{}
	for key, values := range src {
		if strippedHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	return dst
}

// ID digs the exchange/offer identifier out of a JSON creation
// payload.
func (r *Result) ID() string {
	if r.Kind != KindJSON {
		return ""
	}
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(r.JSON, &envelope); err != nil {
		return ""
	}
	return envelope.ID
}

// Terminal upstream execution states.
const (
	StateSuccess = "success"
	StateError   = "error"
	StateExpired = "expired"
)

// ExecutionState extracts the upstream state field from a status
// payload, empty when absent.
func (r *Result) ExecutionState() string {
	if r.Kind != KindJSON {
		return ""
	}
	var envelope struct {
		ExecutionState string `json:"execution_state"`
	}
	if err := json.Unmarshal(r.JSON, &envelope); err != nil {
		return ""
	}
	return envelope.ExecutionState
}

// IsTerminal reports whether the payload's state ends the poll loop.
func (r *Result) IsTerminal() bool {
	switch r.ExecutionState() {
	case StateSuccess, StateError, StateExpired:
		return true
	}
	return false
}

func isImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(contentType)), "image/")
}
