package diagency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opencredlab/credex/pkg/session"
	"github.com/opencredlab/credex/pkg/util"
)

const (
	pathExchange      = "/v1.0/oidvc/vp/exchange"
	pathVerifications = "/v1.0/diagency/verifications"
	pathOffers        = "/v1.0/oidvc/vci/offers"
)

var (
	ErrNoActiveExchange      = errors.New("no active exchange for this session")
	ErrAttributesUnavailable = errors.New("decoded attributes not present in verification")
	ErrExchangeIDUnavailable = errors.New("exchange creation payload contains no id")
)

type OrchestratorConfig struct {
	// TemplateID identifies the verification template the agency
	// instantiates for each exchange.
	TemplateID string `validate:"required"`
}

// Orchestrator manages the 1:1 correlation between a browser session
// and its upstream exchange: create, re-create, poll and decode.
// All operations on the same session are serialized.
type Orchestrator struct {
	client *Client
	cfg    OrchestratorConfig
	nowFn  func() time.Time
}

func NewOrchestrator(cfg OrchestratorConfig, client *Client) *Orchestrator {
	return &Orchestrator{
		client: client,
		cfg:    cfg,
		nowFn:  time.Now,
	}
}

type CreateRequest struct {
	WithQRCode bool `json:"with_qr_code"`
}

// CreateOrResume terminates any exchange the session already owns
// (best effort), then creates a fresh one and records its id. The raw
// creation payload, QR or wallet-engagement URI included, goes back
// to the caller.
func (o *Orchestrator) CreateOrResume(ctx context.Context, sess *session.Session, req CreateRequest) (*Result, error) {
	sess.Lock()
	defer sess.Unlock()

	if sess.Exchange != nil {
		oldID := sess.Exchange.ID
		slog.Info("session already owns an exchange, deleting it upstream", "exchange_id", util.SanitizeForLog(oldID))
		if _, err := o.client.call(ctx, http.MethodDelete, pathExchange+"/"+oldID, nil, ""); err != nil {
			slog.Error("deleting previous exchange failed, continuing", "exchange_id", util.SanitizeForLog(oldID), "error", err)
		}
		sess.Exchange = nil
	}

	body, err := json.Marshal(map[string]any{
		"template_id":  o.cfg.TemplateID,
		"with_qr_code": req.WithQRCode,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding exchange request: %w", err)
	}

	result, err := o.client.call(ctx, http.MethodPost, pathExchange, body, "")
	if err != nil {
		return nil, err
	}

	id := result.ID()
	if id == "" {
		return nil, ErrExchangeIDUnavailable
	}

	sess.Exchange = &session.ExchangeRef{
		ID:        id,
		CreatedAt: o.nowFn(),
	}
	if result.Kind == KindJSON {
		sess.Exchange.LastStatus = result.JSON
	}

	return result, nil
}

// PollStatus fetches the current exchange state and returns the
// upstream payload verbatim. The exchange reference survives a
// success state so that a failed attribute fetch can be retried
// against the same exchange.
func (o *Orchestrator) PollStatus(ctx context.Context, sess *session.Session) (*Result, error) {
	sess.Lock()
	defer sess.Unlock()

	if sess.Exchange == nil {
		return nil, ErrNoActiveExchange
	}

	result, err := o.client.call(ctx, http.MethodGet, pathExchange+"/"+sess.Exchange.ID, nil, "")
	if err != nil {
		return nil, err
	}

	if result.Kind == KindJSON {
		sess.Exchange.LastStatus = result.JSON
	}

	return result, nil
}

// verificationEnvelope is the provider-specific wrapper around the
// decoded presentation.
type verificationEnvelope struct {
	OID4VP []struct {
		Decoded struct {
			Attributes json.RawMessage `json:"attributes"`
		} `json:"decoded"`
	} `json:"oid4vp"`
}

// FetchDecodedAttributes reads the verification resource for the
// session's exchange and extracts the decoded attribute array. The
// session is not mutated.
func (o *Orchestrator) FetchDecodedAttributes(ctx context.Context, sess *session.Session) (json.RawMessage, error) {
	sess.Lock()
	exchangeID := ""
	if sess.Exchange != nil {
		exchangeID = sess.Exchange.ID
	}
	sess.Unlock()

	if exchangeID == "" {
		return nil, ErrNoActiveExchange
	}

	result, err := o.client.call(ctx, http.MethodGet, pathVerifications+"/"+exchangeID, nil, "")
	if err != nil {
		return nil, err
	}
	if result.Kind != KindJSON {
		return nil, ErrAttributesUnavailable
	}

	var envelope verificationEnvelope
	if err := json.Unmarshal(result.JSON, &envelope); err != nil {
		return nil, fmt.Errorf("decoding verification envelope: %w", err)
	}
	if len(envelope.OID4VP) == 0 || len(envelope.OID4VP[0].Decoded.Attributes) == 0 {
		return nil, ErrAttributesUnavailable
	}

	return envelope.OID4VP[0].Decoded.Attributes, nil
}

// CreateOffer forwards an issuance offer creation. The body is the
// caller's offer document, passed through as-is.
func (o *Orchestrator) CreateOffer(ctx context.Context, body json.RawMessage) (*Result, error) {
	return o.client.call(ctx, http.MethodPost, pathOffers, body, "")
}

// GetOffer fetches offer status or its QR image, depending on accept.
func (o *Orchestrator) GetOffer(ctx context.Context, id, accept string) (*Result, error) {
	return o.client.call(ctx, http.MethodGet, pathOffers+"/"+id, nil, accept)
}
