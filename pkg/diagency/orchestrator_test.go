package diagency_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencredlab/credex/pkg/diagency"
	"github.com/opencredlab/credex/pkg/oauth2"
	"github.com/opencredlab/credex/pkg/reliablehttp"
	"github.com/opencredlab/credex/pkg/session"
)

// fakeAgency simulates the upstream credential agency plus its token
// endpoint.
type fakeAgency struct {
	srv *httptest.Server

	mux      sync.Mutex
	requests []string // "METHOD path" in arrival order

	exchangeStatus string
	verification   string
}

func newFakeAgency(t *testing.T) *fakeAgency {
	t.Helper()
	a := &fakeAgency{
		exchangeStatus: `{"id":"ex1","execution_state":"pending"}`,
		verification:   `{"oid4vp":[{"decoded":{"attributes":[{"id":"given_name","value":"Jane"}]}}]}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"machine-token","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer machine-token" {
			t.Errorf("upstream call authorization = %q", got)
		}
		a.record(r.Method + " " + r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1.0/oidvc/vp/exchange":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decoding creation body: %v", err)
			}
			if body["template_id"] != "tmpl-1" {
				t.Errorf("template_id = %v", body["template_id"])
			}
			fmt.Fprint(w, `{"id":"ex1","wallet_engagement":"openid4vp://example"}`)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1.0/oidvc/vp/exchange/"):
			fmt.Fprint(w, a.exchangeStatus)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1.0/oidvc/vp/exchange/"):
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1.0/diagency/verifications/"):
			fmt.Fprint(w, a.verification)
		default:
			http.NotFound(w, r)
		}
	})

	a.srv = httptest.NewServer(mux)
	t.Cleanup(a.srv.Close)
	return a
}

func (a *fakeAgency) record(line string) {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.requests = append(a.requests, line)
}

func (a *fakeAgency) recorded() []string {
	a.mux.Lock()
	defer a.mux.Unlock()
	return append([]string(nil), a.requests...)
}

func newTestOrchestrator(t *testing.T, a *fakeAgency) *diagency.Orchestrator {
	t.Helper()
	transport, err := reliablehttp.NewClient(reliablehttp.WithTimeout(2 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	broker := oauth2.NewTokenBroker(oauth2.BrokerConfig{
		TokenURL:     a.srv.URL + "/token",
		ClientID:     "bank-agent",
		ClientSecret: "secret",
	}, transport)
	client := diagency.NewClient(diagency.ClientConfig{BaseURL: a.srv.URL}, broker, transport, nil)
	return diagency.NewOrchestrator(diagency.OrchestratorConfig{TemplateID: "tmpl-1"}, client)
}

func TestCreateStoresExchangeRef(t *testing.T) {
	agency := newFakeAgency(t)
	orch := newTestOrchestrator(t, agency)
	sess := &session.Session{ID: "s1"}

	result, err := orch.CreateOrResume(context.Background(), sess, diagency.CreateRequest{WithQRCode: true})
	if err != nil {
		t.Fatal(err)
	}

	if result.Kind != diagency.KindJSON {
		t.Errorf("result kind = %v, want JSON", result.Kind)
	}
	if sess.Exchange == nil || sess.Exchange.ID != "ex1" {
		t.Fatalf("exchange ref = %+v", sess.Exchange)
	}
	if !strings.Contains(string(result.JSON), "wallet_engagement") {
		t.Error("creation payload must be returned verbatim")
	}
}

func TestRecreateDeletesOldExchangeFirst(t *testing.T) {
	agency := newFakeAgency(t)
	orch := newTestOrchestrator(t, agency)
	sess := &session.Session{ID: "s1", Exchange: &session.ExchangeRef{ID: "ex0"}}

	if _, err := orch.CreateOrResume(context.Background(), sess, diagency.CreateRequest{}); err != nil {
		t.Fatal(err)
	}

	requests := agency.recorded()
	if len(requests) != 2 {
		t.Fatalf("requests = %v", requests)
	}
	if requests[0] != "DELETE /v1.0/oidvc/vp/exchange/ex0" {
		t.Errorf("first upstream call = %q, want DELETE of the old exchange", requests[0])
	}
	if requests[1] != "POST /v1.0/oidvc/vp/exchange" {
		t.Errorf("second upstream call = %q, want creation POST", requests[1])
	}
	if sess.Exchange.ID != "ex1" {
		t.Errorf("exchange ref = %q, want ex1", sess.Exchange.ID)
	}
}

func TestPollWithoutExchange(t *testing.T) {
	agency := newFakeAgency(t)
	orch := newTestOrchestrator(t, agency)
	sess := &session.Session{ID: "s1"}

	_, err := orch.PollStatus(context.Background(), sess)
	if !errors.Is(err, diagency.ErrNoActiveExchange) {
		t.Fatalf("got %v, want ErrNoActiveExchange", err)
	}
	if len(agency.recorded()) != 0 {
		t.Errorf("no upstream call may happen without an exchange, got %v", agency.recorded())
	}
}

func TestPollUpdatesLastStatus(t *testing.T) {
	agency := newFakeAgency(t)
	orch := newTestOrchestrator(t, agency)
	sess := &session.Session{ID: "s1"}

	if _, err := orch.CreateOrResume(context.Background(), sess, diagency.CreateRequest{}); err != nil {
		t.Fatal(err)
	}

	agency.exchangeStatus = `{"id":"ex1","execution_state":"success"}`
	result, err := orch.PollStatus(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}

	if result.ExecutionState() != diagency.StateSuccess {
		t.Errorf("execution state = %q", result.ExecutionState())
	}
	if !result.IsTerminal() {
		t.Error("success must be terminal")
	}
	if !strings.Contains(string(sess.Exchange.LastStatus), "success") {
		t.Error("session LastStatus not updated")
	}
	// the reference survives a success observation
	if sess.Exchange == nil {
		t.Error("exchange ref must not be cleared on success")
	}
}

func TestFetchDecodedAttributes(t *testing.T) {
	agency := newFakeAgency(t)
	orch := newTestOrchestrator(t, agency)
	sess := &session.Session{ID: "s1"}

	if _, err := orch.CreateOrResume(context.Background(), sess, diagency.CreateRequest{}); err != nil {
		t.Fatal(err)
	}

	attrs, err := orch.FetchDecodedAttributes(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}

	var decoded []map[string]string
	if err := json.Unmarshal(attrs, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 || decoded[0]["value"] != "Jane" {
		t.Errorf("attributes = %v", decoded)
	}
}

func TestFetchDecodedAttributesUnavailable(t *testing.T) {
	agency := newFakeAgency(t)
	agency.verification = `{"oid4vp":[]}`
	orch := newTestOrchestrator(t, agency)
	sess := &session.Session{ID: "s1"}

	if _, err := orch.CreateOrResume(context.Background(), sess, diagency.CreateRequest{}); err != nil {
		t.Fatal(err)
	}

	if _, err := orch.FetchDecodedAttributes(context.Background(), sess); !errors.Is(err, diagency.ErrAttributesUnavailable) {
		t.Fatalf("got %v, want ErrAttributesUnavailable", err)
	}
}

func TestGatewayErrorWhenUpstreamUnreachable(t *testing.T) {
	agency := newFakeAgency(t)
	orch := newTestOrchestrator(t, agency)
	sess := &session.Session{ID: "s1"}

	// acquire the token first so only the agency call fails
	if _, err := orch.CreateOrResume(context.Background(), sess, diagency.CreateRequest{}); err != nil {
		t.Fatal(err)
	}
	agency.srv.Close()

	_, err := orch.PollStatus(context.Background(), sess)
	var gwErr *diagency.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("got %T (%v), want GatewayError", err, err)
	}
}
