package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/opencredlab/credex/pkg/api"
	"github.com/opencredlab/credex/pkg/oidc"
	"github.com/opencredlab/credex/pkg/reliablehttp"
	"github.com/opencredlab/credex/pkg/session"
)

// fakeProvider is a minimal OIDC provider: discovery, token and
// userinfo.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"userinfo_endpoint":      srv.URL + "/userinfo",
			"end_session_endpoint":   srv.URL + "/endsession",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sub":"user-1","name":"Jane Doe","given_name":"Jane","family_name":"Doe","email":"jane@example.com"}`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func authServer(t *testing.T) (*echo.Echo, *session.Manager) {
	t.Helper()
	provider := fakeProvider(t)

	transport, err := reliablehttp.NewClient(reliablehttp.WithTimeout(2 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	client, err := oidc.NewClient(context.Background(), oidc.Config{
		Issuer:       provider.URL,
		ClientID:     "dmv-web",
		ClientSecret: "secret",
		RedirectURI:  "https://dmv.example.com/callback",
		Scopes:       []string{"openid", "profile", "email"},
	}, transport)
	if err != nil {
		t.Fatal(err)
	}
	flow, err := oidc.NewLoginFlow(client, oidc.NewMemoryAttemptStore())
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	sessions := session.NewManager()
	cookie := session.CookieConfig{Name: "dmv.session.id"}
	group := e.Group("/auth", session.Middleware(sessions, cookie))
	api.NewAuthAPI(flow, sessions, cookie).MountRoutes(group)
	return e, sessions
}

func TestLoginReturnsAuthorizationURL(t *testing.T) {
	e, _ := authServer(t)

	rec := do(e, http.MethodGet, "/auth/login", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		AuthURL string `json:"authUrl"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.State == "" || !strings.Contains(body.AuthURL, "code_challenge_method=S256") {
		t.Errorf("login start = %+v", body)
	}
}

func TestCallbackAuthenticatesSession(t *testing.T) {
	e, _ := authServer(t)

	rec := do(e, http.MethodGet, "/auth/login", "", "")
	cookie := sessionCookie(t, rec)
	var start struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &start); err != nil {
		t.Fatal(err)
	}

	rec = do(e, http.MethodPost, "/auth/callback",
		fmt.Sprintf(`{"code":"auth-code","state":%q}`, start.State), cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "at-1") {
		t.Error("access token leaked into callback response")
	}
	if !strings.Contains(rec.Body.String(), "Jane") {
		t.Errorf("callback body = %s", rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/auth/status", "", cookie)
	var status struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Authenticated {
		t.Errorf("status body = %s", rec.Body.String())
	}
}

func TestCallbackWithUnknownStateFails(t *testing.T) {
	e, _ := authServer(t)

	rec := do(e, http.MethodPost, "/auth/callback", `{"code":"c","state":"never-issued"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "expired state") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStatusWithoutLoginReportsUnauthenticated(t *testing.T) {
	e, _ := authServer(t)

	rec := do(e, http.MethodGet, "/auth/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"authenticated":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	e, sessions := authServer(t)

	rec := do(e, http.MethodGet, "/auth/login", "", "")
	cookie := sessionCookie(t, rec)
	id := strings.SplitN(cookie, "=", 2)[1]

	rec = do(e, http.MethodPost, "/auth/logout", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := sessions.Get(id); ok {
		t.Error("session survived logout")
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "dmv.session.id" && c.MaxAge >= 0 {
			t.Error("logout did not clear the session cookie")
		}
	}
}

func TestExpiredLoginIsRejectedAndDestroyed(t *testing.T) {
	agency := newFakeAgency(t)
	e, sessions, cookieCfg := dmvServer(t, agency)

	sess := sessions.Create()
	sess.Auth = &session.Authentication{
		AccessToken:    "at-1",
		TokenExpiresAt: time.Now().Add(-time.Minute),
		LoginTime:      time.Now().Add(-time.Hour),
	}
	cookie := cookieCfg.Name + "=" + sess.ID

	rec := do(e, http.MethodPost, "/credentials/offers", `{}`, cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Session Expired") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if _, ok := sessions.Get(sess.ID); ok {
		t.Error("expired session was not destroyed")
	}
}
