package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/opencredlab/credex/pkg/oidc"
	"github.com/opencredlab/credex/pkg/session"
	"github.com/opencredlab/credex/pkg/util"
)

// AuthAPI serves the OIDC login surface of the DMV app.
type AuthAPI struct {
	flow     *oidc.LoginFlow
	sessions *session.Manager
	cookie   session.CookieConfig
}

func NewAuthAPI(flow *oidc.LoginFlow, sessions *session.Manager, cookie session.CookieConfig) *AuthAPI {
	return &AuthAPI{
		flow:     flow,
		sessions: sessions,
		cookie:   cookie,
	}
}

func (a *AuthAPI) MountRoutes(group *echo.Group) {
	group.GET("/login", a.LoginEndpoint)
	group.POST("/callback", a.CallbackEndpoint)
	group.GET("/status", a.StatusEndpoint)
	group.POST("/logout", a.LogoutEndpoint)
}

func (a *AuthAPI) LoginEndpoint(c echo.Context) error {
	start, err := a.flow.Begin(c.Request().Context())
	if err != nil {
		slog.Error("failed to begin login", "error", err)
		return respondWithError(c, elaborate(errTemplateInternal, "Failed to generate authorization URL"))
	}
	return c.JSON(http.StatusOK, start)
}

type callbackRequest struct {
	Code  string `json:"code" form:"code"`
	State string `json:"state" form:"state"`
}

type callbackResponse struct {
	Success  bool           `json:"success"`
	UserInfo *oidc.UserInfo `json:"userInfo"`
	Message  string         `json:"message"`
}

func (a *AuthAPI) CallbackEndpoint(c echo.Context) error {
	var req callbackRequest
	if err := c.Bind(&req); err != nil {
		return respondWithError(c, oidc.ErrInvalidRequest)
	}

	result, err := a.flow.HandleCallback(c.Request().Context(), req.Code, req.State)
	if err != nil {
		slog.Error("login callback failed", "state", util.SanitizeForLog(req.State), "error", err)
		return respondWithError(c, err)
	}

	sess := session.FromContext(c)
	sess.Auth = &session.Authentication{
		UserInfo:       *result.UserInfo,
		AccessToken:    result.AccessToken,
		IDToken:        result.IDToken,
		RefreshToken:   result.RefreshToken,
		TokenExpiresAt: result.TokenExpiresAt,
		LoginTime:      result.LoginTime,
	}

	slog.Info("session authenticated", "session", sess.ID)

	// tokens stay server-side; only the sanitized profile goes back
	return c.JSON(http.StatusOK, callbackResponse{
		Success:  true,
		UserInfo: result.UserInfo,
		Message:  "Authentication successful",
	})
}

type statusResponse struct {
	Authenticated bool           `json:"authenticated"`
	User          *oidc.UserInfo `json:"user,omitempty"`
	LoginTime     int64          `json:"loginTime,omitempty"`
}

// StatusEndpoint reports the session's authentication state. It never
// errors.
func (a *AuthAPI) StatusEndpoint(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil || !sess.Authenticated() {
		return c.JSON(http.StatusOK, statusResponse{Authenticated: false})
	}

	return c.JSON(http.StatusOK, statusResponse{
		Authenticated: true,
		User:          &sess.Auth.UserInfo,
		LoginTime:     sess.Auth.LoginTime.UnixMilli(),
	})
}

type logoutResponse struct {
	Success   bool   `json:"success"`
	LogoutURL string `json:"logoutUrl,omitempty"`
}

// LogoutEndpoint destroys the local session unconditionally. The
// provider end-session URL is best effort.
func (a *AuthAPI) LogoutEndpoint(c echo.Context) error {
	sess := session.FromContext(c)

	var logoutURL string
	if sess != nil {
		if sess.Auth != nil && sess.Auth.IDToken != "" {
			logoutURL = a.flow.LogoutURL(sess.Auth.IDToken)
		}
		a.sessions.Destroy(sess.ID)
	}
	session.ClearCookie(c, a.cookie)

	return c.JSON(http.StatusOK, logoutResponse{Success: true, LogoutURL: logoutURL})
}

// RequireValidSession guards a router group with authentication and
// token-lifetime checks. An expired login destroys the session.
func RequireValidSession(sessions *session.Manager, cookie session.CookieConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess := session.FromContext(c)
			if sess == nil || !sess.Authenticated() {
				return respondWithError(c, elaborate(errTemplateUnauthorized, ""))
			}
			if sess.AuthExpired(time.Now()) {
				slog.Info("session expired", "session", sess.ID)
				sessions.Destroy(sess.ID)
				session.ClearCookie(c, cookie)
				return respondWithError(c, &Error{
					HttpStatusCode: http.StatusUnauthorized,
					Code:           "Session Expired",
					Description:    "Please login again",
				})
			}
			return next(c)
		}
	}
}
