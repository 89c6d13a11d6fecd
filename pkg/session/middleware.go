package session

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const contextKey = "credex.session"

type CookieConfig struct {
	// Name of the session cookie, e.g. "bank.session.id".
	Name string
	// Production requires HTTPS and strict same-site; development
	// relaxes both for localhost.
	Production bool
}

func (c CookieConfig) newCookie(id string) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if c.Production {
		sameSite = http.SameSiteStrictMode
	}
	return &http.Cookie{
		Name:     c.Name,
		Value:    id,
		Path:     "/",
		MaxAge:   int(DefaultTTL.Seconds()),
		Secure:   c.Production,
		HttpOnly: true,
		SameSite: sameSite,
	}
}

// Middleware resolves the session referenced by the request cookie,
// creating one on first contact, and stashes it in the echo context.
func Middleware(manager *Manager, cookie CookieConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var sess *Session
			if raw, err := c.Cookie(cookie.Name); err == nil {
				sess, _ = manager.Get(raw.Value)
			}
			if sess == nil {
				sess = manager.Create()
				c.SetCookie(cookie.newCookie(sess.ID))
			}
			c.Set(contextKey, sess)
			return next(c)
		}
	}
}

// FromContext returns the session placed by Middleware. Handlers
// mounted behind the middleware may assume it is present.
func FromContext(c echo.Context) *Session {
	sess, _ := c.Get(contextKey).(*Session)
	return sess
}

// ClearCookie expires the session cookie on the response.
func ClearCookie(c echo.Context, cookie CookieConfig) {
	expired := cookie.newCookie("")
	expired.MaxAge = -1
	c.SetCookie(expired)
}
