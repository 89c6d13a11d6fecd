package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
)

// PublicConfig holds the runtime settings a served frontend may read.
// Secrets never belong here.
type PublicConfig struct {
	AppName     string `json:"appName"`
	APIBaseURL  string `json:"apiBaseUrl"`
	Environment string `json:"environment"`
}

// MountStatic serves a single-page frontend from dir with an
// index.html fallback for client-side routes, plus a generated
// /config.js carrying the public runtime settings.
func MountStatic(e *echo.Echo, dir string, cfg PublicConfig) {
	e.GET("/config.js", func(c echo.Context) error {
		body := fmt.Sprintf(
			"window.APP_CONFIG = {appName: %q, apiBaseUrl: %q, environment: %q};\n",
			cfg.AppName, cfg.APIBaseURL, cfg.Environment)
		return c.Blob(http.StatusOK, "application/javascript", []byte(body))
	})

	e.Static("/", dir)

	// Unknown non-API paths fall back to index.html so deep links
	// into the frontend resolve.
	index := filepath.Join(dir, "index.html")
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		httpErr, ok := err.(*echo.HTTPError)
		if ok && httpErr.Code == http.StatusNotFound &&
			c.Request().Method == http.MethodGet &&
			!strings.HasPrefix(c.Request().URL.Path, "/auth") &&
			!strings.HasPrefix(c.Request().URL.Path, "/credentials") {
			if _, statErr := os.Stat(index); statErr == nil {
				c.File(index)
				return
			}
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}
