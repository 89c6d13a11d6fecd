// Package api exposes the browser-facing HTTP surface of both apps:
// the login endpoints, the verifiable-presentation exchange endpoints
// and the issuance-offer endpoints.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opencredlab/credex/pkg/diagency"
	"github.com/opencredlab/credex/pkg/oauth2"
	"github.com/opencredlab/credex/pkg/oidc"
	"github.com/opencredlab/credex/pkg/reliablehttp"
)

// Error is rendered verbatim as the JSON error body. Descriptions are
// static or sanitized; raw upstream errors and tokens never reach the
// browser.
type Error struct {
	HttpStatusCode int    `json:"-"`
	Code           string `json:"error"`
	Description    string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("error: %s, description: %s", e.Code, e.Description)
}

var (
	errTemplateBadRequest = Error{
		HttpStatusCode: http.StatusBadRequest,
		Code:           "Bad Request",
	}
	errTemplateUnauthorized = Error{
		HttpStatusCode: http.StatusUnauthorized,
		Code:           "Unauthorized",
		Description:    "Authentication required",
	}
	errTemplateForbidden = Error{
		HttpStatusCode: http.StatusForbidden,
		Code:           "Forbidden",
		Description:    "Access to this endpoint is forbidden",
	}
	errTemplateInternal = Error{
		HttpStatusCode: http.StatusInternalServerError,
		Code:           "Internal Server Error",
		Description:    "Failed to process request",
	}
	errTemplateGateway = Error{
		HttpStatusCode: http.StatusGatewayTimeout,
		Code:           "Gateway Timeout",
		Description:    "No response received from server",
	}
)

func elaborate(template Error, description string, a ...any) *Error {
	if description != "" {
		template.Description = fmt.Sprintf(description, a...)
	}
	return &template
}

// mapError translates the domain taxonomy into response codes.
func mapError(err error) *Error {
	switch {
	case errors.Is(err, oidc.ErrInvalidRequest):
		return elaborate(errTemplateBadRequest, "Missing code or state")
	case errors.Is(err, oidc.ErrExpiredState):
		return elaborate(errTemplateBadRequest, "Invalid or expired state")
	case errors.Is(err, diagency.ErrNoActiveExchange):
		return elaborate(errTemplateBadRequest, "No active session or exchange not initialized")
	case errors.Is(err, diagency.ErrAttributesUnavailable):
		return elaborate(errTemplateBadRequest, "Verification attributes not available")
	case errors.Is(err, diagency.ErrForbidden):
		return elaborate(errTemplateForbidden, "")
	}

	var gwErr *diagency.GatewayError
	if errors.As(err, &gwErr) {
		return elaborate(errTemplateGateway, "")
	}
	var transportErr *reliablehttp.TransportError
	if errors.As(err, &transportErr) {
		return elaborate(errTemplateGateway, "")
	}
	var tokenErr *oauth2.TokenAcquisitionError
	if errors.As(err, &tokenErr) {
		return &Error{
			HttpStatusCode: http.StatusBadGateway,
			Code:           "Bad Gateway",
			Description:    "Failed to authenticate with upstream service",
		}
	}

	return elaborate(errTemplateInternal, "")
}

func respondWithError(c echo.Context, err error) error {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = mapError(err)
	}
	return c.JSON(apiErr.HttpStatusCode, apiErr)
}
