package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/opencredlab/credex/pkg/diagency"
	"github.com/opencredlab/credex/pkg/session"
	"github.com/opencredlab/credex/pkg/util"
)

// sendResult renders a forwarded upstream Result exhaustively by
// kind.
func sendResult(c echo.Context, result *diagency.Result) error {
	header := c.Response().Header()
	for key, values := range result.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}

	switch result.Kind {
	case diagency.KindRedirect:
		return c.Redirect(http.StatusFound, result.Location)
	case diagency.KindJSON:
		return c.JSONBlob(result.Status, result.JSON)
	case diagency.KindBinary:
		return c.Blob(result.Status, result.ContentType, result.Binary)
	default:
		contentType := result.ContentType
		if contentType == "" {
			contentType = echo.MIMETextPlainCharsetUTF8
		}
		return c.Blob(result.Status, contentType, []byte(result.Text))
	}
}

// forbidden is the fallthrough for every path outside the explicit
// route list. It answers before any upstream call could happen.
func forbidden(c echo.Context) error {
	slog.Warn("blocked unauthorized request",
		"method", util.SanitizeForLog(c.Request().Method),
		"path", util.SanitizeForLog(c.Request().URL.Path))
	return respondWithError(c, elaborate(errTemplateForbidden, ""))
}

// PresentationAPI serves the bank app's verification surface:
// create-or-resume, poll, decoded attributes and the websocket status
// stream. Sessions stay anonymous here.
type PresentationAPI struct {
	orch *diagency.Orchestrator
}

func NewPresentationAPI(orch *diagency.Orchestrator) *PresentationAPI {
	return &PresentationAPI{orch: orch}
}

func (p *PresentationAPI) MountRoutes(group *echo.Group) {
	group.POST("/verifiable/presentation", p.CreateEndpoint)
	group.GET("/verifiable/presentation", p.PollEndpoint)
	group.GET("/verifiable/presentation/vc", p.AttributesEndpoint)
	group.GET("/verifiable/presentation/ws", p.StreamEndpoint)
	group.Any("/*", forbidden)
}

func (p *PresentationAPI) CreateEndpoint(c echo.Context) error {
	var req diagency.CreateRequest
	if err := c.Bind(&req); err != nil {
		return respondWithError(c, elaborate(errTemplateBadRequest, "Malformed request body"))
	}

	sess := session.FromContext(c)
	result, err := p.orch.CreateOrResume(c.Request().Context(), sess, req)
	if err != nil {
		slog.Error("exchange creation failed", "session", sess.ID, "error", err)
		return respondWithError(c, err)
	}

	return sendResult(c, result)
}

func (p *PresentationAPI) PollEndpoint(c echo.Context) error {
	sess := session.FromContext(c)
	result, err := p.orch.PollStatus(c.Request().Context(), sess)
	if err != nil {
		return respondWithError(c, err)
	}
	return sendResult(c, result)
}

type attributesResponse struct {
	Attributes json.RawMessage `json:"attributes"`
}

func (p *PresentationAPI) AttributesEndpoint(c echo.Context) error {
	sess := session.FromContext(c)
	attrs, err := p.orch.FetchDecodedAttributes(c.Request().Context(), sess)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(http.StatusOK, attributesResponse{Attributes: attrs})
}

// OffersAPI serves the DMV app's issuance surface. Every route sits
// behind RequireValidSession.
type OffersAPI struct {
	orch *diagency.Orchestrator
}

func NewOffersAPI(orch *diagency.Orchestrator) *OffersAPI {
	return &OffersAPI{orch: orch}
}

func (o *OffersAPI) MountRoutes(group *echo.Group, guard echo.MiddlewareFunc) {
	group.Use(guard)
	group.POST("/offers", o.CreateEndpoint)
	group.GET("/offers/:id", o.GetEndpoint)
	group.Any("/*", forbidden)
}

func (o *OffersAPI) CreateEndpoint(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return respondWithError(c, elaborate(errTemplateBadRequest, "Malformed request body"))
	}

	result, err := o.orch.CreateOffer(c.Request().Context(), body)
	if err != nil {
		slog.Error("offer creation failed", "error", err)
		return respondWithError(c, err)
	}

	return sendResult(c, result)
}

func (o *OffersAPI) GetEndpoint(c echo.Context) error {
	id := c.Param("id")
	if err := uuid.Validate(id); err != nil {
		slog.Warn("blocked malformed offer id", "id", util.SanitizeForLog(id))
		return respondWithError(c, &Error{
			HttpStatusCode: http.StatusBadRequest,
			Code:           "Forbidden",
			Description:    "Access to this endpoint is forbidden",
		})
	}

	result, err := o.orch.GetOffer(c.Request().Context(), id, c.Request().Header.Get("Accept"))
	if err != nil {
		return respondWithError(c, err)
	}

	return sendResult(c, result)
}
