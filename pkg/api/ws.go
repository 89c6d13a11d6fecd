package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/opencredlab/credex/pkg/poller"
	"github.com/opencredlab/credex/pkg/session"
)

var upgrader = websocket.Upgrader{}

type streamMessage struct {
	ExecutionState string          `json:"execution_state"`
	Status         json.RawMessage `json:"status,omitempty"`
	Attributes     json.RawMessage `json:"attributes,omitempty"`
	Error          string          `json:"error,omitempty"`
	Final          bool            `json:"final,omitempty"`
}

// StreamEndpoint upgrades to a WebSocket and runs the poll loop
// server-side, pushing every status observation to the client. The
// loop stops when the exchange reaches a terminal state or the socket
// closes.
func (p *PresentationAPI) StreamEndpoint(c echo.Context) error {
	sess := session.FromContext(c)

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	sess.Lock()
	active := sess.Exchange != nil
	sess.Unlock()
	if !active {
		ws.WriteJSON(streamMessage{
			Error: "No active session or exchange not initialized",
			Final: true,
		})
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// The client never sends application messages; reading only
	// detects the close handshake.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	loop := poller.New(poller.Config{
		Poll: func(ctx context.Context) (*poller.Status, error) {
			result, err := p.orch.PollStatus(ctx, sess)
			if err != nil {
				return nil, err
			}
			return &poller.Status{
				ExecutionState: result.ExecutionState(),
				Payload:        result.JSON,
			}, nil
		},
		FetchAttributes: func(ctx context.Context) (json.RawMessage, error) {
			return p.orch.FetchDecodedAttributes(ctx, sess)
		},
		OnStatus: func(status *poller.Status) {
			msg := streamMessage{
				ExecutionState: status.ExecutionState,
				Status:         status.Payload,
			}
			if err := ws.WriteJSON(msg); err != nil {
				cancel()
			}
		},
	})

	outcome, err := loop.Run(ctx)
	switch {
	case err == nil:
		ws.WriteJSON(streamMessage{
			ExecutionState: outcome.ExecutionState,
			Attributes:     outcome.Attributes,
			Final:          true,
		})
	case errors.Is(err, context.Canceled):
		// Socket closed or client went away; nothing to send.
	default:
		slog.Warn("exchange stream ended", "session", sess.ID, "error", err)
		if outcome != nil {
			ws.WriteJSON(streamMessage{
				ExecutionState: outcome.ExecutionState,
				Error:          "Exchange did not complete",
				Final:          true,
			})
		}
	}
	return nil
}
