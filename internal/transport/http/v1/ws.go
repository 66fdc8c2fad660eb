package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/stream"
)

const (
	wsMaxMessageSize = 64 * 1024
	wsRequestTimeout = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = wsPongTimeout * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ResurrectWS runs the pipeline over a WebSocket. The first client text
// frame carries the run request; every event is sent as one text frame and
// the server closes normally after the terminal one.
// GET /api/resurrect/ws
func (h *Handler) ResurrectWS(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return nil
	}
	defer ws.Close()

	if h.metrics != nil {
		h.metrics.WSConnectionsActive.Inc()
		defer h.metrics.WSConnectionsActive.Dec()
	}

	conn := &wsConn{ws: ws}
	ws.SetReadLimit(wsMaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(wsRequestTimeout))
	req, err := readRunRequest(ws)
	if err != nil {
		h.logger.Debug().Err(err).Msg("rejected websocket run request")
		conn.send(domain.FailureEvent{Reason: err.Error(), Kind: domain.ClassifyError(err)})
		conn.close(websocket.CloseNormalClosure)
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go conn.readPump(cancel)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	events := h.runner.Resurrect(ctx, req)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.close(websocket.CloseNormalClosure)
				return nil
			}
			if err := conn.send(ev); err != nil {
				h.logger.Warn().Err(err).Str("repo", req.RepositoryURL).Msg("websocket write failed")
				cancel()
				for range events {
				}
				return nil
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				cancel()
			}
		}
	}
}

func readRunRequest(ws *websocket.Conn) (domain.RunRequest, error) {
	var req domain.RunRequest
	kind, data, err := ws.ReadMessage()
	if err != nil {
		return req, err
	}
	if kind != websocket.TextMessage {
		return req, domain.ErrInvalidRequest
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, domain.ErrInvalidRequest
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// wsConn serializes writes on one connection.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(ev domain.Event) error {
	data, err := json.Marshal(stream.ToRecord(ev))
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) close(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
}

// readPump consumes control frames and cancels the run when the client
// goes away.
func (c *wsConn) readPump(cancel context.CancelFunc) {
	defer cancel()
	c.ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
