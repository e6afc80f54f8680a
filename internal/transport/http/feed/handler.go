package feed

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/auth"
	"github.com/Additional-Code/printshop/internal/dto"
	"github.com/Additional-Code/printshop/internal/entity"
	"github.com/Additional-Code/printshop/internal/livequery"
	"github.com/Additional-Code/printshop/internal/presentation/http/response"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxCommand   = 4096
)

// Module wires the staff live feed.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, provider *auth.Provider, h *Handler) {
		e.GET("/staff/feed", h.serve, provider.RequireSession())
	}),
)

// Handler streams live order views to staff dashboards over WebSocket.
type Handler struct {
	hub      *livequery.Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler constructs a feed Handler.
func NewHandler(hub *livequery.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) serve(c echo.Context) error {
	filter := parseFilter(c.QueryParam("status"))
	search := c.QueryParam("q")
	listener, err := h.hub.Listen(filter, search)
	if err != nil {
		return response.New(c).WithError(err).Build()
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		listener.Close()
		h.logger.Warn("feed upgrade failed", zap.Error(err))
		return nil
	}

	staff := auth.StaffEmail(c)
	h.logger.Info("feed connected", zap.String("staff", staff), zap.String("filter", string(filter)))
	defer h.logger.Info("feed disconnected", zap.String("staff", staff))

	h.run(conn, listener, search)
	return nil
}

// run owns the connection writer and the current listener until the client
// goes away or the hub shuts down.
func (h *Handler) run(conn *websocket.Conn, listener *livequery.Listener, search string) {
	defer conn.Close()
	defer func() { listener.Close() }()

	commands := make(chan dto.FeedCommand)
	readDone := make(chan struct{})
	go h.read(conn, commands, readDone)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case view, ok := <-listener.Views():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, toMessage(view)); err != nil {
				return
			}
		case cmd := <-commands:
			if cmd.Search != nil {
				search = *cmd.Search
			}
			if cmd.Status != nil && parseFilter(*cmd.Status) != listener.Filter() {
				next, err := h.hub.Listen(parseFilter(*cmd.Status), search)
				if err != nil {
					if werr := h.write(conn, errorMessage(err)); werr != nil {
						return
					}
					continue
				}
				listener.Close()
				listener = next
				continue
			}
			if cmd.Search != nil {
				listener.SetSearch(*cmd.Search)
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) read(conn *websocket.Conn, commands chan<- dto.FeedCommand, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxCommand)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd dto.FeedCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("feed read ended", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case commands <- cmd:
		case <-time.After(writeWait):
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg dto.FeedMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("feed write failed", zap.Error(err))
		return err
	}
	return nil
}

func toMessage(v livequery.View) dto.FeedMessage {
	if v.Err != nil {
		msg := errorMessage(v.Err)
		msg.Filter = string(v.Filter)
		msg.Seq = v.Seq
		return msg
	}
	return dto.FeedMessage{
		Type:   "snapshot",
		Filter: string(v.Filter),
		Search: v.Search,
		Total:  v.Total,
		Orders: dto.FromOrders(v.Orders),
		Seq:    v.Seq,
	}
}

func errorMessage(err error) dto.FeedMessage {
	appErr := errorbank.From(err)
	return dto.FeedMessage{
		Type:  "error",
		Error: &dto.FeedError{Kind: string(appErr.Kind()), Message: appErr.Message()},
	}
}

func parseFilter(raw string) entity.Filter {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return entity.FilterAll
	}
	return entity.Filter(raw)
}
