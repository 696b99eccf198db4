package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TysonTheNugget/sketchyflipback/internal/reconcile"
	"github.com/TysonTheNugget/sketchyflipback/internal/session"
	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

// request is the inbound client envelope. Fields beyond Type are read per
// request kind; unknown kinds are answered with an error message.
type request struct {
	Type    string   `json:"type"`
	Address string   `json:"address,omitempty"`
	GameID  string   `json:"gameId,omitempty"`
	GameIDs []string `json:"gameIds,omitempty"`
}

// Handler upgrades HTTP requests to websocket sessions and dispatches their
// messages into the reconciler and session directory.
type Handler struct {
	svc     *reconcile.Service
	dir     *session.Directory
	logger  logpkg.Logger
	upgrade websocket.Upgrader
}

// NewHandler builds the websocket endpoint. origins is the allowed Origin
// list; an empty list allows everything (same-host tools, curl).
func NewHandler(svc *reconcile.Service, dir *session.Directory, origins []string, logger logpkg.Logger) *Handler {
	h := &Handler{svc: svc, dir: dir, logger: logger.WithComponent("ws")}
	h.upgrade = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return allowed[strings.TrimRight(strings.ToLower(origin), "/")]
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wc, err := h.upgrade.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", logpkg.Err(err))
		return
	}
	c := newClient(wc, h.logger)
	h.dir.Attach(c)
	go c.writePump()
	h.readLoop(r.Context(), c)
	h.dir.Detach(c)
	close(c.quit)
}

func (h *Handler) readLoop(ctx context.Context, c *client) {
	c.wc.SetReadLimit(1 << 16)
	c.wc.SetReadDeadline(time.Now().Add(pongTimeout))
	c.wc.SetPongHandler(func(string) error {
		c.wc.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		_, data, err := c.wc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read failed", logpkg.Err(err))
			}
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.Send(session.Message{Type: "error", Data: map[string]string{"error": "malformed request"}})
			continue
		}
		h.dispatch(ctx, c, req)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *client, req request) {
	switch req.Type {
	case "register":
		identity := h.dir.Register(req.Address, c)
		if identity == "" {
			c.Send(session.Message{Type: "error", Data: map[string]string{"error": "register needs an address"}})
			return
		}
		// Registration reply: current open set and leaderboard right away.
		c.Send(session.Message{Type: "openGames", Data: h.svc.OpenSnapshot()})
		c.Send(session.Message{Type: "leaderboard", Data: h.svc.Leaderboard()})

	case "requestOpenGames":
		c.Send(session.Message{Type: "openGames", Data: h.svc.OpenSnapshot()})

	case "requestLeaderboard":
		c.Send(session.Message{Type: "leaderboard", Data: h.svc.Leaderboard()})

	case "requestBacklog":
		c.Send(session.Message{Type: "backlog", Data: h.svc.VisibleBacklog(req.Address)})

	case "acknowledge":
		h.svc.Acknowledge(req.Address, req.GameID)

	case "acknowledgeBatch":
		h.svc.AcknowledgeBatch(req.Address, req.GameIDs)

	case "markViewed":
		h.svc.MarkViewed(req.Address, req.GameIDs)

	case "remove":
		h.svc.Remove(req.Address, req.GameID)

	case "requestResolution":
		// The fallback can block for several seconds; keep reading while it
		// runs.
		go h.resolve(ctx, c, req)

	case "requestPoints":
		go h.points(ctx, c, req)

	default:
		c.Send(session.Message{Type: "error", Data: map[string]string{"error": "unknown request type: " + req.Type}})
	}
}

func (h *Handler) resolve(ctx context.Context, c *client, req request) {
	game, err := h.svc.RequestResolution(ctx, req.GameID, req.Address)
	if err != nil {
		c.Send(session.Message{Type: "resolutionResult", Data: map[string]string{
			"gameId": req.GameID,
			"error":  errorCode(err),
		}})
		return
	}
	c.Send(session.Message{Type: "resolutionResult", Data: map[string]any{
		"gameId": game.ID,
		"winner": game.Winner,
		"game":   game,
	}})
}

func (h *Handler) points(ctx context.Context, c *client, req request) {
	view, err := h.svc.RequestPoints(ctx, req.Address)
	if err != nil {
		c.Send(session.Message{Type: "error", Data: map[string]string{"error": "points lookup failed"}})
		return
	}
	c.Send(session.Message{Type: "points", Data: view})
}

// errorCode maps fallback outcomes to the stable strings clients match on.
func errorCode(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, reconcile.ErrNotJoined):
		return "not_joined"
	case errors.Is(err, reconcile.ErrCanceled):
		return "canceled"
	case errors.Is(err, reconcile.ErrNotYetResolved):
		return "not_yet_resolved"
	default:
		return "unavailable"
	}
}
