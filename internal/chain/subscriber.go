package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

const (
	subWriteTimeout = 10 * time.Second
	subReadTimeout  = 90 * time.Second
	subPingPeriod   = 30 * time.Second
)

// Handler receives decoded events in delivery order.
type Handler func(Event)

// Subscriber maintains a live eth_subscribe log stream over a websocket
// endpoint. On any transport error it reconnects after a fixed delay,
// indefinitely; events emitted while disconnected are simply missed and are
// recovered by the resync/fallback paths.
type Subscriber struct {
	wsURL     string
	addresses []string
	delay     time.Duration
	handler   Handler
	logger    logpkg.Logger
	dialer    *websocket.Dialer
}

// NewSubscriber builds a Subscriber filtering logs to the given contract
// addresses. delay is the fixed reconnect delay.
func NewSubscriber(wsURL string, addresses []string, delay time.Duration, handler Handler, logger logpkg.Logger) *Subscriber {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Subscriber{
		wsURL:     wsURL,
		addresses: addresses,
		delay:     delay,
		handler:   handler,
		logger:    logger.WithComponent("subscriber"),
		dialer:    &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// Run blocks until ctx is cancelled, holding the subscription open and
// reconnecting after the fixed delay on every failure.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("subscription dropped, reconnecting",
			logpkg.Err(err), logpkg.Dur("delay", s.delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}
}

type wsMessage struct {
	ID     int64           `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *struct {
		Subscription string `json:"subscription"`
		Result       Log    `json:"result"`
	} `json:"params,omitempty"`
	Error *rpcError `json:"error,omitempty"`
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"logs", map[string]any{"address": s.addresses}},
	}
	conn.SetWriteDeadline(time.Now().Add(subWriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(subReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(subReadTimeout))
	})

	// Single writer from here on: the ping loop. The main loop only reads.
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(subPingPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				conn.SetWriteDeadline(time.Now().Add(subWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	s.logger.Info("subscribed to contract logs", logpkg.Any("addresses", s.addresses))
	for {
		var m wsMessage
		if err := conn.ReadJSON(&m); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(subReadTimeout))
		if m.Error != nil {
			return fmt.Errorf("subscription: %w", m.Error)
		}
		if m.Method != "eth_subscription" || m.Params == nil {
			continue
		}
		lg := m.Params.Result
		if lg.Removed {
			// Reorged-out log; the periodic resync reconciles any divergence.
			continue
		}
		if ev, ok := DecodeLog(lg); ok {
			s.handler(ev)
		}
	}
}
