// Package httpserver is the relay's HTTP surface: a "/" status ping, a
// health check, the websocket upgrade and an SSE tail of the event journal
// with optional CEL filtering.
//
// Example:
//
//	s := httpserver.New(svc, j, wsHandler, cfg.AllowedOrigins, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":3001")
package httpserver
