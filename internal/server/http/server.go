package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TysonTheNugget/sketchyflipback/internal/journal"
	"github.com/TysonTheNugget/sketchyflipback/internal/reconcile"
	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

// Server is the outward HTTP surface: a status ping, a health check, the
// websocket upgrade and an SSE tail of the event journal.
type Server struct {
	svc     *reconcile.Service
	journal *journal.Journal
	logger  logpkg.Logger
	started time.Time

	srv *http.Server
	lis net.Listener
}

// New wires the HTTP routes. ws is the already-built websocket handler;
// origins drives the CORS allow list.
func New(svc *reconcile.Service, j *journal.Journal, ws http.Handler, origins []string, logger logpkg.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		svc:     svc,
		journal: j,
		logger:  logger.WithComponent("http"),
		started: time.Now(),
	}
	s.srv = &http.Server{Handler: cors(origins, mux)}
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.Handle("/ws", ws)
	mux.HandleFunc("/v1/events/stream", s.handleEventsSSE)
	return s
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listen address, empty before ListenAndServe.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(allowed) == 0 || allowed[strings.TrimRight(strings.ToLower(origin), "/")]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"service":   "flipback",
		"status":    "ok",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"openGames": len(s.svc.OpenSnapshot()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleEventsSSE tails the event journal as server-sent events. Query
// params: from (start sequence, default: only new events), filter (CEL
// expression over kind/game_id/identity/ts_ms/text/json), follow=false for
// a bounded dump instead of a live tail.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	filter, err := journal.NewFilter(q.Get("filter"))
	if err != nil {
		http.Error(w, fmt.Sprintf("bad filter: %v", err), http.StatusBadRequest)
		return
	}
	start := s.journal.LastSeq() + 1
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "bad from", http.StatusBadRequest)
			return
		}
		start = n
	}
	follow := q.Get("follow") != "false"

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		items, err := s.journal.Read(start, 256)
		if err != nil {
			s.logger.Warn("journal read failed", logpkg.Err(err))
			return
		}
		for _, it := range items {
			start = it.Seq + 1
			if !filter.Eval(it) {
				continue
			}
			fmt.Fprintf(w, "id: %d\n", it.Seq)
			fmt.Fprintf(w, "data: %s\n\n", it.Payload)
		}
		flusher.Flush()
		if len(items) > 0 {
			continue
		}
		if !follow {
			return
		}
		if r.Context().Err() != nil {
			return
		}
		s.journal.WaitForAppend(time.Second)
	}
}
