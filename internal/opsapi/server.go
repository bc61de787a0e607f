// Package opsapi exposes the live operator surface (C11): a JSON stats
// endpoint and a WebSocket feed mirroring engine lifecycle events, built the
// same way the rest of the repo wires its HTTP surface (plain net/http plus
// the shared websocket hub).
package opsapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"cdrengine/internal/auth"
	"cdrengine/internal/cdr"
	ws "cdrengine/internal/websocket"
)

// Server serves the operator dashboard's backing endpoints.
type Server struct {
	engine *cdr.Engine
	hub    *ws.Hub
	log    zerolog.Logger
}

// New builds a Server bound to engine. It wires the engine's lifecycle hook
// to broadcast every transition/dispatch/batch-flush through the websocket
// package's global hub (ws.GlobalHub); hub is stored but not used for that.
func New(engine *cdr.Engine, hub *ws.Hub, log zerolog.Logger) *Server {
	s := &Server{
		engine: engine,
		hub:    hub,
		log:    log.With().Str("component", "cdr.opsapi").Logger(),
	}
	engine.SetLifecycleFunc(s.onLifecycle)
	return s
}

func (s *Server) onLifecycle(event string, rec *cdr.CdrObject) {
	switch event {
	case "transition":
		if rec == nil {
			return
		}
		ws.BroadcastLifecycleEvent(ws.EventChainTransition, ws.TransitionPayload{
			Channel:  rec.Name,
			State:    rec.State.String(),
			Sequence: rec.Sequence,
		})
	case "dispatch":
		if rec == nil {
			return
		}
		ws.BroadcastLifecycleEvent(ws.EventRecordDispatch, ws.DispatchPayload{
			Channel:  rec.Name,
			State:    rec.State.String(),
			Sequence: rec.Sequence,
		})
	case "batch_flush":
		var payload ws.BatchFlushPayload
		if rec != nil {
			payload.Channel = rec.Name
			payload.Sequence = rec.Sequence
		}
		ws.BroadcastLifecycleEvent(ws.EventBatchFlush, payload)
	}
}

// Mux builds the HTTP handler serving /ws, /stats, and /health. /stats and
// /ws require a bearer token carrying at least auth.RoleViewer; /health
// stays open for load-balancer probes.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", auth.Middleware(auth.RequireRole(auth.RoleViewer, http.HandlerFunc(ws.HandleWebSocket))))
	mux.Handle("/stats", auth.Middleware(auth.RequireRole(auth.RoleViewer, http.HandlerFunc(s.handleStats))))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe starts the operator HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info().Str("addr", addr).Msg("operator surface listening")
	return http.ListenAndServe(addr, s.Mux())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.log.Error().Err(err).Msg("failed encoding stats response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
