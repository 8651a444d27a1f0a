// Package server wires the bridge's HTTP surface: health probes, the
// telephony webhook, and the media-stream WebSocket endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/bridge/config"
	"github.com/voxbridge/voxbridge/pkg/bridge/mw"
	"github.com/voxbridge/voxbridge/pkg/bridge/protocol"
	"github.com/voxbridge/voxbridge/pkg/bridge/session"
)

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	mux       *http.ServeMux
	lifecycle *Lifecycle
	deps      session.Deps
}

// New builds the server around prepared session dependencies.
func New(cfg config.Config, logger *slog.Logger, deps session.Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		lifecycle: &Lifecycle{},
		deps:      deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.HandleFunc("/voice/inbound", s.handleVoiceInbound)
	s.mux.HandleFunc("/media-stream", s.handleMediaStream)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Drain refuses new sessions, cancels active ones, and waits for them to
// finish or for ctx to expire.
func (s *Server) Drain(ctx context.Context) bool {
	s.lifecycle.SetDraining(true)
	n := s.deps.Registry.CancelAll()
	s.logger.Info("draining", "cancelled_sessions", n)
	return s.deps.Registry.Wait(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		ActiveSessions int      `json:"active_sessions"`
		MaxSessions    int      `json:"max_sessions"`
		AudioFallbacks int64    `json:"audio_fallbacks"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if s.cfg.CartesiaAPIKey == "" {
		issues = append(issues, "cartesia api key not configured")
	}
	if s.cfg.ElevenLabsAPIKey == "" {
		issues = append(issues, "elevenlabs api key not configured")
	}
	if s.cfg.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key not configured")
	}

	draining := s.lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		Draining:       draining,
		ActiveSessions: s.deps.Registry.Count(),
		MaxSessions:    s.cfg.MaxSessions,
		AudioFallbacks: audio.ConversionFallbacks(),
		Issues:         issues,
	})
}

// handleVoiceInbound answers the telephony provider's call webhook with
// instructions to open a media stream against /media-stream, carrying the
// call metadata as custom parameters.
func (s *Server) handleVoiceInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	from := r.FormValue("From")
	to := r.FormValue("To")
	callSID := r.FormValue("CallSid")
	tenantID := r.FormValue("tenantId")
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant")
	}

	s.logger.Info("inbound call webhook", "call_sid", callSID, "from", from, "to", to)

	wsURL := fmt.Sprintf("wss://%s/media-stream", r.Host)
	twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s">
            <Parameter name="tenantId" value="%s"/>
            <Parameter name="from" value="%s"/>
            <Parameter name="to" value="%s"/>
        </Stream>
    </Connect>
</Response>`, wsURL, html.EscapeString(tenantID), html.EscapeString(from), html.EscapeString(to))

	w.Header().Set("Content-Type", "application/xml")
	if _, err := w.Write([]byte(twiml)); err != nil {
		s.logger.Error("writing call instructions failed", "error", err)
	}
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.lifecycle.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	transport := &wsTransport{conn: conn, writeTimeout: s.cfg.WriteTimeout}
	sess := session.New(s.deps, transport)
	log := s.logger.With("session_id", sess.ID())

	unregister, err := s.deps.Registry.Open(sess.ID(), session.Handle{Cancel: sess.Cancel, Session: sess})
	if errors.Is(err, session.ErrSessionLimit) {
		log.Warn("refusing connection, session ceiling reached",
			"active", s.deps.Registry.Count(), "max", s.cfg.MaxSessions)
		s.writeClose(conn, protocol.CloseSessionLimit, "session limit reached")
		return
	}
	if err != nil {
		log.Error("session registration failed", "error", err)
		return
	}
	defer unregister()

	pingCtx, stopPings := context.WithCancel(r.Context())
	defer stopPings()
	go transport.pingLoop(pingCtx, s.cfg.PingInterval)

	log.Info("media stream connected", "remote", r.RemoteAddr)

	switch runErr := sess.Run(r.Context()); {
	case errors.Is(runErr, session.ErrProtocolFault):
		s.writeClose(conn, protocol.CloseProtocolFault, "protocol fault")
	case runErr != nil:
		log.Warn("session ended with error", "error", runErr)
	default:
		s.writeClose(conn, protocol.CloseNormalShutdown, "")
	}
}

func (s *Server) writeClose(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}
