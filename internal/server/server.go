// Package server implements the HTTP boundary of the runtime: the agent
// invocation entrypoint, the reply side channel, and the probe endpoints.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/data"
	"github.com/agentuity/runtime-go/internal/correlate"
	"github.com/agentuity/runtime-go/internal/deferred"
	"github.com/agentuity/runtime-go/internal/observability"
	"github.com/agentuity/runtime-go/internal/resolve"
	"github.com/agentuity/runtime-go/internal/wire"
	"github.com/agentuity/runtime-go/pkg/config"
	pkgobs "github.com/agentuity/runtime-go/pkg/observability"
)

// Hosted pairs a configured agent definition with its handler.
type Hosted struct {
	Config  config.AgentConfig
	Handler agent.Agent
}

// Server is the embedded HTTP server hosting one or more agents.
type Server struct {
	port       int
	agents     map[string]Hosted
	resolver   *resolve.Service
	correlator correlate.Correlator
	busy       *pkgobs.Busy
	health     *pkgobs.HealthChecker
	completer  deferred.SessionCompleter
	encoder    *wire.Encoder

	httpSrv *http.Server
}

// New builds a server from the hosted agents and the shared services.
// completer may be nil when no control plane is configured.
func New(port int, hosted []Hosted, resolver *resolve.Service, correlator correlate.Correlator, busy *pkgobs.Busy, completer deferred.SessionCompleter, debug bool) *Server {
	agents := make(map[string]Hosted, len(hosted))
	for _, h := range hosted {
		agents[h.Config.ID] = h
	}

	s := &Server{
		port:       port,
		agents:     agents,
		resolver:   resolver,
		correlator: correlator,
		busy:       busy,
		health:     pkgobs.NewHealthChecker(),
		completer:  completer,
		encoder:    &wire.Encoder{Debug: debug},
	}

	s.health.RegisterCheck(&pkgobs.HealthCheck{
		Name:     "agents",
		Critical: true,
		CheckFunc: func(ctx context.Context) error {
			if len(s.agents) == 0 {
				return fmt.Errorf("no agents registered")
			}
			return nil
		},
	})

	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     s.routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{agentID}", s.handleInvoke)
	mux.HandleFunc("POST /_reply/{token}", s.handleReply)
	mux.HandleFunc("GET /_health", pkgobs.HealthHandler(s.health))
	mux.HandleFunc("GET /_idle", pkgobs.IdleHandler(s.busy))
	mux.HandleFunc("GET /welcome", s.handleWelcome)
	mux.HandleFunc("GET /welcome/{agentID}", s.handleWelcome)
	mux.Handle("GET /metrics", pkgobs.MetricsHandler())
	return s.withMetrics(mux)
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] listening on :%d with %d agent(s)", s.port, len(s.agents))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	log.Printf("[Server] shutting down")
	return s.httpSrv.Shutdown(ctx)
}

// handleInvoke is the primary invocation entrypoint: POST /{agentID}.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	hosted, ok := s.agents[agentID]
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("agent %q not found", agentID))
		return
	}

	trigger := agent.Trigger(r.Header.Get(agent.HeaderTrigger))
	if trigger == "" {
		trigger = agent.TriggerWebhook
	}
	sessionID := r.Header.Get(agent.HeaderSessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := observability.Extract(r.Context(), r.Header)
	ctx, span := observability.StartSpan(ctx, "agent.run", map[string]any{
		"agent.id":   agentID,
		"agent.name": hosted.Config.Name,
		"trigger":    string(trigger),
		"session.id": sessionID,
	})
	defer span.End()

	tracker := deferred.NewTracker(s.busy, s.completer)
	req := &agent.Request{
		AgentID:    agentID,
		SessionID:  sessionID,
		Trigger:    trigger,
		Metadata:   agent.MetadataFromHeaders(r.Header),
		Data:       data.FromReader(r.Body, r.Header.Get("Content-Type")),
		Agents:     s.resolver.ForAgent(agentID),
		Background: tracker,
	}

	start := time.Now()
	resp, err := hosted.Handler.Run(ctx, req)
	if err != nil {
		span.RecordError(err)
		pkgobs.RecordAgentInvocation(agentID, string(trigger), "error", time.Since(start))
		log.Printf("[Server] agent %s failed: %v", agentID, err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		s.finalize(ctx, tracker, sessionID)
		return
	}
	pkgobs.RecordAgentInvocation(agentID, string(trigger), "ok", time.Since(start))

	format := wire.NegotiateRequest(r)
	if err := s.encoder.Encode(ctx, w, format, resp); err != nil {
		// Bytes already hit the wire; nothing to re-frame.
		span.RecordError(err)
		log.Printf("[Server] response encoding aborted for %s: %v", agentID, err)
	}

	s.finalize(ctx, tracker, sessionID)
}

// finalize drains background work off the request goroutine so the response
// is never held back by it.
func (s *Server) finalize(ctx context.Context, tracker *deferred.Tracker, sessionID string) {
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := tracker.WaitUntilAll(bg, sessionID); err != nil {
			log.Printf("[Server] session %s finalization: %v", sessionID, err)
		}
	}()
}

// handleReply is the side channel delivering correlated replies:
// POST /_reply/{token}.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	var reply correlate.Reply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid reply body: %v", err))
		return
	}

	// Unknown tokens are a silent no-op; the caller cannot act on them.
	s.correlator.Received(r.Context(), token, &reply)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

type welcomePrompt struct {
	Data        string `json:"data"`
	ContentType string `json:"contentType"`
}

type welcomeAgent struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Prompts     []welcomePrompt `json:"prompts"`
}

// handleWelcome returns the declared example prompts for one or all agents,
// payloads base64-encoded alongside their content type.
func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	if id := r.PathValue("agentID"); id != "" {
		hosted, ok := s.agents[id]
		if !ok {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("agent %q not found", id))
			return
		}
		writeJSON(w, welcomeFor(hosted.Config))
		return
	}

	out := make([]welcomeAgent, 0, len(s.agents))
	for _, hosted := range s.agents {
		out = append(out, welcomeFor(hosted.Config))
	}
	writeJSON(w, out)
}

func welcomeFor(cfg config.AgentConfig) welcomeAgent {
	prompts := make([]welcomePrompt, 0, len(cfg.Prompts))
	for _, p := range cfg.Prompts {
		prompts = append(prompts, welcomePrompt{
			Data:        base64.StdEncoding.EncodeToString([]byte(p.Data)),
			ContentType: p.ContentType,
		})
	}
	return welcomeAgent{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Prompts:     prompts,
	}
}

// withMetrics records request counts and latency per route.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if pattern := r.Pattern; pattern != "" {
			path = pattern
		}
		pkgobs.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] failed to write response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
