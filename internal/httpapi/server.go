package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"relaystack.local/relay-gateway/internal/credential"
	"relaystack.local/relay-gateway/internal/event"
	"relaystack.local/relay-gateway/internal/gateway"
	"relaystack.local/relay-gateway/internal/session"
	"relaystack.local/relay-gateway/internal/subscribers/wshub"
	"relaystack.local/relay-gateway/internal/turn"
)

const maxRequestBytes int64 = 1 << 20

type server struct {
	logger      *log.Logger
	gateway     *gateway.Service
	credentials *credential.Registry
	turns       turn.Store
	coordinator *turn.Coordinator
	hub         *wshub.Hub
}

func NewServer(logger *log.Logger, addr string, gatewayService *gateway.Service, credentials *credential.Registry, turns turn.Store, coordinator *turn.Coordinator, hub *wshub.Hub) *http.Server {
	h := &server{
		logger:      logger,
		gateway:     gatewayService,
		credentials: credentials,
		turns:       turns,
		coordinator: coordinator,
		hub:         hub,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/v1/turns", h.handleTurns)
	mux.HandleFunc("/v1/turns/records", h.handleTurnRecords)
	mux.HandleFunc("/v1/turns/resume", h.handleTurnResume)
	mux.HandleFunc("/v1/turns/release", h.handleTurnRelease)
	mux.HandleFunc("/v1/credentials", h.handleCredentials)
	mux.HandleFunc("/v1/credentials/rotate", h.handleCredentialRotate)
	mux.HandleFunc("/v1/credentials/revoke", h.handleCredentialRevoke)
	mux.HandleFunc("/v1/telemetry/ws", h.handleTelemetryWS)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handleTurns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleTurnSubmit(w, r)
	case http.MethodGet:
		s.handleTurnList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleTurnSubmit(w http.ResponseWriter, r *http.Request) {
	var req event.InboundTurnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.gateway.AcceptRequest(r.Context(), req); err != nil {
		if errors.Is(err, session.ErrQueueFull) {
			http.Error(w, "session queue full", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "failed to accept request", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":        true,
		"idempotency_key": req.IdempotencyKey,
	})
}

func (s *server) handleTurnList(w http.ResponseWriter, r *http.Request) {
	if turnID := strings.TrimSpace(r.URL.Query().Get("turn_id")); turnID != "" {
		rec, err := s.turns.GetTurn(r.Context(), turnID)
		if err != nil {
			if errors.Is(err, turn.ErrNotFound) {
				http.Error(w, "turn not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to load turn", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id or turn_id is required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	recs, err := s.turns.ListTurns(r.Context(), sessionID, limit)
	if err != nil {
		http.Error(w, "failed to list turns", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": recs})
}

func (s *server) handleTurnRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	turnID := strings.TrimSpace(r.URL.Query().Get("turn_id"))
	if turnID == "" {
		http.Error(w, "turn_id is required", http.StatusBadRequest)
		return
	}
	recs, err := s.gateway.ListTurnRecords(r.Context(), turnID)
	if err != nil {
		http.Error(w, "failed to list failover records", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

type turnResumeBody struct {
	TurnID string `json:"turn_id"`
}

func (s *server) handleTurnResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req turnResumeBody
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TurnID) == "" {
		http.Error(w, "turn_id is required", http.StatusBadRequest)
		return
	}

	rec, lease, err := s.gateway.ResumeTurn(r.Context(), req.TurnID)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrNotFound):
			http.Error(w, "turn not found", http.StatusNotFound)
		case errors.Is(err, turn.ErrLeaseConflict):
			http.Error(w, "another turn is running for this session", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusConflict)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"turn":             rec,
		"lease_token":      lease.Token,
		"lease_expires_at": lease.ExpiresAt,
	})
}

type turnReleaseBody struct {
	TurnID     string `json:"turn_id"`
	LeaseToken string `json:"lease_token"`
	Outcome    string `json:"outcome"`
}

func (s *server) handleTurnRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req turnReleaseBody
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TurnID) == "" || strings.TrimSpace(req.LeaseToken) == "" {
		http.Error(w, "turn_id and lease_token are required", http.StatusBadRequest)
		return
	}

	state := turn.State(strings.TrimSpace(req.Outcome))
	if state == "" {
		state = turn.StateCompleted
	}
	if state != turn.StateCompleted && state != turn.StateSuspended {
		http.Error(w, "outcome must be completed or suspended", http.StatusBadRequest)
		return
	}

	rec, err := s.coordinator.Release(r.Context(), turn.Lease{TurnID: req.TurnID, Token: req.LeaseToken}, state)
	if err != nil {
		if errors.Is(err, turn.ErrStaleLease) {
			http.Error(w, "lease is no longer valid", http.StatusConflict)
			return
		}
		http.Error(w, "failed to release turn", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type credentialBody struct {
	ProviderID   string   `json:"provider_id"`
	TenantID     string   `json:"tenant_id,omitempty"`
	OwnerScope   string   `json:"owner_scope"`
	Secret       string   `json:"secret"`
	Endpoint     string   `json:"endpoint,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Priority     int      `json:"priority,omitempty"`
}

func (s *server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req credentialBody
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.credentials.Connect(r.Context(), req.ProviderID, req.TenantID,
		credential.OwnerScope(strings.TrimSpace(req.OwnerScope)), req.Secret, credential.ProfileMetadata{
			Endpoint:     req.Endpoint,
			Capabilities: req.Capabilities,
			Priority:     req.Priority,
		})
	if err != nil {
		if errors.Is(err, credential.ErrUnsupportedProvider) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type credentialRotateBody struct {
	ProfileID string `json:"profile_id"`
	Secret    string `json:"secret"`
}

func (s *server) handleCredentialRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req credentialRotateBody
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProfileID) == "" {
		http.Error(w, "profile_id is required", http.StatusBadRequest)
		return
	}

	if err := s.credentials.RotateSecret(r.Context(), req.ProfileID, req.Secret); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rotated": true, "profile_id": req.ProfileID})
}

type credentialRevokeBody struct {
	ProfileID string `json:"profile_id"`
}

func (s *server) handleCredentialRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req credentialRevokeBody
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProfileID) == "" {
		http.Error(w, "profile_id is required", http.StatusBadRequest)
		return
	}

	if err := s.credentials.Revoke(r.Context(), req.ProfileID); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true, "profile_id": req.ProfileID})
}

func (s *server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.hub == nil {
		http.Error(w, "telemetry stream not configured", http.StatusNotImplemented)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("telemetry ws upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxRequestBytes)
	s.hub.Attach(conn)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return false
	}
	if dec.More() {
		http.Error(w, "invalid json: trailing content", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
