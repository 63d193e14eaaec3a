package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/dispatch"
	"github.com/ent0n29/xiaobei/internal/ledger"
	"github.com/ent0n29/xiaobei/internal/protocol"
)

const maxRecentLimit = 200

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	agent := s.dispatcher.Catalog().Agent()
	respondJSON(w, http.StatusOK, protocol.Info{
		Name:         agent.Name,
		Version:      agent.Version,
		Protocol:     agent.Protocol,
		Description:  agent.Description,
		Capabilities: s.dispatcher.Catalog().AdvertisedNames(),
		Endpoints:    protocol.BuildEndpoints(s.publicBase(r)),
		Links:        agent.Links,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, protocol.Health{OK: true, Timestamp: time.Now().UTC()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"ledger_mode": s.dispatcher.Ledger().Mode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"ledger_mode":     s.dispatcher.Ledger().Mode(),
		"active_sessions": s.dispatcher.Sessions().Count(),
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	cat := s.dispatcher.Catalog()
	base := s.publicBase(r)
	endpoints := protocol.BuildEndpoints(base)
	respondJSON(w, http.StatusOK, protocol.Discovery{
		Agent:        cat.Agent(),
		Capabilities: cat.AdvertisedNames(),
		Endpoint:     base,
		Handshake:    endpoints.Handshake,
		Message:      endpoints.Message,
		Pricing:      cat.Pricing(),
		Schemas:      s.dispatcher.Handlers().Schemas(),
	})
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req protocol.HandshakeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondJSON(w, http.StatusBadRequest, protocol.HandshakeResponse{
			Error: "Invalid JSON body",
			Code:  "invalid_field",
		})
		return
	}

	sess, err := s.dispatcher.Handshake(r.Context(), dispatch.HandshakeInput{
		From:                req.From,
		CapabilitiesRequest: req.CapabilitiesRequest,
	})
	if err != nil {
		e, ok := agenterr.As(err)
		if !ok || e.Class != agenterr.ClassValidation {
			s.respondAgentError(w, r, err)
			return
		}
		respondJSON(w, http.StatusBadRequest, protocol.HandshakeResponse{
			Error:                 e.Message,
			Code:                  e.Code(),
			AvailableCapabilities: e.Available,
		})
		return
	}

	respondJSON(w, http.StatusOK, protocol.HandshakeResponse{
		Accepted:              true,
		SessionID:             sess.ID,
		Agent:                 s.dispatcher.Catalog().Agent().Name,
		CapabilitiesAvailable: sess.Capabilities,
		Pricing:               s.dispatcher.Catalog().Pricing(),
		Message:               fmt.Sprintf("Session created. Send messages to POST /agent/message with session_id: %s", sess.ID),
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.MessageRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			s.respondAgentError(w, r, agenterr.Authentication(agenterr.KindSessionNotFound, "Invalid or missing session_id"))
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_field", "Invalid JSON body")
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), dispatch.Message{
		SessionID:    req.SessionID,
		Capability:   req.Capability,
		Payload:      req.Payload,
		PaymentProof: strings.TrimSpace(r.Header.Get(protocol.PaymentHeader)),
	})
	if err != nil {
		s.respondAgentError(w, r, err)
		return
	}

	out, err := messageResponse(res)
	if err != nil {
		s.respondAgentError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.dispatcher.Sessions().Snapshot())
}

type sessionMessages struct {
	SessionID string         `json:"session_id"`
	Entries   []ledger.Entry `json:"entries"`
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_field", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	entries, err := s.dispatcher.Recent(r.Context(), id, limit)
	if err != nil {
		if agenterr.IsKind(err, agenterr.KindSessionNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		s.logger.ErrorContext(r.Context(), "ledger read failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "ledger unavailable")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	respondJSON(w, http.StatusOK, sessionMessages{SessionID: id, Entries: entries})
}

// publicBase is APP_PUBLIC_URL when set, otherwise derived from the request.
func (s *Server) publicBase(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func messageResponse(res dispatch.Result) (protocol.MessageResponse, error) {
	raw, err := json.Marshal(res.Response)
	if err != nil {
		return protocol.MessageResponse{}, fmt.Errorf("encode %s response: %w", res.Capability, err)
	}
	return protocol.MessageResponse{
		SessionID:  res.SessionID,
		Capability: res.Capability,
		Response:   raw,
		Metadata: protocol.MessageMetadata{
			MessageNumber: res.Metadata.MessageNumber,
			Timestamp:     res.Metadata.Timestamp,
			Payment:       string(res.Metadata.Payment),
			Outcome:       string(res.Metadata.Outcome),
		},
	}, nil
}
