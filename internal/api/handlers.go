package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starkpass/starkpass/internal/domain"
)

// ─── Wallet API ─────────────────────────────────────────────────────────────
//
// GET  /api/wallet/connectors  installed wallet connectors
// GET  /api/wallet/session     current session
// POST /api/wallet/connect     {"connector_id": "..."}
// POST /api/wallet/disconnect
// POST /api/wallet/sign        {"payload": "..."}

func (s *Server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connectors": s.registry.ListAvailable(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Session()
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

func sessionResponse(sess domain.Session) map[string]interface{} {
	return map[string]interface{}{
		"session":      sess,
		"network_name": sess.NetworkName(),
		"connected":    sess.IsConnected(),
	}
}

type connectRequest struct {
	ConnectorID string `json:"connector_id"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectorID == "" {
		writeError(w, http.StatusBadRequest, "", "connector_id is required")
		return
	}
	sess, err := s.sessions.Connect(r.Context(), req.ConnectorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.sessions.Disconnect(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse(s.sessions.Session()))
}

type signRequest struct {
	Payload string `json:"payload"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	sig, err := s.sessions.SignMessage(r.Context(), []byte(req.Payload))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address":   s.sessions.Session().Address,
		"signature": sig,
	})
}

// ─── Profile API ────────────────────────────────────────────────────────────
//
// GET  /api/profile                  ProfileState of the connected address
// POST /api/profile/reload           re-read ledger and stores
// GET  /api/quests                   quest catalog with completion flags
// POST /api/quests/{id}/complete     mint the quest badge and credit XP
// GET  /api/campaigns                campaigns with live claim totals
// POST /api/credentials/{id}/claim   mint a claimable credential

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.profile.State())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Session()
	if !sess.IsConnected() {
		writeDomainError(w, domain.ErrNotConnected)
		return
	}
	state, err := s.profile.LoadForAddress(r.Context(), sess.Address)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleQuests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quests": s.profile.Quests(),
	})
}

func (s *Server) handleCompleteQuest(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.profile.CompleteQuest(r.Context(), chi.URLParam(r, "id"))
	s.writeMintResult(w, receipt, err)
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.profile.Campaigns()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
	})
}

func (s *Server) handleClaimCredential(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.profile.ClaimCredential(r.Context(), chi.URLParam(r, "id"))
	s.writeMintResult(w, receipt, err)
}

// writeMintResult answers a mutating profile call. A pending mint is not a
// failure: the caller gets 202 with the transaction ref to check later.
func (s *Server) writeMintResult(w http.ResponseWriter, receipt domain.MintReceipt, err error) {
	if errors.Is(err, domain.ErrMintPending) {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"receipt": receipt,
			"pending": true,
			"message": domain.UserMessage(err),
		})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"receipt": receipt,
		"profile": s.profile.State(),
	})
}

// ─── Stats API ──────────────────────────────────────────────────────────────
//
// GET /api/stats           ecosystem overview
// GET /api/export/{kind}   users | quests | campaigns | ecosystem as JSON

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.profile.Stats()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	kind, ok := domain.ParseExportKind(chi.URLParam(r, "kind"))
	if !ok {
		writeDomainError(w, domain.NotFound("export", chi.URLParam(r, "kind")))
		return
	}
	data, err := s.profile.Export(kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="starkpass-%s.json"`, kind))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ─── Debug API ──────────────────────────────────────────────────────────────

// handleSpans returns the most recent spans.
// GET /api/debug/spans?limit=N
func (s *Server) handleSpans(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans": s.tracer.Spans(limit),
		"total": s.tracer.SpanCount(),
	})
}
