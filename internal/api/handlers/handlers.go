// Package handlers implements the HTTP handlers for the Case Desk service:
// the two webhook entry points (message events, interaction callbacks) and
// the read-only case inspection API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/casedesk/casedesk/internal/chat"
	"github.com/casedesk/casedesk/internal/compose"
	"github.com/casedesk/casedesk/internal/dispatch"
	"github.com/casedesk/casedesk/internal/signing"
	"github.com/casedesk/casedesk/internal/store"
	"github.com/casedesk/casedesk/internal/transform"
	"github.com/casedesk/casedesk/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// AgentInvoker is the slice of the agent adapter the handlers need.
// Tests substitute a fake.
type AgentInvoker interface {
	Invoke(ctx context.Context, req *models.NormalizedRequest, prior *models.PriorState) (*models.AgentResult, error)
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Store       store.Store
	Verifier    *signing.Verifier
	Transformer *transform.Transformer
	Agent       AgentInvoker
	Dispatcher  *dispatch.Dispatcher
	Chat        chat.Client
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, v *signing.Verifier, t *transform.Transformer, a AgentInvoker, d *dispatch.Dispatcher, c chat.Client) *Handlers {
	return &Handlers{
		Store:       s,
		Verifier:    v,
		Transformer: t,
		Agent:       a,
		Dispatcher:  d,
		Chat:        c,
	}
}

// ── Webhook: message events ──────────────────────────────────

// urlVerification is the platform's endpoint handshake payload.
type urlVerification struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

// HandleEvent processes an inbound message event: verify, transform, load
// prior state, invoke the agent, persist, compose and post the response.
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, ok := h.readSignedBody(w, r)
	if !ok {
		return
	}

	// Endpoint handshake, echoed only after the signature check.
	var uv urlVerification
	if err := json.Unmarshal(body, &uv); err == nil && uv.Type == "url_verification" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(uv.Challenge))
		return
	}

	req, err := h.Transformer.Transform(body)
	if err != nil {
		var terr *transform.Error
		if errors.As(err, &terr) {
			respondError(w, http.StatusBadRequest, "Malformed event payload")
			return
		}
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	caseID := req.ThreadID

	historical, err := h.Store.FetchHistorical(ctx, req.ClientID, store.DefaultHistoricalLimit)
	if err != nil {
		log.Warn().Err(err).Str("client", req.ClientID).Msg("Historical lookup failed, continuing without context")
		historical = nil
	}

	missingFields, conversation, err := h.Store.FetchState(ctx, caseID)
	if err != nil {
		log.Warn().Err(err).Str("case_id", caseID).Msg("State fetch failed, treating case as fresh")
		missingFields, conversation = nil, nil
	}
	prior := &models.PriorState{MissingFields: missingFields, Conversation: conversation}

	result, err := h.Agent.Invoke(ctx, req, prior)
	if err != nil {
		log.Error().Err(err).Str("case_id", caseID).Msg("Agent invocation failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if len(result.MissingFieldsChecklist) > 0 {
		msg := models.Message{
			UserID:    req.UserID,
			Text:      req.Text,
			Timestamp: req.Timestamp,
			SentAt:    time.Now().UTC(),
		}
		if err := h.Store.PersistState(ctx, caseID, result.MissingFieldsChecklist, msg); err != nil {
			log.Warn().Err(err).Str("case_id", caseID).Msg("State persistence failed")
		} else {
			// Identity fields ride along so historical lookups by client
			// can find this case.
			h.Store.SaveCase(ctx, &models.Case{
				CaseID:    caseID,
				ClientID:  req.ClientID,
				ChannelID: req.ChannelID,
				ThreadTS:  caseID,
			})
		}
	}

	outMsg := compose.Compose(result, req, historical)
	if err := h.Chat.PostMessage(ctx, outMsg); err != nil {
		log.Warn().Err(err).Str("case_id", caseID).Msg("Response delivery failed")
	}

	log.Info().Str("case_id", caseID).Str("client", req.ClientID).Msg("Event processed")
	respondJSON(w, http.StatusOK, map[string]string{
		"message":   "Processing completed",
		"thread_ts": req.ThreadID,
	})
}

// ── Webhook: interaction callbacks ───────────────────────────

// interactionPayload mirrors the platform's interaction callback body.
type interactionPayload struct {
	TriggerID string `json:"trigger_id"`
	User      struct {
		ID string `json:"id"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Message struct {
		TS     string `json:"ts"`
		Blocks []struct {
			BlockID string `json:"block_id"`
		} `json:"blocks"`
	} `json:"message"`
	Actions []struct {
		ActionID string `json:"action_id"`
	} `json:"actions"`
}

// HandleInteraction processes a button-click callback and routes it through
// the action dispatcher.
func (h *Handlers) HandleInteraction(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readSignedBody(w, r)
	if !ok {
		return
	}

	raw, err := extractPayload(body, r.Header.Get("Content-Type"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed interaction payload")
		return
	}

	var p interactionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed interaction payload")
		return
	}

	ev := &models.InteractionEvent{
		UserID:    p.User.ID,
		ChannelID: p.Channel.ID,
		MessageTS: p.Message.TS,
		TriggerID: p.TriggerID,
	}
	if len(p.Actions) > 0 {
		ev.ActionID = p.Actions[0].ActionID
	}
	if len(p.Message.Blocks) > 0 {
		ev.CaseID = p.Message.Blocks[0].BlockID
	}

	outcome := h.Dispatcher.Dispatch(r.Context(), ev)
	if outcome.Status >= 400 {
		respondError(w, outcome.Status, outcome.Body)
		return
	}
	respondJSON(w, outcome.Status, map[string]string{"message": outcome.Body})
}

// extractPayload pulls the interaction JSON out of the request body, which
// arrives either form-encoded (payload=<json>) or as a JSON envelope.
func extractPayload(body []byte, contentType string) ([]byte, error) {
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		payload := values.Get("payload")
		if payload == "" {
			return nil, errors.New("missing payload field")
		}
		return []byte(payload), nil
	}

	var envelope struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Payload == "" {
		// The body may already be the decoded payload.
		return body, nil
	}
	return []byte(envelope.Payload), nil
}

// ── Case inspection API ──────────────────────────────────────

// GetCase returns a single case record.
func (h *Handlers) GetCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	c, err := h.Store.GetCase(r.Context(), caseID)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			respondError(w, http.StatusNotFound, "Case not found")
			return
		}
		log.Error().Err(err).Str("case_id", caseID).Msg("Case lookup failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListCases returns recent cases for a client.
func (h *Handlers) ListCases(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		respondError(w, http.StatusBadRequest, "client query parameter is required")
		return
	}
	limit := store.DefaultHistoricalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	summaries, err := h.Store.FetchHistorical(r.Context(), clientID, limit)
	if err != nil {
		log.Error().Err(err).Str("client", clientID).Msg("Historical lookup failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if summaries == nil {
		summaries = []models.CaseSummary{}
	}
	respondJSON(w, http.StatusOK, summaries)
}

// ── Helpers ──────────────────────────────────────────────────

// readSignedBody reads the raw body and verifies the webhook signature.
// Writes the 401 itself and returns ok=false when verification fails.
func (h *Handlers) readSignedBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unreadable request body")
		return nil, false
	}

	timestamp := r.Header.Get(signing.TimestampHeader)
	sig := r.Header.Get(signing.SignatureHeader)
	if !h.Verifier.Verify(body, timestamp, sig) {
		log.Warn().Str("path", r.URL.Path).Msg("Invalid webhook signature")
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	return body, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
