// Package agent invokes the reasoning agent over HTTP and parses its
// structured output into an AgentResult.
//
// Session continuity: a fresh conversation gets a synthetic session id of
// the form session_<client>_<thread>; a resumed conversation reuses the
// thread id itself, so the agent runtime keeps one session per case thread.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/casedesk/casedesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// Error wraps agent invocation failures so callers can distinguish them
// from transform or storage failures at the handler boundary.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "agent " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Invoker calls the configured agent endpoint.
type Invoker struct {
	endpoint string
	agentID  string
	client   *http.Client
}

// NewInvoker creates an agent Invoker. timeout bounds each invocation;
// zero means 30 seconds.
func NewInvoker(endpoint, agentID string, timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Invoker{
		endpoint: endpoint,
		agentID:  agentID,
		client:   &http.Client{Timeout: timeout},
	}
}

// SessionID computes the agent session id for a conversation. Resumed
// conversations reuse the thread id so the agent runtime continues the
// same session; fresh ones get a client-scoped synthetic id.
func SessionID(clientID, threadID string, resumed bool) string {
	if resumed {
		return threadID
	}
	return "session_" + clientID + "_" + threadID
}

type invokeRequest struct {
	AgentID     string   `json:"agent_id"`
	SessionID   string   `json:"session_id"`
	Prompt      string   `json:"prompt"`
	Attachments []string `json:"attachments,omitempty"`
}

type invokeResponse struct {
	Completion string `json:"completion"`
	models.AgentResult
}

// Invoke sends the normalized request to the agent and parses the result.
// prior may be nil; when it carries state, the prompt includes the
// outstanding fields and recent conversation so the agent resumes with
// full context.
func (v *Invoker) Invoke(ctx context.Context, req *models.NormalizedRequest, prior *models.PriorState) (*models.AgentResult, error) {
	resumed := !prior.Empty()
	sessionID := SessionID(req.ClientID, req.ThreadID, resumed)

	payload := invokeRequest{
		AgentID:     v.agentID,
		SessionID:   sessionID,
		Prompt:      buildPrompt(req, prior),
		Attachments: req.Attachments,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Op: "invoke", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Op: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Op: "invoke", Err: fmt.Errorf("HTTP %d from %s", resp.StatusCode, v.endpoint)}
	}

	result, err := parseResult(respBody)
	if err != nil {
		return nil, &Error{Op: "decode response", Err: err}
	}

	log.Info().
		Str("session", sessionID).
		Bool("resumed", resumed).
		Int("missing_fields", len(result.MissingFieldsChecklist)).
		Int("tags", len(result.RecommendedTags)).
		Msg("Agent invocation complete")
	return result, nil
}

// buildPrompt assembles the agent prompt. A resumed case gets its
// outstanding fields and recent conversation prepended so the agent does
// not re-ask answered questions.
func buildPrompt(req *models.NormalizedRequest, prior *models.PriorState) string {
	if prior.Empty() {
		return req.Text
	}

	var b strings.Builder
	b.WriteString("Resumed case context.\n")
	if len(prior.MissingFields) > 0 {
		b.WriteString("Outstanding fields: ")
		b.WriteString(strings.Join(prior.MissingFields, ", "))
		b.WriteString("\n")
	}
	if len(prior.Conversation) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range prior.Conversation {
			fmt.Fprintf(&b, "- [%s] %s\n", m.UserID, m.Text)
		}
	}
	b.WriteString("New message:\n")
	b.WriteString(req.Text)
	return b.String()
}

// parseResult extracts an AgentResult from the response body. The agent
// may answer with structured fields directly, or wrap them as a JSON
// object inside a free-text completion; either way missing fields come
// back as empty values, never nil.
func parseResult(body []byte) (*models.AgentResult, error) {
	var resp invokeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	result := resp.AgentResult
	if structuredEmpty(&result) && resp.Completion != "" {
		if embedded := extractJSON(resp.Completion); embedded != "" {
			// Best effort: a completion that is not valid JSON still
			// yields an empty result rather than an error.
			_ = json.Unmarshal([]byte(embedded), &result)
		}
	}

	normalize(&result)
	return &result, nil
}

func structuredEmpty(r *models.AgentResult) bool {
	return len(r.MissingFieldsChecklist) == 0 &&
		len(r.CompetitiveAnalysis) == 0 &&
		len(r.RecommendedTags) == 0 &&
		len(r.Citations) == 0 &&
		len(r.FollowUpQuestions) == 0
}

// extractJSON returns the first balanced {...} object in s, or "".
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func normalize(r *models.AgentResult) {
	if r.MissingFieldsChecklist == nil {
		r.MissingFieldsChecklist = []string{}
	}
	if r.CompetitiveAnalysis == nil {
		r.CompetitiveAnalysis = map[string]interface{}{}
	}
	if r.RecommendedTags == nil {
		r.RecommendedTags = []string{}
	}
	if r.Citations == nil {
		r.Citations = []string{}
	}
	if r.FollowUpQuestions == nil {
		r.FollowUpQuestions = []string{}
	}
}
