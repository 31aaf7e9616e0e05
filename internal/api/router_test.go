package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/casedesk/casedesk/internal/api"
	"github.com/casedesk/casedesk/internal/api/handlers"
	"github.com/casedesk/casedesk/internal/briefs"
	"github.com/casedesk/casedesk/internal/config"
	"github.com/casedesk/casedesk/internal/dispatch"
	"github.com/casedesk/casedesk/internal/signing"
	"github.com/casedesk/casedesk/internal/store"
	"github.com/casedesk/casedesk/internal/transform"
	"github.com/casedesk/casedesk/pkg/models"
)

const testSecret = "test-signing-secret"

// fakeAgent returns a canned result or error.
type fakeAgent struct {
	result  *models.AgentResult
	err     error
	invoked int
	prior   *models.PriorState
}

func (f *fakeAgent) Invoke(_ context.Context, _ *models.NormalizedRequest, prior *models.PriorState) (*models.AgentResult, error) {
	f.invoked++
	f.prior = prior
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &models.AgentResult{
		MissingFieldsChecklist: []string{},
		CompetitiveAnalysis:    map[string]interface{}{},
		RecommendedTags:        []string{},
		Citations:              []string{},
		FollowUpQuestions:      []string{},
	}, nil
}

// fakeChat records outbound calls.
type fakeChat struct {
	posted        []*models.ChatMessage
	modals        []*models.ModalView
	confirmations []string
}

func (f *fakeChat) PostMessage(_ context.Context, msg *models.ChatMessage) error {
	f.posted = append(f.posted, msg)
	return nil
}

func (f *fakeChat) OpenModal(_ context.Context, _ string, view *models.ModalView) error {
	f.modals = append(f.modals, view)
	return nil
}

func (f *fakeChat) SendConfirmation(_ context.Context, _, _, text string) error {
	f.confirmations = append(f.confirmations, text)
	return nil
}

// fakeRenderer returns canned artifact URLs.
type fakeRenderer struct{}

func (fakeRenderer) Render(_ context.Context, b *models.Brief) (string, error) {
	return "https://bucket.s3.amazonaws.com/" + string(b.Audience), nil
}

type env struct {
	router http.Handler
	store  *store.MemoryStore
	agent  *fakeAgent
	chat   *fakeChat
	signer *signing.Verifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	t.Setenv("CASEDESK_DATA_DIR", t.TempDir())
	t.Setenv("CASEDESK_API_KEYS", "")

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	verifier := signing.NewVerifier([]byte(testSecret))
	ag := &fakeAgent{}
	ch := &fakeChat{}
	disp := dispatch.New(s, ch, briefs.NewGenerator(), fakeRenderer{})
	h := handlers.New(s, verifier, transform.New(), ag, disp, ch)

	cfg := &config.Config{Version: "test"}
	return &env{
		router: api.NewRouter(cfg, h),
		store:  s,
		agent:  ag,
		chat:   ch,
		signer: verifier,
	}
}

// signedRequest builds a request carrying a valid v0 signature.
func (e *env) signedRequest(method, path, body, contentType string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	timestamp := "1700000000"
	req.Header.Set(signing.TimestampHeader, timestamp)
	req.Header.Set(signing.SignatureHeader, e.signer.Sign([]byte(body), timestamp))
	return req
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func eventBody(text, ts string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"type": "event_callback",
		"event": map[string]interface{}{
			"user":    "U100",
			"text":    text,
			"ts":      ts,
			"channel": "C123",
		},
	})
	return string(body)
}

func interactionBody(actionID, caseID string) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"trigger_id": "trig-1",
		"user":       map[string]string{"id": "U100"},
		"channel":    map[string]string{"id": "C123"},
		"message": map[string]interface{}{
			"ts":     "1700000001.000200",
			"blocks": []map[string]string{{"block_id": caseID}},
		},
		"actions": []map[string]string{{"action_id": actionID}},
	})
	return "payload=" + url.QueryEscape(string(payload))
}

func TestEventsRejectBadSignature(t *testing.T) {
	e := newEnv(t)

	body := eventBody("hello", "1700000000.000100")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/events", strings.NewReader(body))
	req.Header.Set(signing.TimestampHeader, "1700000000")
	req.Header.Set(signing.SignatureHeader, "v0=deadbeef")

	rec := e.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if e.agent.invoked != 0 {
		t.Error("forged request reached the agent")
	}
}

func TestURLVerificationEcho(t *testing.T) {
	e := newEnv(t)

	body := `{"type": "url_verification", "challenge": "abc123xyz"}`
	rec := e.do(e.signedRequest(http.MethodPost, "/webhooks/events", body, "application/json"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "abc123xyz" {
		t.Errorf("body = %q, want challenge echoed verbatim", got)
	}
	if e.agent.invoked != 0 {
		t.Error("handshake reached the agent")
	}
}

func TestEventsMalformedPayload(t *testing.T) {
	e := newEnv(t)

	rec := e.do(e.signedRequest(http.MethodPost, "/webhooks/events", `{"type": "event_callback"}`, "application/json"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for payload without event object", rec.Code)
	}
}

func TestEventsPipeline(t *testing.T) {
	e := newEnv(t)
	e.agent.result = &models.AgentResult{
		MissingFieldsChecklist: []string{"budget"},
		RecommendedTags:        []string{"urgent"},
	}

	body := eventBody("client: ABC Corp", "1700000000.000100")
	rec := e.do(e.signedRequest(http.MethodPost, "/webhooks/events", body, "application/json"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["thread_ts"] != "1700000000.000100" {
		t.Errorf("thread_ts = %q", resp["thread_ts"])
	}

	// State was persisted exactly once with the agent's checklist.
	missing, conv, err := e.store.FetchState(context.Background(), "1700000000.000100")
	if err != nil {
		t.Fatalf("FetchState() error = %v", err)
	}
	if len(missing) != 1 || missing[0] != "budget" {
		t.Errorf("missing fields = %v, want [budget]", missing)
	}
	if len(conv) != 1 {
		t.Fatalf("conversation = %v, want the inbound message", conv)
	}

	// Client identity landed on the case record.
	c, err := e.store.GetCase(context.Background(), "1700000000.000100")
	if err != nil {
		t.Fatalf("GetCase() error = %v", err)
	}
	if c.ClientID != "ABC Corp" {
		t.Errorf("client_id = %q, want ABC Corp", c.ClientID)
	}

	// The composed message went out with the analysis blocks.
	if len(e.chat.posted) != 1 {
		t.Fatalf("posted = %d, want 1", len(e.chat.posted))
	}
	flat, _ := json.Marshal(e.chat.posted[0])
	if !strings.Contains(string(flat), "budget") {
		t.Error("posted message missing the missing-fields block")
	}
	if !strings.Contains(string(flat), "urgent") {
		t.Error("posted message missing the tags block")
	}
}

func TestEventsResumedStateReachesAgent(t *testing.T) {
	e := newEnv(t)

	caseID := "1700000000.000100"
	err := e.store.PersistState(context.Background(), caseID, []string{"timeline"},
		models.Message{UserID: "U100", Text: "first message"})
	if err != nil {
		t.Fatalf("PersistState() error = %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"type": "event_callback",
		"event": map[string]interface{}{
			"user":      "U100",
			"text":      "the timeline is Q3",
			"ts":        "1700000002.000300",
			"thread_ts": caseID,
			"channel":   "C123",
		},
	})
	rec := e.do(e.signedRequest(http.MethodPost, "/webhooks/events", string(body), "application/json"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if e.agent.prior.Empty() {
		t.Fatal("agent invoked without prior state for a resumed thread")
	}
	if len(e.agent.prior.MissingFields) != 1 || e.agent.prior.MissingFields[0] != "timeline" {
		t.Errorf("prior missing fields = %v", e.agent.prior.MissingFields)
	}
}

func TestEventsAgentFailure(t *testing.T) {
	e := newEnv(t)
	e.agent.err = fmt.Errorf("agent unreachable")

	body := eventBody("hello", "1700000000.000100")
	rec := e.do(e.signedRequest(http.MethodPost, "/webhooks/events", body, "application/json"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "unreachable") {
		t.Error("response leaked internal error detail")
	}
}

func TestInteractionConfirmCorrect(t *testing.T) {
	e := newEnv(t)
	caseID := "1700000000.000100"
	e.store.SaveCase(context.Background(), &models.Case{CaseID: caseID, ClientID: "acme"})

	body := interactionBody("confirm_correct", caseID)
	rec := e.do(e.signedRequest(http.MethodPost, "/webhooks/interactions", body, "application/x-www-form-urlencoded"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	c, _ := e.store.GetCase(context.Background(), caseID)
	if c.Status != models.CaseStatusConfirmed {
		t.Errorf("status = %q, want confirmed", c.Status)
	}
	if c.UpdatedBy != "U100" {
		t.Errorf("updated_by = %q", c.UpdatedBy)
	}
}

func TestInteractionUnknownAction(t *testing.T) {
	e := newEnv(t)
	caseID := "1700000000.000100"
	e.store.SaveCase(context.Background(), &models.Case{CaseID: caseID, ClientID: "acme"})

	body := interactionBody("launch_rocket", caseID)
	rec := e.do(e.signedRequest(http.MethodPost, "/webhooks/interactions", body, "application/x-www-form-urlencoded"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	c, _ := e.store.GetCase(context.Background(), caseID)
	if c.Status != models.CaseStatusPending {
		t.Errorf("unknown action mutated status to %q", c.Status)
	}
}

func TestInteractionRejectsBadSignature(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/interactions",
		strings.NewReader(interactionBody("confirm_correct", "x")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestInteractionMalformedPayload(t *testing.T) {
	e := newEnv(t)

	rec := e.do(e.signedRequest(http.MethodPost, "/webhooks/interactions",
		"payload=%ZZnot-json", "application/x-www-form-urlencoded"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetCaseEndpoint(t *testing.T) {
	e := newEnv(t)
	caseID := "1700000000.000100"
	e.store.SaveCase(context.Background(), &models.Case{CaseID: caseID, ClientID: "acme", Tags: []string{"enterprise"}})

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/cases/"+caseID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var c models.Case
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode case: %v", err)
	}
	if c.ClientID != "acme" {
		t.Errorf("client_id = %q", c.ClientID)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/cases/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status for missing case = %d, want 404", rec.Code)
	}
}

func TestListCasesEndpoint(t *testing.T) {
	e := newEnv(t)
	e.store.SaveCase(context.Background(), &models.Case{CaseID: "c1", ClientID: "acme"})
	e.store.SaveCase(context.Background(), &models.Case{CaseID: "c2", ClientID: "acme"})

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/cases?client=acme", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var summaries []models.CaseSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("summaries = %d, want 2", len(summaries))
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status without client param = %d, want 400", rec.Code)
	}
}

func TestHealthAndVersion(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/version", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("version status = %d", rec.Code)
	}
	var v map[string]string
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v["version"] != "test" {
		t.Errorf("version = %q", v["version"])
	}
}
