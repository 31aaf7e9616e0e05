package dispatch_test

import (
	"context"
	"strings"
	"testing"

	"github.com/casedesk/casedesk/internal/briefs"
	"github.com/casedesk/casedesk/internal/dispatch"
	"github.com/casedesk/casedesk/internal/store"
	"github.com/casedesk/casedesk/pkg/models"
)

// fakeChat records outbound chat calls.
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

// fakeRenderer returns canned URLs.
type fakeRenderer struct {
	rendered []*models.Brief
}

func (f *fakeRenderer) Render(_ context.Context, b *models.Brief) (string, error) {
	f.rendered = append(f.rendered, b)
	return "https://bucket.s3.amazonaws.com/" + string(b.Audience), nil
}

func setup(t *testing.T) (*dispatch.Dispatcher, *store.MemoryStore, *fakeChat, *fakeRenderer) {
	t.Helper()
	t.Setenv("CASEDESK_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	c := &fakeChat{}
	r := &fakeRenderer{}
	return dispatch.New(s, c, briefs.NewGenerator(), r), s, c, r
}

func seedCase(t *testing.T, s *store.MemoryStore) string {
	t.Helper()
	caseID := "1700000000.000100"
	ok := s.SaveCase(context.Background(), &models.Case{
		CaseID:        caseID,
		ClientID:      "acme",
		ChannelID:     "C123",
		Tags:          []string{"enterprise"},
		MissingFields: []string{"budget"},
	})
	if !ok {
		t.Fatal("seed case failed")
	}
	return caseID
}

func event(caseID, actionID string) *models.InteractionEvent {
	return &models.InteractionEvent{
		ActionID:  actionID,
		UserID:    "U100",
		ChannelID: "C123",
		MessageTS: "1700000001.000200",
		TriggerID: "trig-1",
		CaseID:    caseID,
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	d, s, c, _ := setup(t)
	caseID := seedCase(t, s)

	out := d.Dispatch(context.Background(), event(caseID, "launch_rocket"))
	if out.Status != 400 {
		t.Errorf("status = %d, want 400", out.Status)
	}
	got, _ := s.GetCase(context.Background(), caseID)
	if got.Status != models.CaseStatusPending {
		t.Errorf("unknown action mutated case status to %q", got.Status)
	}
	if len(c.posted)+len(c.modals)+len(c.confirmations) != 0 {
		t.Error("unknown action produced chat side effects")
	}
}

func TestConfirmCorrect(t *testing.T) {
	d, s, c, _ := setup(t)
	caseID := seedCase(t, s)

	out := d.Dispatch(context.Background(), event(caseID, "confirm_correct"))
	if out.Status != 200 || out.Body != "Case confirmed" {
		t.Errorf("outcome = %+v", out)
	}
	got, _ := s.GetCase(context.Background(), caseID)
	if got.Status != models.CaseStatusConfirmed {
		t.Errorf("status = %q, want confirmed", got.Status)
	}
	if got.UpdatedBy != "U100" {
		t.Errorf("updated_by = %q, want acting user", got.UpdatedBy)
	}
	if len(c.confirmations) != 1 {
		t.Fatalf("confirmations = %d, want 1", len(c.confirmations))
	}
}

func TestConfirmCorrectMissingCase(t *testing.T) {
	d, _, c, _ := setup(t)

	out := d.Dispatch(context.Background(), event("nope", "confirm_correct"))
	if out.Status != 200 {
		t.Errorf("status = %d, missing case must stay non-fatal", out.Status)
	}
	if len(c.confirmations) != 0 {
		t.Error("missing case sent confirmation")
	}
}

func TestAdjustConditionsOpensModal(t *testing.T) {
	d, s, c, _ := setup(t)
	caseID := seedCase(t, s)

	out := d.Dispatch(context.Background(), event(caseID, "adjust_conditions"))
	if out.Status != 200 || out.Body != "Modal opened" {
		t.Errorf("outcome = %+v", out)
	}
	if len(c.modals) != 1 {
		t.Fatalf("modals = %d, want 1", len(c.modals))
	}
	view := c.modals[0]
	if view.CallbackID != "adjust_conditions_modal" {
		t.Errorf("callback_id = %q", view.CallbackID)
	}
	// Case must remain unmutated: modal actions are read-only.
	got, _ := s.GetCase(context.Background(), caseID)
	if got.Status != models.CaseStatusPending {
		t.Errorf("adjust mutated status to %q", got.Status)
	}
}

func TestAdjustConditionsMissingCase(t *testing.T) {
	d, _, c, _ := setup(t)

	out := d.Dispatch(context.Background(), event("nope", "adjust_conditions"))
	if out.Status != 200 || out.Body != "Action processed" {
		t.Errorf("outcome = %+v, missing case must stay non-fatal", out)
	}
	if len(c.modals) != 0 {
		t.Error("missing case opened a modal")
	}
}

func TestCompleteDataOpensPrefilledModal(t *testing.T) {
	d, s, c, _ := setup(t)
	caseID := seedCase(t, s)

	out := d.Dispatch(context.Background(), event(caseID, "complete_data"))
	if out.Status != 200 || out.Body != "Pre-filled modal opened" {
		t.Errorf("outcome = %+v", out)
	}
	if len(c.modals) != 1 {
		t.Fatalf("modals = %d, want 1", len(c.modals))
	}
	var foundPrefill bool
	for _, b := range c.modals[0].Blocks {
		if b.BlockID == "missing_fields" && b.Element != nil && b.Element.InitialValue == "budget" {
			foundPrefill = true
		}
	}
	if !foundPrefill {
		t.Error("modal not pre-filled with outstanding fields")
	}
}

func TestCompleteDataMissingCase(t *testing.T) {
	d, _, c, _ := setup(t)

	out := d.Dispatch(context.Background(), event("nope", "complete_data"))
	if out.Status != 200 || out.Body != "Action processed" {
		t.Errorf("outcome = %+v, missing case must stay non-fatal", out)
	}
	if len(c.modals) != 0 {
		t.Error("missing case opened a modal")
	}
}

func TestPushToPlannerGeneratesBothBriefs(t *testing.T) {
	d, s, c, r := setup(t)
	caseID := seedCase(t, s)

	out := d.Dispatch(context.Background(), event(caseID, "push_to_planner"))
	if out.Status != 200 || out.Body != "Briefs generated" {
		t.Errorf("outcome = %+v", out)
	}
	if len(r.rendered) != 2 {
		t.Fatalf("rendered briefs = %d, want planner + manager", len(r.rendered))
	}
	if r.rendered[0].Audience != models.BriefPlanner || r.rendered[1].Audience != models.BriefManager {
		t.Errorf("audiences = %q, %q", r.rendered[0].Audience, r.rendered[1].Audience)
	}
	if len(c.posted) != 2 {
		t.Fatalf("posted = %d, want one message per brief channel", len(c.posted))
	}
	channels := map[string]bool{}
	for _, m := range c.posted {
		channels[m.Channel] = true
	}
	if !channels[briefs.PlannerChannel] || !channels[briefs.ManagerChannel] {
		t.Errorf("brief channels = %v", channels)
	}
	// Generating briefs must not mutate the case.
	got, _ := s.GetCase(context.Background(), caseID)
	if got.Status != models.CaseStatusPending {
		t.Errorf("push_to_planner mutated status to %q", got.Status)
	}
}

func TestPushToPlannerMissingCase(t *testing.T) {
	d, _, c, r := setup(t)

	out := d.Dispatch(context.Background(), event("nope", "push_to_planner"))
	if out.Status != 200 {
		t.Errorf("status = %d", out.Status)
	}
	if len(r.rendered) != 0 || len(c.posted) != 0 {
		t.Error("missing case generated briefs")
	}
}

func TestRemindLater(t *testing.T) {
	d, s, c, _ := setup(t)
	caseID := seedCase(t, s)

	out := d.Dispatch(context.Background(), event(caseID, "remind_later"))
	if out.Status != 200 || out.Body != "Remind later acknowledged" {
		t.Errorf("outcome = %+v", out)
	}
	if len(c.confirmations) != 1 || !strings.Contains(c.confirmations[0], "reminded") {
		t.Errorf("confirmations = %v", c.confirmations)
	}
	got, _ := s.GetCase(context.Background(), caseID)
	if got.Status != models.CaseStatusPending {
		t.Errorf("remind_later mutated status to %q", got.Status)
	}
}

func TestRemindLaterMissingCase(t *testing.T) {
	d, _, c, _ := setup(t)

	out := d.Dispatch(context.Background(), event("nope", "remind_later"))
	if out.Status != 200 {
		t.Errorf("status = %d", out.Status)
	}
	if len(c.confirmations) != 0 {
		t.Error("missing case acknowledged reminder")
	}
}
