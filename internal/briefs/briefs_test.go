package briefs_test

import (
	"testing"

	"github.com/casedesk/casedesk/internal/briefs"
	"github.com/casedesk/casedesk/pkg/models"
)

func sampleCase() *models.Case {
	return &models.Case{
		CaseID:        "1700000000.000100",
		ClientID:      "acme",
		Status:        models.CaseStatusConfirmed,
		Tags:          []string{"enterprise", "renewal"},
		MissingFields: []string{"budget"},
		ClientData: map[string]interface{}{
			"actionable_fields":    []interface{}{"deployment_region", "seat_count"},
			"competitive_analysis": map[string]interface{}{"main_rival": "globex"},
		},
	}
}

func TestPlannerBrief(t *testing.T) {
	g := briefs.NewGenerator()
	b := g.Planner(sampleCase())

	if b.Audience != models.BriefPlanner {
		t.Errorf("audience = %q, want planner", b.Audience)
	}
	if b.Channel != briefs.PlannerChannel {
		t.Errorf("channel = %q, want %q", b.Channel, briefs.PlannerChannel)
	}
	if b.ClientID != "acme" {
		t.Errorf("client_id = %q", b.ClientID)
	}

	fields, ok := b.Content["actionable_fields"].([]string)
	if !ok || len(fields) != 2 || fields[0] != "deployment_region" {
		t.Errorf("actionable_fields = %v", b.Content["actionable_fields"])
	}
	if tags, _ := b.Content["tag_suggestions"].([]string); len(tags) != 2 {
		t.Errorf("tag_suggestions = %v", b.Content["tag_suggestions"])
	}
	if score, _ := b.Content["priority_score"].(int); score <= 0 || score > 100 {
		t.Errorf("priority_score = %v, want 1..100", b.Content["priority_score"])
	}
	budget, ok := b.Content["estimated_budget"].(map[string]interface{})
	if !ok || budget["currency"] != "USD" {
		t.Errorf("estimated_budget = %v", b.Content["estimated_budget"])
	}
	timeline, ok := b.Content["timeline"].(map[string]interface{})
	if !ok || timeline["duration_weeks"] != 8 {
		t.Errorf("timeline = %v", b.Content["timeline"])
	}
}

func TestManagerBrief(t *testing.T) {
	g := briefs.NewGenerator()
	b := g.Manager(sampleCase())

	if b.Audience != models.BriefManager {
		t.Errorf("audience = %q, want manager", b.Audience)
	}
	if b.Channel != briefs.ManagerChannel {
		t.Errorf("channel = %q, want %q", b.Channel, briefs.ManagerChannel)
	}
	if kpis, _ := b.Content["kpis"].([]string); len(kpis) == 0 {
		t.Error("kpis empty")
	}
	ca, ok := b.Content["competitive_analysis"].(map[string]interface{})
	if !ok || ca["main_rival"] != "globex" {
		t.Errorf("competitive_analysis = %v", b.Content["competitive_analysis"])
	}
	summary, _ := b.Content["executive_summary"].(string)
	if summary == "" {
		t.Error("executive_summary empty")
	}
}

func TestManagerBriefRiskFromMissingFields(t *testing.T) {
	g := briefs.NewGenerator()
	c := sampleCase()

	b := g.Manager(c)
	withMissing, _ := b.Content["risks"].([]string)

	c.MissingFields = nil
	b = g.Manager(c)
	complete, _ := b.Content["risks"].([]string)

	if len(withMissing) != len(complete)+1 {
		t.Errorf("risks with missing fields = %v, complete = %v; want one extra risk", withMissing, complete)
	}
}

func TestBriefsDeterministic(t *testing.T) {
	g := briefs.NewGenerator()
	c := sampleCase()

	a := g.Planner(c)
	b := g.Planner(c)
	if a.Content["priority_score"] != b.Content["priority_score"] {
		t.Error("priority_score changed between identical generations")
	}
}

func TestBriefsHandleSparseCase(t *testing.T) {
	g := briefs.NewGenerator()
	c := &models.Case{CaseID: "x", ClientID: "globex"}

	p := g.Planner(c)
	if fields, ok := p.Content["actionable_fields"].([]string); !ok || fields == nil {
		t.Errorf("actionable_fields = %v, want empty slice", p.Content["actionable_fields"])
	}
	m := g.Manager(c)
	if ca, ok := m.Content["competitive_analysis"].(map[string]interface{}); !ok || ca == nil {
		t.Errorf("competitive_analysis = %v, want empty map", m.Content["competitive_analysis"])
	}
}
