// Package compose builds the outbound block message for an analyzed case.
// Pure functions over models types; no I/O.
package compose

import (
	"fmt"
	"strings"

	"github.com/casedesk/casedesk/pkg/models"
)

const (
	maxMissingFields = 5
	maxTags          = 3
)

// ActionID values carried by the message buttons. Interaction callbacks echo
// these back in actions[0].action_id.
const (
	ActionConfirmCorrect   = "confirm_correct"
	ActionAdjustConditions = "adjust_conditions"
	ActionPushToPlanner    = "push_to_planner"
	ActionRemindLater      = "remind_later"
	ActionCompleteData     = "complete_data"
)

// Compose assembles the analysis message posted back to the case thread.
// The thread id doubles as the case id; it is stamped on the first block so
// interaction callbacks can recover the case without extra lookups.
func Compose(result *models.AgentResult, req *models.NormalizedRequest, history []models.CaseSummary) *models.ChatMessage {
	var blocks []models.Block

	blocks = append(blocks, historicalBlocks(history)...)

	blocks = append(blocks, models.Block{
		Type: models.BlockHeader,
		Text: &models.Text{Type: "plain_text", Text: "🤖 AI Analysis Complete"},
	})
	blocks = append(blocks, models.Block{
		Type: models.BlockSection,
		Text: &models.Text{Type: "mrkdwn", Text: summaryText(result)},
	})
	blocks = append(blocks, models.Block{Type: models.BlockDivider})

	blocks = append(blocks, missingFieldsBlocks(result.MissingFieldsChecklist)...)
	blocks = append(blocks, tagBlocks(result.RecommendedTags)...)
	blocks = append(blocks, actionBlock())

	if len(result.Citations) > 0 {
		blocks = append(blocks, models.Block{
			Type: models.BlockSection,
			Text: &models.Text{Type: "mrkdwn", Text: fmt.Sprintf("📚 <%s|View all citations>", result.Citations[0])},
		})
	}

	// Case id round-trip: interaction callbacks read the first block's id.
	// Only this block carries an id; block ids must be unique per message.
	blocks[0].BlockID = req.ThreadID

	return &models.ChatMessage{
		Channel:  req.ChannelID,
		ThreadTS: req.ThreadID,
		Blocks:   blocks,
	}
}

func summaryText(result *models.AgentResult) string {
	var parts []string
	if len(result.CompetitiveAnalysis) > 0 {
		parts = append(parts, "📊 *Competitive Analysis* completed")
	}
	if n := len(result.MissingFieldsChecklist); n > 0 {
		parts = append(parts, fmt.Sprintf("⚠️ *%d missing fields* identified", n))
	}
	if n := len(result.RecommendedTags); n > 0 {
		parts = append(parts, fmt.Sprintf("🏷️ *%d tags* recommended", n))
	}
	if len(parts) == 0 {
		return "Analysis completed"
	}
	return strings.Join(parts, " | ")
}

func historicalBlocks(history []models.CaseSummary) []models.Block {
	if len(history) == 0 {
		return nil
	}
	blocks := []models.Block{{
		Type: models.BlockSection,
		Text: &models.Text{Type: "mrkdwn", Text: "*Historical Records for this Client:*"},
	}}
	for _, cs := range history {
		threadURL := fmt.Sprintf("https://slack.com/app_redirect?channel=%s&thread_ts=%s", cs.ChannelID, cs.ThreadTS)
		blocks = append(blocks, models.Block{
			Type: models.BlockSection,
			Text: &models.Text{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Status:* %s | *Updated:* %s\n*Summary:* %s\n<%s|View Thread>",
					cs.Status, cs.UpdatedAt.Format("2006-01-02 15:04"), cs.BriefSummary, threadURL),
			},
		})
	}
	blocks = append(blocks, models.Block{Type: models.BlockDivider})
	return blocks
}

func missingFieldsBlocks(fields []string) []models.Block {
	if len(fields) == 0 {
		return nil
	}
	blocks := []models.Block{{
		Type: models.BlockSection,
		Text: &models.Text{Type: "mrkdwn", Text: "*Missing Required Fields:*"},
	}}
	if len(fields) > maxMissingFields {
		fields = fields[:maxMissingFields]
	}
	for _, f := range fields {
		blocks = append(blocks, models.Block{
			Type: models.BlockSection,
			Text: &models.Text{Type: "mrkdwn", Text: "• " + f},
		})
	}
	return blocks
}

func tagBlocks(tags []string) []models.Block {
	if len(tags) == 0 {
		return nil
	}
	blocks := []models.Block{{
		Type: models.BlockSection,
		Text: &models.Text{Type: "mrkdwn", Text: "*Top Recommended Tags:*"},
	}}
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	for _, t := range tags {
		blocks = append(blocks, models.Block{
			Type: models.BlockSection,
			Text: &models.Text{Type: "mrkdwn", Text: "• `" + t + "`"},
		})
	}
	return blocks
}

func actionBlock() models.Block {
	return models.Block{
		Type: models.BlockActions,
		Elements: []models.BlockElement{
			{
				Type:     "button",
				Text:     &models.Text{Type: "plain_text", Text: "✅ Confirm as Correct"},
				Style:    "primary",
				ActionID: ActionConfirmCorrect,
			},
			{
				Type:     "button",
				Text:     &models.Text{Type: "plain_text", Text: "✏️ Adjust Conditions"},
				ActionID: ActionAdjustConditions,
			},
			{
				Type:     "button",
				Text:     &models.Text{Type: "plain_text", Text: "📋 Push to Planner"},
				ActionID: ActionPushToPlanner,
			},
			{
				Type:     "button",
				Text:     &models.Text{Type: "plain_text", Text: "⏰ Complete Later"},
				ActionID: ActionRemindLater,
			},
		},
	}
}
