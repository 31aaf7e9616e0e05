// Package dispatch routes interaction events (button clicks) to their case
// mutations and follow-up effects. Each event produces at most one store
// mutation plus at most one chat side effect.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/casedesk/casedesk/internal/briefs"
	"github.com/casedesk/casedesk/internal/chat"
	"github.com/casedesk/casedesk/internal/compose"
	"github.com/casedesk/casedesk/internal/store"
	"github.com/casedesk/casedesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// Outcome is the dispatcher's verdict on one interaction event, mapped
// directly to the HTTP response.
type Outcome struct {
	Status int
	Body   string
}

type actionFunc func(ctx context.Context, ev *models.InteractionEvent) Outcome

// Dispatcher executes interaction actions against the case store and chat
// platform.
type Dispatcher struct {
	store    store.Store
	chat     chat.Client
	briefs   *briefs.Generator
	renderer ArtifactRenderer
	actions  map[string]actionFunc
}

// ArtifactRenderer matches artifacts.Renderer without importing it, keeping
// the dependency direction store/chat-ward.
type ArtifactRenderer interface {
	Render(ctx context.Context, brief *models.Brief) (string, error)
}

// New creates a Dispatcher wired to its collaborators.
func New(s store.Store, c chat.Client, g *briefs.Generator, r ArtifactRenderer) *Dispatcher {
	d := &Dispatcher{store: s, chat: c, briefs: g, renderer: r}
	d.actions = map[string]actionFunc{
		compose.ActionConfirmCorrect:   d.confirmCorrect,
		compose.ActionAdjustConditions: d.adjustConditions,
		compose.ActionPushToPlanner:    d.pushToPlanner,
		compose.ActionRemindLater:      d.remindLater,
		compose.ActionCompleteData:     d.completeData,
	}
	return d
}

// Dispatch routes one interaction event. Unknown action ids get a 400;
// everything else resolves to a 200-family outcome, with case-not-found
// treated as a non-fatal skip.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.InteractionEvent) Outcome {
	fn, ok := d.actions[ev.ActionID]
	if !ok {
		log.Warn().Str("action", ev.ActionID).Msg("Unknown action id")
		return Outcome{Status: 400, Body: "Unknown action"}
	}

	log.Info().Str("action", ev.ActionID).Str("case_id", ev.CaseID).Str("user", ev.UserID).Msg("Processing action")
	return fn(ctx, ev)
}

func (d *Dispatcher) confirmCorrect(ctx context.Context, ev *models.InteractionEvent) Outcome {
	if !d.store.UpdateStatus(ctx, ev.CaseID, models.CaseStatusConfirmed, ev.UserID) {
		log.Warn().Str("case_id", ev.CaseID).Msg("Confirm skipped, case not updatable")
		return Outcome{Status: 200, Body: "Action processed"}
	}
	if err := d.chat.SendConfirmation(ctx, ev.ChannelID, ev.MessageTS, "✅ Action 'Confirmed as Correct' completed successfully"); err != nil {
		log.Warn().Err(err).Str("case_id", ev.CaseID).Msg("Confirmation message failed")
	}
	return Outcome{Status: 200, Body: "Case confirmed"}
}

func (d *Dispatcher) adjustConditions(ctx context.Context, ev *models.InteractionEvent) Outcome {
	return d.openCaseModal(ctx, ev, "Modal opened")
}

func (d *Dispatcher) completeData(ctx context.Context, ev *models.InteractionEvent) Outcome {
	return d.openCaseModal(ctx, ev, "Pre-filled modal opened")
}

func (d *Dispatcher) openCaseModal(ctx context.Context, ev *models.InteractionEvent, successBody string) Outcome {
	c, outcome, ok := d.loadCase(ctx, ev.CaseID)
	if !ok {
		return outcome
	}
	if err := d.chat.OpenModal(ctx, ev.TriggerID, AdjustModal(c)); err != nil {
		log.Warn().Err(err).Str("case_id", ev.CaseID).Msg("Modal opening failed")
		return Outcome{Status: 200, Body: "Action processed"}
	}
	return Outcome{Status: 200, Body: successBody}
}

func (d *Dispatcher) pushToPlanner(ctx context.Context, ev *models.InteractionEvent) Outcome {
	c, outcome, ok := d.loadCase(ctx, ev.CaseID)
	if !ok {
		return outcome
	}

	for _, brief := range []*models.Brief{d.briefs.Planner(c), d.briefs.Manager(c)} {
		url, err := d.renderer.Render(ctx, brief)
		if err != nil {
			log.Error().Err(err).Str("case_id", ev.CaseID).Str("audience", string(brief.Audience)).Msg("Brief rendering failed")
			return Outcome{Status: 200, Body: "Action processed"}
		}
		if err := d.chat.PostMessage(ctx, briefMessage(brief, url)); err != nil {
			log.Warn().Err(err).Str("channel", brief.Channel).Msg("Brief delivery failed")
		}
	}

	log.Info().Str("case_id", ev.CaseID).Msg("Briefs generated")
	return Outcome{Status: 200, Body: "Briefs generated"}
}

func (d *Dispatcher) remindLater(ctx context.Context, ev *models.InteractionEvent) Outcome {
	if _, outcome, ok := d.loadCase(ctx, ev.CaseID); !ok {
		return outcome
	}
	log.Info().Str("user", ev.UserID).Str("case_id", ev.CaseID).Msg("Reminder requested")
	if err := d.chat.SendConfirmation(ctx, ev.ChannelID, ev.MessageTS, "You will be reminded to complete this case later."); err != nil {
		log.Warn().Err(err).Str("case_id", ev.CaseID).Msg("Reminder acknowledgement failed")
	}
	return Outcome{Status: 200, Body: "Remind later acknowledged"}
}

// loadCase fetches the event's case. A missing case is a non-fatal skip;
// any other store failure surfaces as a 500 outcome.
func (d *Dispatcher) loadCase(ctx context.Context, caseID string) (*models.Case, Outcome, bool) {
	c, err := d.store.GetCase(ctx, caseID)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			log.Warn().Str("case_id", caseID).Msg("Action skipped, case not found")
			return nil, Outcome{Status: 200, Body: "Action processed"}, false
		}
		log.Error().Err(err).Str("case_id", caseID).Msg("Case lookup failed")
		return nil, Outcome{Status: 500, Body: "Internal server error"}, false
	}
	return c, Outcome{}, true
}

func briefMessage(brief *models.Brief, url string) *models.ChatMessage {
	return &models.ChatMessage{
		Channel: brief.Channel,
		Text:    fmt.Sprintf("📄 New %s brief for *%s*: <%s|view document>", brief.Audience, brief.ClientID, url),
	}
}

// AdjustModal builds the pre-filled condition-adjustment modal for a case.
func AdjustModal(c *models.Case) *models.ModalView {
	blocks := []models.Block{{
		Type: models.BlockSection,
		Text: &models.Text{Type: "mrkdwn", Text: "*Client:* " + c.ClientID},
	}}

	if len(c.MissingFields) > 0 {
		blocks = append(blocks, models.Block{
			Type:    models.BlockInput,
			BlockID: "missing_fields",
			Label:   &models.Text{Type: "plain_text", Text: "Missing Fields (comma-separated)"},
			Element: &models.BlockElement{
				Type:         "plain_text_input",
				ActionID:     "missing_fields_input",
				InitialValue: strings.Join(c.MissingFields, ", "),
			},
		})
	}

	blocks = append(blocks, models.Block{
		Type:    models.BlockInput,
		BlockID: "tags",
		Label:   &models.Text{Type: "plain_text", Text: "Tags (comma-separated)"},
		Element: &models.BlockElement{
			Type:         "plain_text_input",
			ActionID:     "tags_input",
			InitialValue: strings.Join(c.Tags, ", "),
		},
	})

	notes, _ := c.ClientData["notes"].(string)
	blocks = append(blocks, models.Block{
		Type:    models.BlockInput,
		BlockID: "notes",
		Label:   &models.Text{Type: "plain_text", Text: "Additional Notes"},
		Element: &models.BlockElement{
			Type:         "plain_text_input",
			ActionID:     "notes_input",
			Multiline:    true,
			InitialValue: notes,
		},
	})

	return &models.ModalView{
		Type:       "modal",
		CallbackID: "adjust_conditions_modal",
		Title:      &models.Text{Type: "plain_text", Text: "Adjust Case Conditions"},
		Submit:     &models.Text{Type: "plain_text", Text: "Save Changes"},
		Close:      &models.Text{Type: "plain_text", Text: "Cancel"},
		Blocks:     blocks,
	}
}
