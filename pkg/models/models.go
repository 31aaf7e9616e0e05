// Package models defines the core data types shared across the Case Desk
// service: cases, conversation messages, normalized chat events, agent
// results, interaction events, and the block structures rendered back to the
// chat platform.
package models

import (
	"time"
)

// ── Case ─────────────────────────────────────────────────────

// CaseStatus enumerates the lifecycle states of a case.
type CaseStatus string

const (
	CaseStatusPending   CaseStatus = "pending"
	CaseStatusConfirmed CaseStatus = "confirmed"
	CaseStatusAdjusted  CaseStatus = "adjusted"
	CaseStatusEscalated CaseStatus = "escalated"
)

// ValidStatus reports whether s is one of the known case statuses.
func ValidStatus(s CaseStatus) bool {
	switch s {
	case CaseStatusPending, CaseStatusConfirmed, CaseStatusAdjusted, CaseStatusEscalated:
		return true
	}
	return false
}

// Case is the durable record tracking one client engagement. CaseID is
// derived from the originating conversation thread and is immutable once
// created. Conversation is append-only; MissingFields is replaced wholesale
// on each update.
type Case struct {
	CaseID        string                 `json:"case_id"`
	ClientID      string                 `json:"client_id"`
	Status        CaseStatus             `json:"status"`
	ChannelID     string                 `json:"channel_id,omitempty"`
	ThreadTS      string                 `json:"thread_ts,omitempty"`
	ClientData    map[string]interface{} `json:"client_data,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	MissingFields []string               `json:"missing_fields,omitempty"`
	Conversation  []Message              `json:"conversation,omitempty"`
	BriefSummary  string                 `json:"brief_summary,omitempty"`
	UpdatedBy     string                 `json:"updated_by,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Message is one entry in a case conversation.
type Message struct {
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Timestamp string    `json:"timestamp,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// CaseSummary is the compact shape returned by historical lookups.
type CaseSummary struct {
	CaseID       string     `json:"case_id"`
	Status       CaseStatus `json:"status"`
	UpdatedAt    time.Time  `json:"updated_at"`
	BriefSummary string     `json:"brief_summary"`
	ThreadTS     string     `json:"thread_ts"`
	ChannelID    string     `json:"channel_id"`
}

// ── Inbound events ───────────────────────────────────────────

// NormalizedRequest is the structured form of an inbound chat message event.
// ThreadID is the root-message timestamp when the message is part of a
// thread, else the message's own timestamp; it serves as the case id for the
// whole conversation.
type NormalizedRequest struct {
	ClientID    string   `json:"client_id"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
	UserID      string   `json:"user_id"`
	ThreadID    string   `json:"thread_ts"`
	ChannelID   string   `json:"channel_id"`
	Timestamp   string   `json:"timestamp"`
	MessageType string   `json:"message_type"`
}

// InteractionEvent is a single button-click callback. It is ephemeral: each
// event produces at most one case mutation plus at most one confirmation
// message. CaseID is extracted from the originating message's first block id.
type InteractionEvent struct {
	ActionID  string `json:"action_id"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	MessageTS string `json:"message_ts"`
	TriggerID string `json:"trigger_id"`
	CaseID    string `json:"case_id"`
}

// ── Agent ────────────────────────────────────────────────────

// PriorState is the persisted state handed back to the agent when a
// conversation resumes.
type PriorState struct {
	MissingFields []string  `json:"outstanding_fields"`
	Conversation  []Message `json:"history"`
}

// Empty reports whether there is no prior state to resume from.
func (p *PriorState) Empty() bool {
	return p == nil || (len(p.MissingFields) == 0 && len(p.Conversation) == 0)
}

// AgentResult is the parsed output of one agent invocation. Every field
// defaults to an empty slice/map when absent from the agent's response.
type AgentResult struct {
	MissingFieldsChecklist []string               `json:"missing_fields"`
	CompetitiveAnalysis    map[string]interface{} `json:"competitive_analysis"`
	RecommendedTags        []string               `json:"recommended_tags"`
	Citations              []string               `json:"citations"`
	FollowUpQuestions      []string               `json:"follow_up_questions"`
}

// ── Chat blocks ──────────────────────────────────────────────

// BlockType enumerates the display-block descriptors consumed by the chat
// rendering collaborator.
type BlockType string

const (
	BlockHeader  BlockType = "header"
	BlockSection BlockType = "section"
	BlockDivider BlockType = "divider"
	BlockInput   BlockType = "input"
	BlockActions BlockType = "actions"
)

// Block is one typed display-block descriptor.
type Block struct {
	Type     BlockType      `json:"type"`
	BlockID  string         `json:"block_id,omitempty"`
	Text     *Text          `json:"text,omitempty"`
	Label    *Text          `json:"label,omitempty"`
	Element  *BlockElement  `json:"element,omitempty"`
	Elements []BlockElement `json:"elements,omitempty"`
}

// Text is a plain_text or mrkdwn text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BlockElement is an interactive element inside a block (button, input).
type BlockElement struct {
	Type         string `json:"type"`
	ActionID     string `json:"action_id,omitempty"`
	Text         *Text  `json:"text,omitempty"`
	Style        string `json:"style,omitempty"`
	InitialValue string `json:"initial_value,omitempty"`
	Multiline    bool   `json:"multiline,omitempty"`
}

// ChatMessage is the outbound message structure posted back to the platform.
type ChatMessage struct {
	Channel  string  `json:"channel"`
	ThreadTS string  `json:"thread_ts,omitempty"`
	Text     string  `json:"text,omitempty"`
	Blocks   []Block `json:"blocks,omitempty"`
}

// ModalView is the pre-filled edit form opened for adjust/complete actions.
type ModalView struct {
	Type       string  `json:"type"`
	CallbackID string  `json:"callback_id"`
	Title      *Text   `json:"title"`
	Submit     *Text   `json:"submit,omitempty"`
	Close      *Text   `json:"close,omitempty"`
	Blocks     []Block `json:"blocks"`
}

// ── Briefs ───────────────────────────────────────────────────

// BriefAudience names the team a brief is written for.
type BriefAudience string

const (
	BriefPlanner BriefAudience = "planner"
	BriefManager BriefAudience = "manager"
)

// Brief is an audience-specific summary derived from case data, destined for
// a team channel and rendered to a document artifact.
type Brief struct {
	Audience BriefAudience          `json:"type"`
	ClientID string                 `json:"client_id"`
	Content  map[string]interface{} `json:"content"`
	Channel  string                 `json:"channel"`
	Template string                 `json:"template"`
}
