// Package transform normalizes raw chat-platform message events into the
// structured request consumed by the agent pipeline, and derives the stable
// client/session identity for the conversation.
package transform

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/casedesk/casedesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// Error marks a malformed inbound payload. Fatal for the invocation, not
// retried.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "transform: " + e.Reason
}

// ClientIDExtractor is a named extraction strategy. Extractors are tried in
// order; the first non-empty result wins.
type ClientIDExtractor interface {
	Name() string
	Extract(text string) string
}

// Transformer normalizes inbound message events.
type Transformer struct {
	extractors []ClientIDExtractor
}

// New creates a Transformer with the default extractor chain: the NLP slot
// (no concrete strategy yet), then regex patterns. The deterministic hash
// fallback always applies last.
func New(extractors ...ClientIDExtractor) *Transformer {
	if len(extractors) == 0 {
		extractors = []ClientIDExtractor{&NLPExtractor{}, &RegexExtractor{}}
	}
	return &Transformer{extractors: extractors}
}

// rawEvent mirrors the platform's message-event payload.
type rawEvent struct {
	Type  string `json:"type"`
	Event *struct {
		User     string `json:"user"`
		Text     string `json:"text"`
		ThreadTS string `json:"thread_ts"`
		TS       string `json:"ts"`
		Channel  string `json:"channel"`
		Files    []struct {
			URLPrivate string `json:"url_private"`
		} `json:"files"`
	} `json:"event"`
}

// Transform parses a raw message event and produces a NormalizedRequest.
// The thread timestamp (falling back to the message's own timestamp) becomes
// the durable case id for the whole conversation. A payload without an
// event object is malformed.
func (t *Transformer) Transform(raw []byte) (*models.NormalizedRequest, error) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("decode event payload: %v", err)}
	}
	if ev.Event == nil {
		return nil, &Error{Reason: "payload has no event object"}
	}

	var attachments []string
	for _, f := range ev.Event.Files {
		if f.URLPrivate != "" {
			attachments = append(attachments, f.URLPrivate)
		}
	}

	threadID := ev.Event.ThreadTS
	if threadID == "" {
		threadID = ev.Event.TS
	}

	req := &models.NormalizedRequest{
		ClientID:    t.extractClientID(ev.Event.Text),
		Text:        ev.Event.Text,
		Attachments: attachments,
		UserID:      ev.Event.User,
		ThreadID:    threadID,
		ChannelID:   ev.Event.Channel,
		Timestamp:   ev.Event.TS,
		MessageType: "chat_thread",
	}

	log.Debug().Str("client_id", req.ClientID).Str("thread_ts", req.ThreadID).Msg("Message transformed")
	return req, nil
}

func (t *Transformer) extractClientID(text string) string {
	for _, ex := range t.extractors {
		if id := ex.Extract(text); id != "" {
			return id
		}
	}
	log.Warn().Msg("All client-id extraction strategies failed, using fallback")
	return FallbackClientID(text)
}

// FallbackClientID derives a deterministic identifier from the message text.
// Identical text always maps to the same client_<0..9999> value.
func FallbackClientID(text string) string {
	h := fnv.New32a()
	h.Write([]byte(text))
	return fmt.Sprintf("client_%d", h.Sum32()%10000)
}

// ── Extraction strategies ────────────────────────────────────

// NLPExtractor is the capability slot for model-based client-name
// extraction. No concrete strategy exists yet; it always yields nothing so
// the chain falls through to the regex patterns.
type NLPExtractor struct{}

func (e *NLPExtractor) Name() string { return "nlp" }

func (e *NLPExtractor) Extract(string) string { return "" }

// RegexExtractor matches explicit client references in free text. Patterns
// are tried in priority order; the first match wins.
type RegexExtractor struct{}

var clientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)client[:\s]+([A-Za-z0-9\s]+)`),
	regexp.MustCompile(`@([A-Za-z0-9]+)`),
	regexp.MustCompile(`#([A-Za-z0-9]+)`),
}

func (e *RegexExtractor) Name() string { return "regex" }

func (e *RegexExtractor) Extract(text string) string {
	for _, p := range clientPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
