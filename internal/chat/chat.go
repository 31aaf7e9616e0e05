// Package chat posts messages and modals back to the chat platform's Web
// API on behalf of the bot.
package chat

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

// Client is the outbound chat surface used by handlers and the dispatcher.
type Client interface {
	// PostMessage posts a block message to a channel, threading when
	// msg.ThreadTS is set.
	PostMessage(ctx context.Context, msg *models.ChatMessage) error

	// OpenModal opens a modal view in response to an interaction.
	OpenModal(ctx context.Context, triggerID string, view *models.ModalView) error

	// SendConfirmation posts a short plain-text acknowledgement into a
	// case thread.
	SendConfirmation(ctx context.Context, channel, threadTS, text string) error
}

// HTTPClient implements Client against the platform Web API.
type HTTPClient struct {
	apiBase  string
	botToken string
	client   *http.Client
}

// NewHTTPClient creates a chat client. apiBase defaults to the public
// platform API when empty.
func NewHTTPClient(apiBase, botToken string) *HTTPClient {
	if apiBase == "" {
		apiBase = "https://slack.com/api"
	}
	return &HTTPClient{
		apiBase:  strings.TrimRight(apiBase, "/"),
		botToken: botToken,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) PostMessage(ctx context.Context, msg *models.ChatMessage) error {
	return c.call(ctx, "chat.postMessage", msg)
}

func (c *HTTPClient) OpenModal(ctx context.Context, triggerID string, view *models.ModalView) error {
	return c.call(ctx, "views.open", map[string]interface{}{
		"trigger_id": triggerID,
		"view":       view,
	})
}

func (c *HTTPClient) SendConfirmation(ctx context.Context, channel, threadTS, text string) error {
	return c.call(ctx, "chat.postMessage", &models.ChatMessage{
		Channel:  channel,
		ThreadTS: threadTS,
		Text:     text,
	})
}

// apiResponse is the envelope every Web API method answers with.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// call POSTs the payload to a Web API method with up to 3 attempts and
// linear backoff, matching the platform's retry guidance.
func (c *HTTPClient) call(ctx context.Context, method string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}
	url := c.apiBase + "/" + method

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", "Bearer "+c.botToken)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, method)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return lastErr
			}
			continue
		}

		var apiResp apiResponse
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
		if !apiResp.OK {
			// Platform-level errors are not transient.
			return fmt.Errorf("%s rejected: %s", method, apiResp.Error)
		}

		log.Debug().Str("method", method).Msg("Chat API call complete")
		return nil
	}
	return fmt.Errorf("%s failed after 3 attempts: %w", method, lastErr)
}
