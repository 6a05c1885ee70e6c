package webinar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

type (
	// webexBotService posts run summaries to a Webex Teams room and reads
	// the command messages that triggered a webhook delivery. The bot's own
	// messages re-enter through the webhook, so its person ID is cached to
	// filter them out.
	webexBotService struct {
		// Base API endpoint. Default: "https://webexapis.com/v1"
		baseURL     string
		client      http.Client
		accessToken string
		roomID      string

		mu       sync.Mutex
		personID string
	}

	WebexBotOptions struct {
		// Overrides the Webex API base URL for testing.
		// Default: "https://webexapis.com/v1"
		baseAPIOverride string
		accessToken     string
		roomID          string
	}

	botMessage struct {
		ID       string `json:"id,omitempty"`
		RoomID   string `json:"roomId,omitempty"`
		PersonID string `json:"personId,omitempty"`
		Text     string `json:"text,omitempty"`
		Markdown string `json:"markdown,omitempty"`
	}

	botPerson struct {
		ID string `json:"id"`
	}
)

func NewWebexBotService(o WebexBotOptions) *webexBotService {
	apiURL := "https://webexapis.com/v1"
	if len(o.baseAPIOverride) > 0 {
		apiURL = o.baseAPIOverride
	}
	return &webexBotService{
		baseURL:     apiURL,
		client:      *http.DefaultClient,
		accessToken: o.accessToken,
		roomID:      o.roomID,
	}
}

func (b *webexBotService) notify(ctx context.Context, summary RunSummary) error {
	return b.PostMessage(ctx, summary.Markdown())
}

func (b *webexBotService) name() string {
	return "webex bot service"
}

// PostMessage sends a markdown message to the bot's room.
func (b *webexBotService) PostMessage(ctx context.Context, markdown string) error {
	msg := botMessage{RoomID: b.roomID, Markdown: markdown}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshall: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", b.accessToken))
	req.Header.Add("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return handleHTTPError(resp)
	}
	return nil
}

// GetMessage fetches a message by ID. Webhook payloads carry only the
// message ID, so the command text requires a second call.
func (b *webexBotService) GetMessage(ctx context.Context, id string) (botMessage, error) {
	var msg botMessage
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/messages/"+id, nil)
	if err != nil {
		return msg, fmt.Errorf("new request: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", b.accessToken))

	resp, err := b.client.Do(req)
	if err != nil {
		return msg, fmt.Errorf("get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return msg, handleHTTPError(resp)
	}
	d := json.NewDecoder(resp.Body)
	if err := d.Decode(&msg); err != nil {
		return msg, fmt.Errorf("decode: %w", err)
	}
	return msg, nil
}

// SelfID returns the bot's own person ID, fetching it once from /people/me.
func (b *webexBotService) SelfID(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.personID != "" {
		return b.personID, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/people/me", nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", b.accessToken))

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", handleHTTPError(resp)
	}
	var me botPerson
	d := json.NewDecoder(resp.Body)
	if err := d.Decode(&me); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	b.personID = me.ID
	return b.personID, nil
}
