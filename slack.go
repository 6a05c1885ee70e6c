package webinar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type slackService struct {
	// Slack Incoming Webhook URL.
	// https://hooks.slack.com/services/:workspaceID/:botID/:webhookID
	// Can be found on the App's Incoming Webhooks page.
	webhookURL string
}

func NewSlackService(webhookURL string) *slackService {
	return &slackService{webhookURL}
}

func (sl slackService) notify(ctx context.Context, summary RunSummary) error {
	// Slack mrkdwn bolds with single asterisks.
	text := strings.ReplaceAll(summary.Markdown(), "**", "*")
	return sendWebhook(ctx, sl.webhookURL, slackMessage{Text: text})
}

func (sl slackService) name() string {
	return "slack service"
}

type slackMessage struct {
	Text string `json:"text"`
}

// sendWebhook POSTs a message to a Slack App incoming webhook.
func sendWebhook(ctx context.Context, url string, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshall: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return handleHTTPError(resp)
	}

	return nil
}
