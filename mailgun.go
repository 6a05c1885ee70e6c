package webinar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

type MailgunService struct {
	domain        string               // Mail domain name.
	defaultSender string               // Default sender email address.
	recipients    []string             // Run summary recipients.
	mgClient      *mailgun.MailgunImpl // Mailgun API Client
}

func NewMailgunService(domain, apiKey string, recipients []string, baseAPIurlOverride string) *MailgunService {
	mgClient := mailgun.NewMailgun(domain, apiKey)
	if len(baseAPIurlOverride) > 0 {
		mgClient.SetAPIBase(baseAPIurlOverride)
	}
	return &MailgunService{
		domain:        domain,
		defaultSender: fmt.Sprintf("Operation Spark <webinars@%s>", domain),
		recipients:    recipients,
		mgClient:      mgClient,
	}
}

func (m MailgunService) notify(ctx context.Context, summary RunSummary) error {
	return m.sendSummary(ctx, summary)
}

func (m MailgunService) name() string {
	return "mailgun service"
}

// sendSummary emails the run outcome to the configured recipients. The body
// reuses the chat markdown; mail clients render it as plain text just fine.
func (m MailgunService) sendSummary(ctx context.Context, summary RunSummary) error {
	if len(m.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Webinar run: %s", summary.String())
	if summary.AuthExpired {
		subject = "Webinar run: Webex authorization expired"
	}
	body := strings.ReplaceAll(summary.Markdown(), "**", "")

	message := m.mgClient.NewMessage(m.defaultSender, subject, body, m.recipients...)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	// Send the message with a 10 second timeout
	_, _, err := m.mgClient.Send(ctxWithTimeout, message)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	return nil
}
