package webinar

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type (
	// smsService pages the on-call operator when a run ends with an expired
	// Webex authorization. Everything else goes through the room post and
	// the summary email; only the failure that needs a human re-authorizing
	// warrants a text.
	smsService struct {
		// Client for making requests to Twilio's API.
		client *twilio.RestClient
		// Phone number SMS messages are sent from.
		fromPhoneNum string
		// Operator phone number paged on authorization expiry.
		operatorPhoneNum string
	}

	twilioServiceOptions struct {
		accountSID string
		authToken  string
		// Client for making requests to Twilio's API. Override for testing.
		client client.BaseClient
		// Phone number SMS messages are sent from.
		fromPhoneNum string
		// Operator phone number paged on authorization expiry.
		operatorPhoneNum string
	}
)

func NewTwilioService(o twilioServiceOptions) *smsService {
	return &smsService{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: o.accountSID,
			Password: o.authToken,
			Client:   o.client,
		}),
		fromPhoneNum:     o.fromPhoneNum,
		operatorPhoneNum: o.operatorPhoneNum,
	}
}

func (t *smsService) notify(ctx context.Context, summary RunSummary) error {
	if !summary.AuthExpired {
		return nil
	}
	msg := "Webinar scheduling is paused: the Webex authorization has expired. Visit the authorize page to restore it."
	return t.Send(ctx, t.operatorPhoneNum, msg)
}

func (t *smsService) name() string {
	return "twilio service"
}

// Send sends an SMS message to the given toNum and returns an error.
func (t *smsService) Send(ctx context.Context, toNum string, msg string) error {
	params := &openapi.CreateMessageParams{}
	params.SetFrom(t.fromPhoneNum)
	params.SetTo(FormatCell(toNum))
	params.SetBody(msg)

	_, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("createMessage: %w", err)
	}
	return nil
}

// FormatCell prepends the US country code, "+1", and removes any dashes from
// a phone number string. Numbers already carrying a country code pass through.
func FormatCell(cell string) string {
	if strings.HasPrefix(cell, "+") {
		return cell
	}
	return "+1" + strings.ReplaceAll(cell, "-", "")
}
