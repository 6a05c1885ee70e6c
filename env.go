package webinar

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvConfig is the environment-derived service configuration. Optional
// integrations (mail, SMS, Mongo) are skipped when their variables are unset.
type EnvConfig struct {
	SmartsheetAccessToken string
	SmartsheetSheetID     string
	SheetParams           SheetParams
	IntegrationParams     IntegrationParams

	WebexClientID     string
	WebexClientSecret string
	WebexBotToken     string
	WebexBotRoomID    string
	WebhookSecret     string

	PublicURL string

	MailDomain      string
	MailgunAPIKey   string
	SummaryEmailTo  []string
	SlackWebhookURL string
	TwilioSID       string
	TwilioAuthToken string
	TwilioFromNum   string
	OperatorNum     string
}

// LoadEnvConfig reads and validates the service configuration from the
// environment.
func LoadEnvConfig() (EnvConfig, error) {
	cfg := EnvConfig{
		SmartsheetAccessToken: os.Getenv("SMARTSHEET_ACCESS_TOKEN"),
		SmartsheetSheetID:     os.Getenv("SMARTSHEET_SHEET_ID"),
		WebexClientID:         os.Getenv("WEBEX_INTEGRATION_CLIENT_ID"),
		WebexClientSecret:     os.Getenv("WEBEX_INTEGRATION_CLIENT_SECRET"),
		WebexBotToken:         os.Getenv("WEBEX_BOT_TOKEN"),
		WebexBotRoomID:        os.Getenv("WEBEX_BOT_ROOM_ID"),
		WebhookSecret:         os.Getenv("WEBEX_WEBHOOK_SECRET"),
		PublicURL:             os.Getenv("PUBLIC_URL"),
		MailDomain:            os.Getenv("MAIL_DOMAIN"),
		MailgunAPIKey:         os.Getenv("MAIL_GUN_PRIVATE_API_KEY"),
		SlackWebhookURL:       os.Getenv("SLACK_WEBHOOK_URL"),
		TwilioSID:             os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNum:         os.Getenv("TWILIO_PHONE_NUMBER"),
		OperatorNum:           os.Getenv("OPERATOR_PHONE_NUMBER"),
	}

	for _, req := range []struct{ name, val string }{
		{"SMARTSHEET_ACCESS_TOKEN", cfg.SmartsheetAccessToken},
		{"SMARTSHEET_SHEET_ID", cfg.SmartsheetSheetID},
		{"WEBEX_INTEGRATION_CLIENT_ID", cfg.WebexClientID},
		{"WEBEX_INTEGRATION_CLIENT_SECRET", cfg.WebexClientSecret},
		{"WEBEX_BOT_TOKEN", cfg.WebexBotToken},
		{"WEBEX_BOT_ROOM_ID", cfg.WebexBotRoomID},
		{"PUBLIC_URL", cfg.PublicURL},
	} {
		if req.val == "" {
			return cfg, &ConfigurationError{Reason: fmt.Sprintf("missing required environment variable %s", req.name)}
		}
	}

	sheetParams, err := LoadSheetParams(os.Getenv("SMARTSHEET_PARAMS"))
	if err != nil {
		return cfg, fmt.Errorf("SMARTSHEET_PARAMS: %w", err)
	}
	cfg.SheetParams = sheetParams

	intParams, err := LoadIntegrationParams(os.Getenv("WEBEX_INTEGRATION_PARAMS"))
	if err != nil {
		return cfg, fmt.Errorf("WEBEX_INTEGRATION_PARAMS: %w", err)
	}
	cfg.IntegrationParams = intParams

	if to := os.Getenv("SUMMARY_EMAIL_TO"); to != "" {
		for _, addr := range strings.Split(to, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.SummaryEmailTo = append(cfg.SummaryEmailTo, addr)
			}
		}
	}
	return cfg, nil
}

// NewServerFromEnv wires the full service: sheet and Webex clients, the
// reconciler, the notifiers, and the HTTP surface. Both stores may be nil;
// credentials then live in memory and the status command has no history.
func NewServerFromEnv(ctx context.Context, cfg EnvConfig, store CredentialStore, history RunStore) (*Server, error) {
	sentryEnabled := os.Getenv("SENTRY_DSN") != ""
	logger := NewLogger(os.Stderr, sentryEnabled)

	tokens := NewTokenStore(TokenStoreOptions{
		clientID:     cfg.WebexClientID,
		clientSecret: cfg.WebexClientSecret,
		store:        store,
		logger:       logger,
	})
	if err := tokens.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("hydrate credentials: %w", err)
	}

	sheet := NewSmartsheetService(SmartsheetOptions{
		accessToken: cfg.SmartsheetAccessToken,
		sheetID:     cfg.SmartsheetSheetID,
		params:      cfg.SheetParams,
	})
	webex := NewWebexService(WebexOptions{tokens: tokens})

	reconciler := NewReconciler(ReconcilerOptions{
		rows:      sheet,
		remote:    webex,
		params:    cfg.IntegrationParams,
		nicknames: cfg.SheetParams.Nicknames,
		logger:    logger,
	})

	bot := NewWebexBotService(WebexBotOptions{
		accessToken: cfg.WebexBotToken,
		roomID:      cfg.WebexBotRoomID,
	})

	notifiers := []notifier{bot}
	if cfg.MailDomain != "" && cfg.MailgunAPIKey != "" {
		notifiers = append(notifiers, NewMailgunService(cfg.MailDomain, cfg.MailgunAPIKey, cfg.SummaryEmailTo, ""))
	}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, NewSlackService(cfg.SlackWebhookURL))
	}
	if cfg.TwilioSID != "" && cfg.OperatorNum != "" {
		notifiers = append(notifiers, NewTwilioService(twilioServiceOptions{
			accountSID:       cfg.TwilioSID,
			authToken:        cfg.TwilioAuthToken,
			fromPhoneNum:     cfg.TwilioFromNum,
			operatorPhoneNum: cfg.OperatorNum,
		}))
	}

	InitMetrics()

	return NewServer(ServerOpts{
		Reconciler:    reconciler,
		Tokens:        tokens,
		Bot:           bot,
		Notifiers:     notifiers,
		History:       history,
		WebhookSecret: cfg.WebhookSecret,
		RoomID:        cfg.WebexBotRoomID,
		PublicURL:     cfg.PublicURL,
		Logger:        logger,
	}), nil
}
