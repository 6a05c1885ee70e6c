package webinar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/operationspark/service-webinars/webex/meeting"
)

type (
	// webexService is a typed wrapper over the Webex Meetings API. It is a
	// pure translation and transport layer: it performs no retries and
	// surfaces remote errors verbatim. Retry policy belongs to the caller.
	webexService struct {
		// Base API endpoint. Default: "https://webexapis.com/v1"
		baseURL string
		// HTTP client for making Webex API requests.
		// https://developer.webex.com/docs/api/v1/meetings
		client http.Client
		tokens *TokenStore
	}

	WebexOptions struct {
		// Overrides the Webex API base URL for testing.
		// Default: "https://webexapis.com/v1"
		baseAPIOverride string
		tokens          *TokenStore
	}
)

func NewWebexService(o WebexOptions) *webexService {
	apiURL := "https://webexapis.com/v1"
	if len(o.baseAPIOverride) > 0 {
		apiURL = o.baseAPIOverride
	}
	return &webexService{
		baseURL: apiURL,
		client:  *http.DefaultClient,
		tokens:  o.tokens,
	}
}

// CreateWebinar schedules a new webinar from the translated spec.
func (w *webexService) CreateWebinar(ctx context.Context, req meeting.Request) (meeting.Meeting, error) {
	var m meeting.Meeting
	err := w.do(ctx, http.MethodPost, "/meetings", req, &m)
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("create webinar: %w", err)
	}
	return m, nil
}

// UpdateWebinar re-submits the full spec for an existing webinar. Webex
// treats the update idempotently, so unchanged fields are no-ops.
func (w *webexService) UpdateWebinar(ctx context.Context, id string, req meeting.Request) (meeting.Meeting, error) {
	var m meeting.Meeting
	err := w.do(ctx, http.MethodPut, "/meetings/"+url.PathEscape(id), req, &m)
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("update webinar %s: %w", id, err)
	}
	return m, nil
}

func (w *webexService) GetWebinar(ctx context.Context, id string) (meeting.Meeting, error) {
	var m meeting.Meeting
	err := w.do(ctx, http.MethodGet, "/meetings/"+url.PathEscape(id), nil, &m)
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("get webinar %s: %w", id, err)
	}
	return m, nil
}

// ListInvitees returns every invitee of the webinar, panelists included.
func (w *webexService) ListInvitees(ctx context.Context, meetingID string) ([]meeting.Invitee, error) {
	var page meeting.InviteesPage
	path := "/meetingInvitees?" + url.Values{
		"meetingId": []string{meetingID},
		"panelist":  []string{"true"},
	}.Encode()
	err := w.do(ctx, http.MethodGet, path, nil, &page)
	if err != nil {
		return nil, fmt.Errorf("list invitees: %w", err)
	}
	return page.Items, nil
}

func (w *webexService) AddInvitee(ctx context.Context, req meeting.InviteeRequest) error {
	err := w.do(ctx, http.MethodPost, "/meetingInvitees", req, nil)
	if err != nil {
		return fmt.Errorf("add invitee %s: %w", req.Email, err)
	}
	return nil
}

func (w *webexService) UpdateInvitee(ctx context.Context, id string, req meeting.InviteeRequest) error {
	err := w.do(ctx, http.MethodPut, "/meetingInvitees/"+url.PathEscape(id), req, nil)
	if err != nil {
		return fmt.Errorf("update invitee %s: %w", req.Email, err)
	}
	return nil
}

func (w *webexService) RemoveInvitee(ctx context.Context, id string) error {
	err := w.do(ctx, http.MethodDelete, "/meetingInvitees/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return fmt.Errorf("remove invitee: %w", err)
	}
	return nil
}

// do issues one authenticated API call. Token errors pass through unwrapped
// so callers can match ErrUnauthorized/ErrAuthExpired with errors.Is.
func (w *webexService) do(ctx context.Context, method, path string, in, out any) error {
	token, err := w.tokens.Access(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshall: %w", err)
		}
		body = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("newRequestWithContext: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	if in != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("client.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return handleHTTPError(resp)
	}
	if out == nil {
		return nil
	}
	d := json.NewDecoder(resp.Body)
	if err := d.Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// BuildRequest translates a sheet row plus the integration defaults into a
// Webex webinar spec. Row values win over defaults.
func BuildRequest(rec Record, params IntegrationParams, now time.Time) (meeting.Request, error) {
	start, err := rec.StartAt()
	if err != nil {
		return meeting.Request{}, err
	}
	duration := rec.Duration
	if duration <= 0 {
		duration = 60
	}
	end := start.Add(time.Duration(duration) * time.Minute)

	// Skip the reminder when it is already too late to send one.
	reminder := params.ReminderTime
	if !now.Before(start.Add(-time.Duration(reminder) * time.Minute)) {
		reminder = 0
	}

	return meeting.Request{
		Title:            rec.Title,
		Agenda:           rec.Agenda,
		ScheduledType:    "webinar",
		Start:            start.Format(time.RFC3339),
		End:              end.Format(time.RFC3339),
		Timezone:         "UTC",
		SiteURL:          params.SiteURL,
		Password:         params.Password,
		PanelistPassword: params.PanelistPassword,
		ReminderTime:     reminder,
		Registration: &meeting.Registration{
			AutoAcceptRequest: true,
			RequireFirstName:  true,
			RequireLastName:   true,
			RequireEmail:      true,
		},
	}, nil
}

// DesiredInvitees resolves the panelist and cohost lists for a row: the
// always-invited panelists are merged in, and the noCohosts switch demotes
// cohosts to plain panelists.
func DesiredInvitees(rec Record, params IntegrationParams, nicknames map[string]Nickname) (panelists, cohosts []Contact) {
	always := ParseContacts(params.AlwaysInvitePanelists, nicknames)
	panelists = MergeContacts(rec.Panelists, always...)
	cohosts = rec.Cohosts
	if params.NoCohosts {
		panelists = MergeContacts(panelists, cohosts...)
		cohosts = nil
	}
	return panelists, cohosts
}
