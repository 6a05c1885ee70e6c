package webinar

import (
	"encoding/json"
	"strings"
)

type (
	// ColumnMapping translates logical row fields to Smartsheet column
	// titles. Fields left empty in the SMARTSHEET_PARAMS JSON keep the
	// built-in titles.
	ColumnMapping struct {
		Create          string `json:"create"`
		StartDate       string `json:"startdate"`
		StartTime       string `json:"starttime"`
		Duration        string `json:"duration"`
		Title           string `json:"title"`
		Agenda          string `json:"agenda"`
		Cohosts         string `json:"cohosts"`
		Panelists       string `json:"panelists"`
		WebinarID       string `json:"webinarId"`
		AttendeeURL     string `json:"attendeeUrl"`
		HostKey         string `json:"hostKey"`
		RegistrantCount string `json:"registrantCount"`
	}

	// SheetParams is the optional SMARTSHEET_PARAMS env JSON, merged over
	// the defaults.
	SheetParams struct {
		Columns   ColumnMapping       `json:"columns"`
		Nicknames map[string]Nickname `json:"nicknames"`
		// Value of the create column that checks a row out for processing.
		// Compared case-insensitively. Default: "yes".
		CreateValue string `json:"createValue"`
	}

	// IntegrationParams is the optional WEBEX_INTEGRATION_PARAMS env JSON.
	// Values apply when a row does not override them.
	IntegrationParams struct {
		SiteURL          string `json:"siteUrl"`
		Password         string `json:"password"`
		PanelistPassword string `json:"panelistPassword"`
		// Minutes before start to send the Webex reminder. Default 30.
		ReminderTime int `json:"reminderTime"`
		// Contact list invited as panelists to every webinar.
		AlwaysInvitePanelists string `json:"alwaysInvitePanelists"`
		// Treat cohosts as regular panelists instead of co-host invitees.
		NoCohosts bool `json:"noCohosts"`
	}
)

// DefaultColumns are the column titles of the sheet template the bot creates.
func DefaultColumns() ColumnMapping {
	return ColumnMapping{
		Create:          "Create",
		StartDate:       "Start Date",
		StartTime:       "Start Time",
		Duration:        "Duration",
		Title:           "Title",
		Agenda:          "Agenda",
		Cohosts:         "Cohosts",
		Panelists:       "Panelists",
		WebinarID:       "Webinar ID",
		AttendeeURL:     "Attendee URL",
		HostKey:         "Host Key",
		RegistrantCount: "Registrant Count",
	}
}

// LoadSheetParams merges the SMARTSHEET_PARAMS JSON blob over the built-in
// defaults. An empty blob returns the defaults. Malformed JSON is a
// *ConfigurationError so startup fails instead of a later run.
func LoadSheetParams(raw string) (SheetParams, error) {
	params := SheetParams{
		Columns:     DefaultColumns(),
		Nicknames:   map[string]Nickname{},
		CreateValue: "yes",
	}
	if strings.TrimSpace(raw) == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return SheetParams{}, &ConfigurationError{Reason: "parse SMARTSHEET_PARAMS", Err: err}
	}
	if params.CreateValue == "" {
		params.CreateValue = "yes"
	}
	// Lowercase nickname keys once so lookups are case-insensitive.
	nicks := make(map[string]Nickname, len(params.Nicknames))
	for k, v := range params.Nicknames {
		nicks[strings.ToLower(k)] = v
	}
	params.Nicknames = nicks
	return params, nil
}

// LoadIntegrationParams parses the WEBEX_INTEGRATION_PARAMS JSON blob.
func LoadIntegrationParams(raw string) (IntegrationParams, error) {
	params := IntegrationParams{ReminderTime: 30}
	if strings.TrimSpace(raw) == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return IntegrationParams{}, &ConfigurationError{Reason: "parse WEBEX_INTEGRATION_PARAMS", Err: err}
	}
	return params, nil
}
