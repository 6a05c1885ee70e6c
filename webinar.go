// Package webinar keeps a Smartsheet of planned webinars in sync with
// Webex Webinar sessions. Rows checked out for creation are published to
// Webex, and the resulting webinar details are written back into the sheet.
package webinar

import (
	"fmt"
	"strings"
	"time"
)

type (
	// Record is one webinar row pulled from the working Smartsheet.
	Record struct {
		// Smartsheet row ID. Owned by the sheet service.
		RowID string
		// Raw value of the create-indicator column.
		Flag      string
		Title     string
		Agenda    string
		StartDate string // YYYY-MM-DD, as Smartsheet returns dates
		StartTime string // 24-hour HH:MM
		// Webinar length in minutes. Zero means "use the default".
		Duration  int
		Cohosts   []Contact
		Panelists []Contact
		Remote    RemoteRef
	}

	// RemoteRef marks whether a row has already been published to Webex.
	// A published ref carries the remote webinar ID. The ref is only ever
	// set by the reconciler after a successful create; clearing it (to
	// force re-creation) is a manual sheet edit.
	RemoteRef struct {
		id string
	}

	// Result holds the fields written back into a row after a successful
	// create or update.
	Result struct {
		WebinarID       string
		AttendeeURL     string
		HostKey         string
		RegistrantCount int
	}
)

// PublishedRef returns a RemoteRef for an already-created webinar.
func PublishedRef(id string) RemoteRef {
	return RemoteRef{id: id}
}

func (r RemoteRef) Published() bool {
	return r.id != ""
}

// ID returns the remote webinar ID, or "" if the row is unpublished.
func (r RemoteRef) ID() string {
	return r.id
}

// StartAt combines the row's start date and time into a UTC timestamp.
// Smartsheet reports dates in UTC.
func (r Record) StartAt() (time.Time, error) {
	raw := strings.TrimSpace(r.StartDate) + " " + strings.TrimSpace(r.StartTime)
	t, err := time.Parse("2006-01-02 15:04", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// Validate checks the fields a create call cannot do without. Rows that
// already have a remote webinar are updated with whatever they hold.
func (r Record) Validate() error {
	if r.Remote.Published() {
		return nil
	}
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Field: "title"}
	}
	if strings.TrimSpace(r.StartDate) == "" {
		return &ValidationError{Field: "startdate"}
	}
	if strings.TrimSpace(r.StartTime) == "" {
		return &ValidationError{Field: "starttime"}
	}
	if _, err := r.StartAt(); err != nil {
		return &ValidationError{Field: "startdate"}
	}
	return nil
}

// Summary creates a short string describing the row for logs and bot messages.
func (r Record) Summary() string {
	state := "new"
	if r.Remote.Published() {
		state = "webinar " + r.Remote.ID()
	}
	return fmt.Sprintf("%q (%s %s, %s)", r.Title, r.StartDate, r.StartTime, state)
}
