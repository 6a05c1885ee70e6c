// Package meeting holds the wire types for the Webex Meetings API.
package meeting

type (
	// Request is the body for creating or updating a webinar.
	// See: https://developer.webex.com/docs/api/v1/meetings/create-a-meeting
	Request struct {
		Title            string `json:"title"`
		Agenda           string `json:"agenda,omitempty"`
		ScheduledType    string `json:"scheduledType,omitempty"`
		Start            string `json:"start"`
		End              string `json:"end"`
		Timezone         string `json:"timezone,omitempty"`
		SiteURL          string `json:"siteUrl,omitempty"`
		Password         string `json:"password,omitempty"`
		PanelistPassword string `json:"panelistPassword,omitempty"`
		// Minutes before start to send the reminder. Zero suppresses it.
		ReminderTime          int           `json:"reminderTime,omitempty"`
		Registration          *Registration `json:"registration,omitempty"`
		EnabledJoinBeforeHost bool          `json:"enabledJoinBeforeHost,omitempty"`
		JoinBeforeHostMinutes int           `json:"joinBeforeHostMinutes,omitempty"`
		// Update only: notify invitees about the change.
		SendEmail bool `json:"sendEmail,omitempty"`
	}

	Registration struct {
		AutoAcceptRequest bool `json:"autoAcceptRequest"`
		RequireFirstName  bool `json:"requireFirstName"`
		RequireLastName   bool `json:"requireLastName"`
		RequireEmail      bool `json:"requireEmail"`
	}

	// Meeting is the webinar representation Webex returns.
	Meeting struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Agenda   string `json:"agenda"`
		Start    string `json:"start"`
		End      string `json:"end"`
		Timezone string `json:"timezone"`
		SiteURL  string `json:"siteUrl"`
		Password string `json:"password"`
		HostKey  string `json:"hostKey"`
		// Link attendees use to join. This is the value written back into
		// the sheet's Attendee URL column.
		WebLink string `json:"webLink"`
	}

	// Invitee is one entry from the meetingInvitees list.
	Invitee struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		CoHost      bool   `json:"coHost"`
		Panelist    bool   `json:"panelist"`
	}

	// InviteeRequest creates or updates a meeting invitee.
	InviteeRequest struct {
		MeetingID   string `json:"meetingId,omitempty"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName,omitempty"`
		CoHost      bool   `json:"coHost"`
		Panelist    bool   `json:"panelist"`
		SendEmail   bool   `json:"sendEmail"`
	}

	// InviteesPage is the list envelope for GET /meetingInvitees.
	InviteesPage struct {
		Items []Invitee `json:"items"`
	}
)
