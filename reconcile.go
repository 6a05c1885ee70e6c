package webinar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/operationspark/service-webinars/webex/meeting"
)

type (
	// rowSource is the sheet side of a reconciliation run.
	rowSource interface {
		ListFlaggedRows(ctx context.Context) ([]Record, error)
		WriteBack(ctx context.Context, rowID string, res Result) error
	}

	// remoteClient is the Webex side of a reconciliation run.
	remoteClient interface {
		CreateWebinar(ctx context.Context, req meeting.Request) (meeting.Meeting, error)
		UpdateWebinar(ctx context.Context, id string, req meeting.Request) (meeting.Meeting, error)
		ListInvitees(ctx context.Context, meetingID string) ([]meeting.Invitee, error)
		AddInvitee(ctx context.Context, req meeting.InviteeRequest) error
		UpdateInvitee(ctx context.Context, id string, req meeting.InviteeRequest) error
		RemoveInvitee(ctx context.Context, id string) error
	}

	// Reconciler walks the flagged sheet rows and makes the Webex side match,
	// one row at a time. Row failures are isolated; an expired authorization
	// stops the run because every remaining row would fail the same way.
	Reconciler struct {
		rows      rowSource
		remote    remoteClient
		params    IntegrationParams
		nicknames map[string]Nickname
		logger    *slog.Logger
		now       func() time.Time
	}

	ReconcilerOptions struct {
		rows      rowSource
		remote    remoteClient
		params    IntegrationParams
		nicknames map[string]Nickname
		logger    *slog.Logger
		// Overrides the clock for testing. Default: time.Now
		now func() time.Time
	}

	// RowFailure records why a single row could not be fully processed.
	RowFailure struct {
		RowID  string `json:"rowId"`
		Title  string `json:"title"`
		Reason string `json:"reason"`
	}

	// RunSummary is the outcome of one reconciliation run.
	RunSummary struct {
		Started      time.Time     `json:"started" bson:"started"`
		Duration     time.Duration `json:"duration" bson:"duration"`
		Created      int           `json:"created" bson:"created"`
		Updated      int           `json:"updated" bson:"updated"`
		Failed       int           `json:"failed" bson:"failed"`
		NotProcessed int           `json:"notProcessed" bson:"notProcessed"`
		Failures     []RowFailure  `json:"failures,omitempty" bson:"failures,omitempty"`
		AuthExpired  bool          `json:"authExpired" bson:"authExpired"`
		Err          string        `json:"error,omitempty" bson:"error,omitempty"`
	}
)

func NewReconciler(o ReconcilerOptions) *Reconciler {
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := o.now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		rows:      o.rows,
		remote:    o.remote,
		params:    o.params,
		nicknames: o.nicknames,
		logger:    logger,
		now:       now,
	}
}

// Run reconciles every flagged row once and reports what happened. The
// context deadline is checked between rows only; a row whose remote call has
// been issued always runs to completion so the sheet never loses track of a
// webinar that was actually created.
func (r *Reconciler) Run(ctx context.Context) RunSummary {
	summary := RunSummary{Started: r.now()}
	defer func() { summary.Duration = time.Since(summary.Started) }()

	records, err := r.rows.ListFlaggedRows(ctx)
	if err != nil {
		summary.Err = fmt.Sprintf("list flagged rows: %v", err)
		if isAuthErr(err) {
			summary.AuthExpired = true
		}
		return summary
	}

	seen := map[string]bool{}
	for i, rec := range records {
		if ctx.Err() != nil {
			summary.NotProcessed += remaining(records[i:], seen)
			summary.Err = fmt.Sprintf("run cut short: %v", ctx.Err())
			return summary
		}
		if seen[rec.RowID] {
			r.logger.Warn("duplicate row ID, skipping", "rowID", rec.RowID)
			continue
		}
		seen[rec.RowID] = true

		outcome, err := r.reconcileRow(ctx, rec)
		switch outcome {
		case rowCreated:
			summary.Created++
		case rowUpdated:
			summary.Updated++
		case rowFailed:
			summary.Failed++
		}
		if err != nil {
			summary.Failures = append(summary.Failures, RowFailure{
				RowID:  rec.RowID,
				Title:  rec.Title,
				Reason: err.Error(),
			})
			r.logger.Error("row reconciliation failed",
				"rowID", rec.RowID,
				"title", rec.Title,
				"error", err,
			)
			if isAuthErr(err) {
				summary.AuthExpired = true
				summary.Err = fmt.Sprintf("run aborted: %v", err)
				summary.NotProcessed += remaining(records[i+1:], seen)
				return summary
			}
		}
	}
	return summary
}

type rowOutcome int

const (
	rowFailed rowOutcome = iota
	rowCreated
	rowUpdated
)

// reconcileRow pushes one row's full spec to Webex. The row's published state
// decides create versus update; the webinar ID, once written, is never
// cleared, so a published row can only ever be updated.
func (r *Reconciler) reconcileRow(ctx context.Context, rec Record) (rowOutcome, error) {
	if verr := rec.Validate(); verr != nil {
		return rowFailed, verr
	}

	req, err := BuildRequest(rec, r.params, r.now())
	if err != nil {
		return rowFailed, fmt.Errorf("build request: %w", err)
	}

	// Once a remote call is issued the row runs to completion even if the
	// run deadline passes, so a created webinar is always written back.
	rowCtx := context.WithoutCancel(ctx)

	var (
		mtg     meeting.Meeting
		outcome rowOutcome
	)
	if rec.Remote.Published() {
		mtg, err = r.remote.UpdateWebinar(rowCtx, rec.Remote.ID(), req)
		outcome = rowUpdated
	} else {
		mtg, err = r.remote.CreateWebinar(rowCtx, req)
		outcome = rowCreated
	}
	if err != nil {
		return rowFailed, fmt.Errorf("push webinar: %w", err)
	}

	// Even when the invitee sync fails the webinar now exists, so the ID
	// is still written back below before the error is reported.
	count, inviteeErr := r.syncInvitees(rowCtx, mtg.ID, rec)
	if inviteeErr != nil {
		inviteeErr = fmt.Errorf("sync invitees: %w", inviteeErr)
	}

	res := Result{
		WebinarID:       mtg.ID,
		AttendeeURL:     mtg.WebLink,
		HostKey:         mtg.HostKey,
		RegistrantCount: count,
	}
	if err := r.rows.WriteBack(rowCtx, rec.RowID, res); err != nil {
		// The webinar was created or updated; losing the write-back must
		// not flip the outcome, or the next run would create a duplicate.
		return outcome, fmt.Errorf("write back row: %w", err)
	}
	return outcome, inviteeErr
}

// syncInvitees makes the webinar's panelist and cohost invitees match the
// row: missing ones are added, changed ones updated, stale ones removed.
// Returns the invitee count after the sync for the registrant column.
func (r *Reconciler) syncInvitees(ctx context.Context, meetingID string, rec Record) (int, error) {
	panelists, cohosts := DesiredInvitees(rec, r.params, r.nicknames)

	desired := map[string]meeting.InviteeRequest{}
	for _, p := range panelists {
		desired[p.Email] = meeting.InviteeRequest{
			MeetingID:   meetingID,
			Email:       p.Email,
			DisplayName: p.Name,
			Panelist:    true,
		}
	}
	for _, c := range cohosts {
		desired[c.Email] = meeting.InviteeRequest{
			MeetingID:   meetingID,
			Email:       c.Email,
			DisplayName: c.Name,
			CoHost:      true,
			Panelist:    true,
		}
	}

	current, err := r.remote.ListInvitees(ctx, meetingID)
	if err != nil {
		return 0, fmt.Errorf("list invitees: %w", err)
	}
	byEmail := map[string]meeting.Invitee{}
	for _, inv := range current {
		// Only staff invitees are managed here. Plain attendees come
		// through registration and must never be uninvited.
		if !inv.Panelist && !inv.CoHost {
			continue
		}
		byEmail[strings.ToLower(inv.Email)] = inv
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for email, want := range desired {
		email, want := email, want
		have, exists := byEmail[email]
		switch {
		case !exists:
			g.Go(func() error {
				if err := r.remote.AddInvitee(gctx, want); err != nil {
					return fmt.Errorf("add invitee %s: %w", email, err)
				}
				return nil
			})
		case have.DisplayName != want.DisplayName || have.CoHost != want.CoHost || have.Panelist != want.Panelist:
			g.Go(func() error {
				if err := r.remote.UpdateInvitee(gctx, have.ID, want); err != nil {
					return fmt.Errorf("update invitee %s: %w", email, err)
				}
				return nil
			})
		}
	}
	for email, have := range byEmail {
		if _, keep := desired[email]; keep {
			continue
		}
		email, have := email, have
		g.Go(func() error {
			if err := r.remote.RemoveInvitee(gctx, have.ID); err != nil {
				return fmt.Errorf("remove invitee %s: %w", email, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	after, err := r.remote.ListInvitees(ctx, meetingID)
	if err != nil {
		return 0, fmt.Errorf("count invitees: %w", err)
	}
	return len(after), nil
}

func isAuthErr(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrUnauthorized)
}

// remaining counts the rows in recs not yet marked seen, deduplicated.
func remaining(recs []Record, seen map[string]bool) int {
	n := 0
	for _, rec := range recs {
		if seen[rec.RowID] {
			continue
		}
		seen[rec.RowID] = true
		n++
	}
	return n
}

// Markdown renders the summary for a chat room post.
func (s RunSummary) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Webinar run** (%s)\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "- Created: %d\n- Updated: %d\n- Failed: %d\n", s.Created, s.Updated, s.Failed)
	if s.NotProcessed > 0 {
		fmt.Fprintf(&b, "- Not processed: %d\n", s.NotProcessed)
	}
	if s.AuthExpired {
		b.WriteString("\n⚠️ **Webex authorization expired.** Re-authorize to resume scheduling.\n")
	}
	if s.Err != "" {
		fmt.Fprintf(&b, "\nRun error: %s\n", s.Err)
	}
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "- ❌ %q (row %s): %s\n", f.Title, f.RowID, f.Reason)
	}
	return b.String()
}

func (s RunSummary) String() string {
	return fmt.Sprintf("created=%d updated=%d failed=%d notProcessed=%d authExpired=%t",
		s.Created, s.Updated, s.Failed, s.NotProcessed, s.AuthExpired)
}
