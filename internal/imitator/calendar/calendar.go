// Package calendar books video meetings on a Google calendar.
//
// Callers never see errors: a booking either succeeds (Result.OK) or it does
// not, and the orchestrator answers with a fallback reply. Failures are
// logged here, wrapped in ErrCalendar.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrCalendar wraps every calendar failure that is logged.
var ErrCalendar = errors.New("calendar: request failed")

// DefaultDuration is the meeting length used when a request does not set one.
const DefaultDuration = time.Hour

// MeetingRequest describes the meeting to create.
type MeetingRequest struct {
	Summary     string
	Description string
	Start       time.Time
	Duration    time.Duration
	// AttendeeEmail is invited when set.
	AttendeeEmail string
}

// Result of CreateMeeting. When OK is false both EventID and JoinLink are
// empty. When OK is true JoinLink may still be empty if the calendar did not
// attach a video conference.
type Result struct {
	OK       bool
	EventID  string
	JoinLink string
}

// Client creates and cancels meetings.
type Client interface {
	CreateMeeting(ctx context.Context, req MeetingRequest) Result
	CancelMeeting(ctx context.Context, eventID string) bool
}

// Disabled is the Client used when no calendar is configured. Every booking
// fails, so the scheduling branch always answers with its fallback.
type Disabled struct{}

var _ Client = Disabled{}

// CreateMeeting implements Client.
func (Disabled) CreateMeeting(context.Context, MeetingRequest) Result { return Result{} }

// CancelMeeting implements Client.
func (Disabled) CancelMeeting(context.Context, string) bool { return false }
