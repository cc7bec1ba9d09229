package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleConfig configures the Google Calendar client.
type GoogleConfig struct {
	// CredentialsFile is a service-account JSON key with access to
	// CalendarID.
	CredentialsFile string
	CalendarID      string
	// Location is the time zone events are created in. Defaults to UTC.
	Location *time.Location
	// Timeout bounds each API call. Zero leaves the caller's context in
	// charge.
	Timeout time.Duration

	// Endpoint and HTTPClient override the API endpoint and transport.
	// When HTTPClient is set, CredentialsFile is ignored.
	Endpoint   string
	HTTPClient *http.Client
}

// Google is a Client backed by the Google Calendar v3 API.
type Google struct {
	cfg GoogleConfig
	svc *gcal.Service
}

var _ Client = (*Google)(nil)

// NewGoogle builds the API service. It fails when the credentials cannot be
// loaded.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.CalendarID == "" {
		return nil, errors.New("calendar: calendar id is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.CredentialsFile != "":
		opts = append(opts,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(gcal.CalendarEventsScope),
		)
	default:
		return nil, errors.New("calendar: credentials file is required")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return &Google{cfg: cfg, svc: svc}, nil
}

// CreateMeeting inserts an event with a Google Meet conference attached.
func (g *Google) CreateMeeting(ctx context.Context, req MeetingRequest) Result {
	if req.Duration <= 0 {
		req.Duration = DefaultDuration
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := req.Start.In(g.cfg.Location)
	end := start.Add(req.Duration)
	zone := g.cfg.Location.String()

	event := &gcal.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: zone},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: zone},
		ConferenceData: &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	if req.AttendeeEmail != "" {
		event.Attendees = []*gcal.EventAttendee{{Email: req.AttendeeEmail}}
	}

	created, err := g.svc.Events.Insert(g.cfg.CalendarID, event).
		ConferenceDataVersion(1).
		Context(ctx).
		Do()
	if err != nil {
		slog.Warn("calendar: create meeting failed", "start", start, "err", fmt.Errorf("%w: %w", ErrCalendar, err))
		return Result{}
	}
	if created.Id == "" {
		slog.Warn("calendar: created event has no id", "err", ErrCalendar)
		return Result{}
	}

	link := videoLink(created)
	slog.Info("calendar: meeting created", "event_id", created.Id, "start", start, "has_link", link != "")
	return Result{OK: true, EventID: created.Id, JoinLink: link}
}

// CancelMeeting deletes the event. It reports false on any failure.
func (g *Google) CancelMeeting(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := g.svc.Events.Delete(g.cfg.CalendarID, eventID).Context(ctx).Do(); err != nil {
		slog.Warn("calendar: cancel meeting failed", "event_id", eventID, "err", fmt.Errorf("%w: %w", ErrCalendar, err))
		return false
	}
	slog.Info("calendar: meeting cancelled", "event_id", eventID)
	return true
}

func (g *Google) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, g.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// videoLink returns the URI of the first "video" entry point.
func videoLink(ev *gcal.Event) string {
	if ev.ConferenceData == nil {
		return ""
	}
	for _, ep := range ev.ConferenceData.EntryPoints {
		if ep != nil && ep.EntryPointType == "video" {
			return ep.Uri
		}
	}
	return ""
}
