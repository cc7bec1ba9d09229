package calendar_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Mimic/internal/imitator/calendar"
)

type insertedEvent struct {
	Summary string `json:"summary"`
	Start   struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
	} `json:"end"`
	Attendees []struct {
		Email string `json:"email"`
	} `json:"attendees"`
	ConferenceData struct {
		CreateRequest struct {
			RequestID             string `json:"requestId"`
			ConferenceSolutionKey struct {
				Type string `json:"type"`
			} `json:"conferenceSolutionKey"`
		} `json:"createRequest"`
	} `json:"conferenceData"`
}

func newGoogle(t *testing.T, h http.HandlerFunc) *calendar.Google {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	g, err := calendar.NewGoogle(context.Background(), calendar.GoogleConfig{
		CalendarID: "primary",
		Location:   loc,
		Endpoint:   srv.URL + "/calendar/v3/",
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewGoogle: %v", err)
	}
	return g
}

func TestGoogle_CreateMeeting(t *testing.T) {
	var got insertedEvent
	var conferenceVersion string
	g := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		conferenceVersion = r.URL.Query().Get("conferenceDataVersion")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "E1",
			"conferenceData": {"entryPoints": [
				{"entryPointType": "phone", "uri": "tel:+1-555"},
				{"entryPointType": "video", "uri": "https://meet.google.com/abc-defg-hij"}
			]}
		}`))
	})

	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	res := g.CreateMeeting(context.Background(), calendar.MeetingRequest{
		Summary:       "Консультация",
		Start:         start,
		AttendeeEmail: "guest@example.org",
	})

	if !res.OK || res.EventID != "E1" || res.JoinLink != "https://meet.google.com/abc-defg-hij" {
		t.Fatalf("result: %+v", res)
	}
	if conferenceVersion != "1" {
		t.Errorf("conferenceDataVersion = %q", conferenceVersion)
	}
	if got.Start.TimeZone != "Europe/Moscow" || got.Start.DateTime != "2025-03-10T15:00:00+03:00" {
		t.Errorf("start: %+v", got.Start)
	}
	if got.End.DateTime != "2025-03-10T16:00:00+03:00" {
		t.Errorf("end: %+v", got.End)
	}
	if got.ConferenceData.CreateRequest.ConferenceSolutionKey.Type != "hangoutsMeet" || got.ConferenceData.CreateRequest.RequestID == "" {
		t.Errorf("conference request: %+v", got.ConferenceData.CreateRequest)
	}
	if len(got.Attendees) != 1 || got.Attendees[0].Email != "guest@example.org" {
		t.Errorf("attendees: %+v", got.Attendees)
	}
}

func TestGoogle_CreateMeetingWithoutVideoLink(t *testing.T) {
	g := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "E2"}`))
	})
	res := g.CreateMeeting(context.Background(), calendar.MeetingRequest{Start: time.Now()})
	if !res.OK || res.EventID != "E2" || res.JoinLink != "" {
		t.Fatalf("result: %+v", res)
	}
}

func TestGoogle_CreateMeetingFailure(t *testing.T) {
	g := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "forbidden"}}`))
	})
	res := g.CreateMeeting(context.Background(), calendar.MeetingRequest{Start: time.Now()})
	if res != (calendar.Result{}) {
		t.Fatalf("expected zero result, got %+v", res)
	}
}

func TestGoogle_CancelMeeting(t *testing.T) {
	var deleted string
	g := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		deleted = r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if deleted == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if !g.CancelMeeting(context.Background(), "E1") || deleted != "E1" {
		t.Errorf("cancel E1 failed (deleted=%q)", deleted)
	}
	if g.CancelMeeting(context.Background(), "missing") {
		t.Error("cancel of missing event reported success")
	}
	if g.CancelMeeting(context.Background(), "") {
		t.Error("empty id reported success")
	}
}

func TestDisabled(t *testing.T) {
	var c calendar.Client = calendar.Disabled{}
	if res := c.CreateMeeting(context.Background(), calendar.MeetingRequest{}); res.OK {
		t.Error("disabled client booked a meeting")
	}
	if c.CancelMeeting(context.Background(), "E1") {
		t.Error("disabled client cancelled a meeting")
	}
}
