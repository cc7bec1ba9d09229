package intent_test

import (
	"testing"
	"time"

	"github.com/bdobrica/Mimic/internal/imitator/intent"
)

func TestHeuristic_Extract(t *testing.T) {
	h := intent.NewHeuristic()
	tests := []struct {
		name     string
		message  string
		wantNil  bool
		wantDate string
		wantTime string
	}{
		{name: "empty", message: "", wantNil: true},
		{name: "no keyword", message: "see you at 15:00", wantNil: true},
		{name: "keyword without fragments", message: "Давайте созвонимся как-нибудь, нужна консультация", wantNil: true},
		{name: "english call with clock", message: "let's have a call at 15:00", wantTime: "15:00"},
		{name: "numeric date and clock", message: "Встреча 10.03 в 14:30?", wantDate: "10.03", wantTime: "14:30"},
		{name: "numeric date with year", message: "консультация 05/04/2025", wantDate: "05/04/2025"},
		{name: "relative day", message: "Можно встретиться завтра в 11 часов", wantDate: "завтра", wantTime: "в 11 часов"},
		{name: "day after tomorrow wins over tomorrow", message: "созвон послезавтра", wantDate: "послезавтра"},
		{name: "russian month", message: "Хочу консультацию 15 марта 3 вечера", wantDate: "15 марта", wantTime: "3 вечера"},
		{name: "hours with period", message: "встреча в 3 часа дня", wantTime: "в 3 часа дня"},
		{name: "english month and pm", message: "Can we book a meeting on 12 June at 4pm?", wantDate: "12 june", wantTime: "4pm"},
		{name: "o'clock", message: "Call tomorrow at 9 o'clock", wantDate: "tomorrow", wantTime: "at 9 o'clock"},
		{name: "in the morning", message: "appointment today, 10 in the morning", wantDate: "today", wantTime: "10 in the morning"},
		{name: "clock wins over later pattern", message: "meeting at 7 pm or 18:30", wantTime: "18:30"},
		{name: "keyword inside basically", message: "Basically I'm busy today, sorry", wantNil: true},
		{name: "keyword inside recall", message: "I don't recall what you said yesterday at 10:30", wantNil: true},
		{name: "keyword inside typically", message: "Typically I wake up at 7 am", wantNil: true},
		{name: "keyword inside recalled", message: "The recalled parts ship tomorrow", wantNil: true},
		{name: "inflected english keyword", message: "Calling you tomorrow at 9 o'clock", wantDate: "tomorrow", wantTime: "at 9 o'clock"},
		{name: "plural english keyword", message: "Any meetings on 3/4?", wantDate: "3/4"},
		{name: "dotted clock is a time", message: "созвон в 15.00", wantTime: "в 15.00"},
		{name: "dotted clock after a date", message: "Встреча 10.03 в 14.30", wantDate: "10.03", wantTime: "в 14.30"},
		{name: "in N days is a date only", message: "созвон через 2 дня", wantDate: "через 2 дня"},
		{name: "in N days with hour", message: "Созвонимся через 3 дня в 5 вечера", wantDate: "через 3 дня", wantTime: "5 вечера"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Extract(tt.message)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected an intent, got nil")
			}
			if got.Date != tt.wantDate || got.Time != tt.wantTime {
				t.Errorf("got date=%q time=%q, want date=%q time=%q", got.Date, got.Time, tt.wantDate, tt.wantTime)
			}
			if got.RawMessage != tt.message {
				t.Errorf("RawMessage = %q", got.RawMessage)
			}
		})
	}
}

func TestHeuristic_ExtraKeywords(t *testing.T) {
	if intent.NewHeuristic().Extract("демо в 12:00") != nil {
		t.Fatal("unexpected match without the extra keyword")
	}
	if intent.NewHeuristic("Демо").Extract("демо в 12:00") == nil {
		t.Fatal("extra keyword not honoured")
	}
}

func TestNextFullHour(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2025, 3, 10, 23, 45, 10, 0, loc)
	got := intent.NextFullHour(now, loc)
	want := time.Date(2025, 3, 11, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve(t *testing.T) {
	loc := time.FixedZone("MSK", 3*3600)
	now := time.Date(2025, 3, 10, 13, 20, 0, 0, loc) // Monday

	tests := []struct {
		name   string
		in     intent.MeetingIntent
		want   time.Time
		wantOK bool
	}{
		{"clock later today", intent.MeetingIntent{Time: "15:00"}, time.Date(2025, 3, 10, 15, 0, 0, 0, loc), true},
		{"clock already passed rolls to tomorrow", intent.MeetingIntent{Time: "09:30"}, time.Date(2025, 3, 11, 9, 30, 0, 0, loc), true},
		{"tomorrow at hour", intent.MeetingIntent{Date: "завтра", Time: "в 11 часов"}, time.Date(2025, 3, 11, 11, 0, 0, 0, loc), true},
		{"evening", intent.MeetingIntent{Date: "15 марта", Time: "3 вечера"}, time.Date(2025, 3, 15, 15, 0, 0, 0, loc), true},
		{"hours with period", intent.MeetingIntent{Time: "в 3 часа дня"}, time.Date(2025, 3, 10, 15, 0, 0, 0, loc), true},
		{"date only uses default hour", intent.MeetingIntent{Date: "12.03"}, time.Date(2025, 3, 12, intent.DefaultHour, 0, 0, 0, loc), true},
		{"past day-month rolls year", intent.MeetingIntent{Date: "1 feb", Time: "10am"}, time.Date(2026, 2, 1, 10, 0, 0, 0, loc), true},
		{"explicit two-digit year", intent.MeetingIntent{Date: "05/04/26", Time: "12 pm"}, time.Date(2026, 4, 5, 12, 0, 0, 0, loc), true},
		{"today but passed", intent.MeetingIntent{Date: "today", Time: "10:00"}, time.Time{}, false},
		{"impossible date", intent.MeetingIntent{Date: "31.02"}, time.Time{}, false},
		{"bad clock", intent.MeetingIntent{Time: "25:00"}, time.Time{}, false},
		{"explicit past year", intent.MeetingIntent{Date: "01.01.2020"}, time.Time{}, false},
		{"dotted clock", intent.MeetingIntent{Time: "в 15.00"}, time.Date(2025, 3, 10, 15, 0, 0, 0, loc), true},
		{"in two days", intent.MeetingIntent{Date: "через 2 дня"}, time.Date(2025, 3, 12, intent.DefaultHour, 0, 0, 0, loc), true},
		{"in three days at five", intent.MeetingIntent{Date: "in 3 days", Time: "5 pm"}, time.Date(2025, 3, 13, 17, 0, 0, 0, loc), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			got, ok := intent.Resolve(&in, now, loc)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (got %v)", ok, tt.wantOK, got)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, ok := intent.Resolve(nil, now, loc); ok {
		t.Error("nil intent resolved")
	}
}
