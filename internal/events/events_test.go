package events

import (
	"testing"
	"time"
)

func TestEncodeStampsTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := Encode(Event{Type: EventTipReceived, Payload: map[string]any{"profile_slug": "joes-diner"}}, now)
	if err != nil {
		t.Fatal(err)
	}
	e, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !e.OccurredAt.Equal(now) {
		t.Errorf("occurred_at = %v, want %v", e.OccurredAt, now)
	}
	if e.Slug() != "joes-diner" {
		t.Errorf("slug = %q", e.Slug())
	}
}

func TestEncodeKeepsExistingTime(t *testing.T) {
	at := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	data, err := Encode(Event{Type: EventTipSettled, OccurredAt: at}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	e, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !e.OccurredAt.Equal(at) {
		t.Errorf("occurred_at overwritten: %v", e.OccurredAt)
	}
	if e.Slug() != "" {
		t.Errorf("slug = %q, want empty", e.Slug())
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, in := range []string{`not json`, `{}`, `{"type":""}`} {
		if _, err := Decode([]byte(in)); err == nil {
			t.Errorf("Decode(%s) succeeded", in)
		}
	}
}
