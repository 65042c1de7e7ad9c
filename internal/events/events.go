package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventTipReceived    = "tip_received"
	EventTipSettled     = "tip_settled"
	EventProfileCreated = "profile_created"
)

// StreamTips carries every tip event; subscribers filter by profile slug.
const StreamTips = "tips:feed"

type Event struct {
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Slug returns the profile slug the event concerns, if any.
func (e Event) Slug() string {
	s, _ := e.Payload["profile_slug"].(string)
	return s
}

// Encode stamps OccurredAt when unset and serializes the event for the bus.
func Encode(e Event, now time.Time) ([]byte, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}
	return json.Marshal(e)
}

func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("event without type")
	}
	return e, nil
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
