// Package notify tells other devices that a project changed remotely so they
// can pull sooner than their next scheduled sync.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

type EventType string

const (
	ClipsPublished EventType = "clips_published"
	ClipDeleted    EventType = "clip_deleted"
	ProjectUpdated EventType = "project_updated"
)

type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"project_id"`
	DeviceID  string    `json:"device_id"`
	ClipIDs   []string  `json:"clip_ids,omitempty"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// DecodeEvent parses a delivery body.
func DecodeEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.ProjectID == "" {
		return Event{}, fmt.Errorf("decode event: missing project_id")
	}
	return e, nil
}

// LogPublisher only logs events. It is used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Debug("project change event",
		"type", e.Type,
		"project_id", e.ProjectID,
		"clip_count", len(e.ClipIDs),
	)
	return nil
}
