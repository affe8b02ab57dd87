package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestDecodeEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	body, err := json.Marshal(Event{Type: ClipDeleted, ProjectID: "p1", DeviceID: "d1", ClipIDs: []string{"c1"}, At: at})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	e, err := DecodeEvent(body)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if e.Type != ClipDeleted || e.ProjectID != "p1" || len(e.ClipIDs) != 1 || !e.At.Equal(at) {
		t.Errorf("DecodeEvent() = %+v", e)
	}
}

func TestDecodeEvent_Rejects(t *testing.T) {
	for _, body := range []string{`not json`, `{"type":"clip_deleted"}`} {
		if _, err := DecodeEvent([]byte(body)); err == nil {
			t.Errorf("DecodeEvent(%q) error = nil, want error", body)
		}
	}
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var _ Publisher = p
	if err := p.Publish(context.Background(), Event{ProjectID: "p1"}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}
