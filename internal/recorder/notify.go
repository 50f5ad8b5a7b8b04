package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"flowcraft/backend/internal/models"
)

const (
	EventRecordingStarted = "recording_started"
	EventRecordingStopped = "recording_stopped"
)

// ExternalEvent is sent to the external listener on start and stop.
type ExternalEvent struct {
	Event     string                 `json:"event"`
	Status    models.RecordingStatus `json:"status"`
	Timestamp int64                  `json:"timestamp"`
	Workflow  *models.Workflow       `json:"workflow,omitempty"`
}

type ExternalNotifier interface {
	Notify(ctx context.Context, ev ExternalEvent) error
}

// HTTPNotifier posts events as JSON to a fixed URL.
type HTTPNotifier struct {
	URL    string
	Client *http.Client
}

func (n *HTTPNotifier) Notify(ctx context.Context, ev ExternalEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("listener returned %s", resp.Status)
	}
	return nil
}
