package models

// RecordingStatus is the process-wide recording state reported to UI surfaces.
type RecordingStatus string

const (
	StatusIdle      RecordingStatus = "idle"
	StatusRecording RecordingStatus = "recording"
	StatusStopped   RecordingStatus = "stopped"
)

// Locator identifies an element across page loads.
type Locator struct {
	XPath       string `json:"xpath,omitempty"`
	CSSSelector string `json:"cssSelector,omitempty"`
	ElementTag  string `json:"elementTag,omitempty"`
	ElementText string `json:"elementText,omitempty"`
}

// DocumentTag marks a window-level scroll target.
const DocumentTag = "document"

func (l Locator) IsZero() bool {
	return l.XPath == "" && l.CSSSelector == "" && l.ElementTag == ""
}

type Workflow struct {
	ID          string                   `json:"id,omitempty"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Version     string                   `json:"version,omitempty"`
	InputSchema []map[string]interface{} `json:"input_schema"`
	Steps       Steps                    `json:"steps"`
	CreatedAt   int64                    `json:"createdAt,omitempty"`
	UpdatedAt   int64                    `json:"updatedAt,omitempty"`
	Tags        []string                 `json:"tags,omitempty"`
	Category    string                   `json:"category,omitempty"`
}

type Group struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Workflows []Workflow `json:"workflows"`
}

// Schedule replays a stored workflow on a cron expression.
type Schedule struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	Cron       string `json:"cron"`
	Enabled    bool   `json:"enabled"`
	CreatedAt  int64  `json:"created_at"`
}
