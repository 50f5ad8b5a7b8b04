// Package workflow wraps consolidated steps into a workflow record and
// decides when a recomputed workflow is worth broadcasting.
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/consolidate"
	"flowcraft/backend/internal/models"
)

const (
	DefaultName    = "Recorded Workflow"
	DefaultVersion = "1.0.0"
)

type Assembler struct {
	Consolidator *consolidate.Consolidator
	Clock        clock.Clock
}

// Assemble consolidates events and wraps the steps with generated metadata.
func (a *Assembler) Assemble(events []models.RawEvent) models.Workflow {
	c := a.Consolidator
	if c == nil {
		c = &consolidate.Consolidator{}
	}
	clk := a.Clock
	if clk == nil {
		clk = clock.Real
	}
	return models.Workflow{
		Name:        DefaultName,
		Description: fmt.Sprintf("Recorded on %s", clk.Now().Format(time.DateTime)),
		Version:     DefaultVersion,
		InputSchema: []map[string]interface{}{},
		Steps:       c.Run(events),
	}
}

// Hash is the hex SHA-256 of the JSON encoding of steps.
func Hash(steps models.Steps) (string, error) {
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("failed to encode steps: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Notifier forwards a workflow to its sink only when the step hash differs
// from the last one forwarded.
type Notifier struct {
	sink func(models.Workflow)

	mu       sync.Mutex
	lastHash string
	hasLast  bool
}

func NewNotifier(sink func(models.Workflow)) *Notifier {
	return &Notifier{sink: sink}
}

// MaybeNotify reports whether wf was forwarded. The sink is called while the
// notifier lock is held so forwards keep their call order.
func (n *Notifier) MaybeNotify(wf models.Workflow) (bool, error) {
	h, err := Hash(wf.Steps)
	if err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hasLast && h == n.lastHash {
		return false, nil
	}
	n.lastHash, n.hasLast = h, true
	if n.sink != nil {
		n.sink(wf)
	}
	return true, nil
}

// LastHash returns the hash of the last forwarded workflow.
func (n *Notifier) LastHash() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastHash
}
