package engine

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/orchestrator"
)

// Handoff trigger reasons.
const (
	HandoffIterationInterval = "iteration_interval"
	HandoffNoProgress        = "no_progress"
	HandoffContextPressure   = "context_pressure"
)

const handoffTopPending = 5

// HandoffSnapshot is the state capsule persisted for a fresh session.
type HandoffSnapshot struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	Epoch          int             `json:"epoch"`
	Reason         string          `json:"reason"`
	Objective      string          `json:"objective"`
	PassedFeatures int             `json:"passed_features"`
	TotalFeatures  int             `json:"total_features"`
	TopPending     []model.Feature `json:"top_pending"`
	RecentBlockers []string        `json:"recent_blockers"`
	RecentCommands []string        `json:"recent_commands"`
	ProgressTail   []string        `json:"progress_tail"`
}

// ShouldHandoff is the pure threshold check evaluated after every epoch. Any
// one satisfied condition triggers.
func ShouldHandoff(policy model.AgentPolicy, epoch, noProgressEpochs, contextSize int) (string, bool) {
	if policy.HandoffIterationInterval > 0 && epoch > 0 && epoch%policy.HandoffIterationInterval == 0 {
		return HandoffIterationInterval, true
	}
	if policy.HandoffNoProgressInterval > 0 && noProgressEpochs >= policy.HandoffNoProgressInterval {
		return HandoffNoProgress, true
	}
	if policy.HandoffContextCharLimit > 0 && contextSize >= policy.HandoffContextCharLimit {
		return HandoffContextPressure, true
	}
	return "", false
}

// performHandoff snapshots the run state for a fresh session and persists it.
func (e *Engine) performHandoff(epoch int, reason string) (model.HandoffEvent, error) {
	status, err := e.store.LoadStatus()
	if err != nil {
		return model.HandoffEvent{}, err
	}
	features, err := e.store.LoadFeatures()
	if err != nil {
		return model.HandoffEvent{}, err
	}

	passed := 0
	for _, f := range features {
		if f.Passes {
			passed++
		}
	}

	snapshot := HandoffSnapshot{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Epoch:          epoch,
		Reason:         reason,
		Objective:      status.CurrentObjective,
		PassedFeatures: passed,
		TotalFeatures:  len(features),
		TopPending:     orchestrator.PickNextFeatures(features, handoffTopPending, nil),
		RecentBlockers: tailOf(status.Blockers, handoffTopPending),
		RecentCommands: tailOf(status.LastCommandSummary, handoffTopPending),
		ProgressTail:   e.store.ReadProgressTail(10),
	}

	path, err := e.store.WriteHandoffSnapshot(snapshot.ID, snapshot, renderHandoffMarkdown(snapshot))
	if err != nil {
		return model.HandoffEvent{}, err
	}
	if err := e.store.AppendProgress(fmt.Sprintf("Handoff snapshot %s written after epoch %d (%s)", snapshot.ID, epoch, reason)); err != nil {
		return model.HandoffEvent{}, err
	}
	log.Printf("[Engine] Handoff snapshot written: %s (reason=%s)", path, reason)

	return model.HandoffEvent{
		ID:           snapshot.ID,
		Epoch:        epoch,
		Reason:       reason,
		SnapshotPath: path,
	}, nil
}

func renderHandoffMarkdown(snapshot HandoffSnapshot) string {
	var b strings.Builder
	b.WriteString("# HANDOFF\n\n")
	fmt.Fprintf(&b, "Snapshot %s after epoch %d (%s)\n\n", snapshot.ID, snapshot.Epoch, snapshot.Reason)
	fmt.Fprintf(&b, "## Objective\n%s\n\n", orDefault(snapshot.Objective, "Not set."))
	fmt.Fprintf(&b, "## Progress\n%d/%d features passing\n", snapshot.PassedFeatures, snapshot.TotalFeatures)
	b.WriteString("\n## Top Pending Features\n")
	if len(snapshot.TopPending) == 0 {
		b.WriteString("- None\n")
	}
	for _, f := range snapshot.TopPending {
		fmt.Fprintf(&b, "- %s (priority %d): %s\n", f.ID, f.Priority, f.Description)
	}
	b.WriteString("\n## Recent Blockers\n")
	if len(snapshot.RecentBlockers) == 0 {
		b.WriteString("- None\n")
	}
	for _, blocker := range snapshot.RecentBlockers {
		b.WriteString("- " + blocker + "\n")
	}
	b.WriteString("\n## Recent Progress\n")
	if len(snapshot.ProgressTail) == 0 {
		b.WriteString("- None\n")
	}
	for _, line := range snapshot.ProgressTail {
		b.WriteString("- " + line + "\n")
	}
	return b.String()
}

func tailOf(items []string, n int) []string {
	if len(items) <= n {
		return append([]string{}, items...)
	}
	return append([]string{}, items[len(items)-n:]...)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
