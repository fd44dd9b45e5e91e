package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cexll/autoloop/internal/model"
)

// Artifact file names inside the workspace root.
const (
	StatusMarkdown  = "AGENT_STATUS.md"
	PolicyMarkdown  = "AGENT_POLICY.md"
	FeaturesFile    = "feature_list.json"
	ProgressLog     = "progress.log"
	HandoffMarkdown = "HANDOFF.md"
	StateDir        = ".autoloop"
	StateFile       = "state.json"
	PolicyFile      = "policy.json"
)

// Store persists the engine's whole-document artifacts under one workspace
// root. All operations are load/replace; there are no partial updates.
type Store struct {
	Root string
}

// New returns a store rooted at the given workspace directory.
func New(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) ensureStateDir() (string, error) {
	dir := filepath.Join(s.Root, StateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// LoadFeatures reads the full feature list. A missing file is an empty list.
func (s *Store) LoadFeatures() ([]model.Feature, error) {
	path := filepath.Join(s.Root, FeaturesFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []model.Feature{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", FeaturesFile, err)
	}
	var features []model.Feature
	if err := json.Unmarshal(raw, &features); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FeaturesFile, err)
	}
	return features, nil
}

// SaveFeatures writes the full feature list, ordered with pending work first.
func (s *Store) SaveFeatures(features []model.Feature) error {
	sorted := make([]model.Feature, len(features))
	copy(sorted, features)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Passes != sorted[j].Passes {
			return !sorted[i].Passes
		}
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	return s.writeJSON(filepath.Join(s.Root, FeaturesFile), sorted)
}

// LoadStatus reads the persisted status, falling back to an AGENT_STATUS.md
// left by manual edits, then to an empty status.
func (s *Store) LoadStatus() (*model.AgentStatus, error) {
	statePath := filepath.Join(s.Root, StateDir, StateFile)
	raw, err := os.ReadFile(statePath)
	if err == nil {
		status := model.NewStatus()
		if err := json.Unmarshal(raw, status); err != nil {
			return nil, fmt.Errorf("parse %s: %w", StateFile, err)
		}
		return status, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", StateFile, err)
	}

	mdRaw, mdErr := os.ReadFile(filepath.Join(s.Root, StatusMarkdown))
	if mdErr == nil {
		status := model.NewStatus()
		status.CurrentObjective = extractObjective(string(mdRaw))
		return status, nil
	}
	return model.NewStatus(), nil
}

// SaveStatus writes the JSON state and the AGENT_STATUS.md mirror.
func (s *Store) SaveStatus(status *model.AgentStatus) error {
	dir, err := s.ensureStateDir()
	if err != nil {
		return err
	}
	if err := s.writeJSON(filepath.Join(dir, StateFile), status); err != nil {
		return err
	}
	return s.writeFile(filepath.Join(s.Root, StatusMarkdown), status.ToMarkdown())
}

// LoadPolicy reads the persisted policy, or the defaults when absent.
func (s *Store) LoadPolicy() (model.AgentPolicy, error) {
	path := filepath.Join(s.Root, StateDir, PolicyFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return model.DefaultPolicy(), nil
	}
	if err != nil {
		return model.AgentPolicy{}, fmt.Errorf("read %s: %w", PolicyFile, err)
	}
	policy := model.DefaultPolicy()
	if err := json.Unmarshal(raw, &policy); err != nil {
		return model.AgentPolicy{}, fmt.Errorf("parse %s: %w", PolicyFile, err)
	}
	return policy, nil
}

// SavePolicy writes the policy JSON and the AGENT_POLICY.md mirror.
func (s *Store) SavePolicy(policy model.AgentPolicy) error {
	dir, err := s.ensureStateDir()
	if err != nil {
		return err
	}
	if err := s.writeJSON(filepath.Join(dir, PolicyFile), policy); err != nil {
		return err
	}
	return s.writeFile(filepath.Join(s.Root, PolicyMarkdown), policy.ToMarkdown())
}

// AppendProgress appends one timestamped line to the progress log.
func (s *Store) AppendProgress(message string) error {
	ts := time.Now().UTC().Format("2006-01-02 15:04:05Z")
	f, err := os.OpenFile(filepath.Join(s.Root, ProgressLog), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", ProgressLog, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s %s\n", ts, message); err != nil {
		return fmt.Errorf("append %s: %w", ProgressLog, err)
	}
	return nil
}

// ReadProgressTail returns the last n lines of the progress log.
func (s *Store) ReadProgressTail(n int) []string {
	raw, err := os.ReadFile(filepath.Join(s.Root, ProgressLog))
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// ContextSize sums the on-disk sizes of the persisted status, feature, and log
// artifacts. The handoff trigger uses it as a cheap context-pressure estimate.
func (s *Store) ContextSize() int {
	total := 0
	for _, name := range []string{
		StatusMarkdown,
		FeaturesFile,
		ProgressLog,
		filepath.Join(StateDir, StateFile),
	} {
		if info, err := os.Stat(filepath.Join(s.Root, name)); err == nil {
			total += int(info.Size())
		}
	}
	return total
}

// WriteHandoffSnapshot persists a handoff snapshot JSON under the state dir
// and mirrors a readable summary to HANDOFF.md. Returns the snapshot path.
func (s *Store) WriteHandoffSnapshot(id string, snapshot any, markdown string) (string, error) {
	dir, err := s.ensureStateDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "handoff-"+id+".json")
	if err := s.writeJSON(path, snapshot); err != nil {
		return "", err
	}
	if err := s.writeFile(filepath.Join(s.Root, HandoffMarkdown), markdown); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) writeJSON(path string, payload any) error {
	blob, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return s.writeFile(path, string(blob)+"\n")
}

func (s *Store) writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func extractObjective(markdown string) string {
	lines := strings.Split(markdown, "\n")
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line), "## current objective") {
			for _, next := range lines[i+1:] {
				if candidate := strings.TrimSpace(next); candidate != "" {
					return candidate
				}
			}
			break
		}
	}
	return ""
}
