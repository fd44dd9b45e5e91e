package guard

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/cexll/autoloop/internal/model"
)

// fileStamp is a cheap identity for one tracked file.
type fileStamp struct {
	size    int64
	modTime time.Time
}

// WorkspaceSnapshot records size and modification time for every tracked file
// under a root, excluding the engine's own state and log artifacts.
type WorkspaceSnapshot struct {
	files map[string]fileStamp
}

var excludedNames = map[string]bool{
	"AGENT_STATUS.md": true,
	"AGENT_POLICY.md": true,
	"HANDOFF.md":      true,
	"progress.log":    true,
}

var excludedDirs = map[string]bool{
	".autoloop":    true,
	".git":         true,
	"node_modules": true,
}

// Snapshot walks the workspace and records the current file stamps. Walk
// errors skip the offending entry rather than failing the snapshot: the guard
// is a heuristic, not a correctness gate.
func Snapshot(root string) *WorkspaceSnapshot {
	snap := &WorkspaceSnapshot{files: make(map[string]fileStamp)}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if excludedDirs[name] || (strings.HasPrefix(name, ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if excludedNames[name] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		snap.files[rel] = fileStamp{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	return snap
}

// Equal reports whether no tracked file was added, removed, or modified
// between the two snapshots.
func (s *WorkspaceSnapshot) Equal(other *WorkspaceSnapshot) bool {
	if len(s.files) != len(other.files) {
		return false
	}
	for path, stamp := range s.files {
		after, ok := other.files[path]
		if !ok || after != stamp {
			return false
		}
	}
	return true
}

// CheckWorkspaceChange compares the before/after snapshots around a successful
// implementation step. An unchanged workspace with no verification evidence is
// not real progress and yields a synthetic failing result.
func CheckWorkspaceChange(before, after *WorkspaceSnapshot, verificationRan bool) (model.CommandResult, bool) {
	if verificationRan || !before.Equal(after) {
		return model.CommandResult{}, false
	}
	return model.CommandResult{
		Command:  WorkspaceCommand,
		ExitCode: ExitCode,
		Stderr:   "implementation reported success but no tracked file changed and no verification ran",
		Phase:    model.PhaseGuard,
	}, true
}
