package guard

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s failed: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", name, err)
	}
}

func TestSnapshotDetectsNewFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")

	before := Snapshot(root)
	writeFile(t, root, "api.go", "package main")
	after := Snapshot(root)

	if before.Equal(after) {
		t.Fatal("snapshots equal after adding a file")
	}
}

func TestSnapshotDetectsSizeChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")

	before := Snapshot(root)
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	after := Snapshot(root)

	if before.Equal(after) {
		t.Fatal("snapshots equal after growing a file")
	}
}

func TestSnapshotIgnoresStateArtifacts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")

	before := Snapshot(root)
	writeFile(t, root, "AGENT_STATUS.md", "# AGENT_STATUS")
	writeFile(t, root, "progress.log", "2026-01-01 00:00:00Z started")
	writeFile(t, root, filepath.Join(".autoloop", "state.json"), "{}")
	writeFile(t, root, filepath.Join(".git", "HEAD"), "ref: refs/heads/main")
	after := Snapshot(root)

	if !before.Equal(after) {
		t.Fatal("snapshots differ after touching only excluded artifacts")
	}
}

func TestCheckWorkspaceChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	before := Snapshot(root)

	t.Run("unchanged without verification trips", func(t *testing.T) {
		after := Snapshot(root)
		verdict, unchanged := CheckWorkspaceChange(before, after, false)
		if !unchanged {
			t.Fatal("expected guard to trip on unchanged workspace")
		}
		if verdict.Command != WorkspaceCommand || verdict.ExitCode != ExitCode {
			t.Fatalf("verdict = %+v, want %s exit %d", verdict, WorkspaceCommand, ExitCode)
		}
	})

	t.Run("verification evidence suppresses the guard", func(t *testing.T) {
		after := Snapshot(root)
		if _, unchanged := CheckWorkspaceChange(before, after, true); unchanged {
			t.Fatal("guard tripped despite verification evidence")
		}
	})

	t.Run("changed workspace passes", func(t *testing.T) {
		writeFile(t, root, "new.go", "package main")
		after := Snapshot(root)
		if _, unchanged := CheckWorkspaceChange(before, after, false); unchanged {
			t.Fatal("guard tripped despite workspace change")
		}
	})
}
