package model

import "testing"

func TestDetectHardBlocker(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name    string
		text    string
		pattern string
	}{
		{"permission denied", "bash: /etc/app.conf: Permission denied", "permission denied"},
		{"credential failure", "fatal: could not read CREDENTIAL from store", "credential"},
		{"network unreachable", "curl: (7) Network is unreachable", "network is unreachable"},
		{"plain test failure", "assert failed: want 3, got 4", ""},
		{"empty output", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.DetectHardBlocker(tt.text); got != tt.pattern {
				t.Errorf("DetectHardBlocker(%q) = %q, want %q", tt.text, got, tt.pattern)
			}
		})
	}
}

func TestResolveTeamCount(t *testing.T) {
	policy := DefaultPolicy()
	policy.DefaultParallelTeams = 3

	if got := policy.ResolveTeamCount(0); got != 3 {
		t.Errorf("ResolveTeamCount(0) = %d, want policy default 3", got)
	}
	if got := policy.ResolveTeamCount(5); got != 5 {
		t.Errorf("ResolveTeamCount(5) = %d, want 5", got)
	}

	policy.DefaultParallelTeams = 0
	if got := policy.ResolveTeamCount(0); got != 1 {
		t.Errorf("ResolveTeamCount(0) with zero default = %d, want floor 1", got)
	}
}

func TestResolveMaxFeatures(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxParallelFeaturesPerRun = 4

	if got := policy.ResolveMaxFeatures(0); got != 4 {
		t.Errorf("ResolveMaxFeatures(0) = %d, want policy default 4", got)
	}
	if got := policy.ResolveMaxFeatures(2); got != 2 {
		t.Errorf("ResolveMaxFeatures(2) = %d, want 2", got)
	}
}
