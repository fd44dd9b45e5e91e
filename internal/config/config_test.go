package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AUTOLOOP_WORKSPACE", "")
	t.Setenv("AUTOLOOP_AUTH_SECRET", "")
	t.Setenv("AUTOLOOP_TOKEN_TTL_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want default 8000", cfg.Port)
	}
	if !filepath.IsAbs(cfg.WorkspaceRoot) {
		t.Errorf("WorkspaceRoot = %q, want absolute path", cfg.WorkspaceRoot)
	}
	if cfg.AuthEnabled() {
		t.Error("auth should be disabled without a secret")
	}
	if cfg.TokenTTL != time.Hour {
		t.Errorf("TokenTTL = %v, want default 1h", cfg.TokenTTL)
	}
	if cfg.AuthAudience != "autoloop-control" {
		t.Errorf("AuthAudience = %q", cfg.AuthAudience)
	}
}

func TestLoadOverrides(t *testing.T) {
	workspace := t.TempDir()
	t.Setenv("PORT", "9100")
	t.Setenv("AUTOLOOP_WORKSPACE", workspace)
	t.Setenv("AUTOLOOP_AUTH_SECRET", "shh")
	t.Setenv("AUTOLOOP_TOKEN_TTL_SECONDS", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Port)
	}
	if cfg.WorkspaceRoot != workspace {
		t.Errorf("WorkspaceRoot = %q, want %q", cfg.WorkspaceRoot, workspace)
	}
	if !cfg.AuthEnabled() {
		t.Error("auth should be enabled with a secret")
	}
	if cfg.TokenTTL != 2*time.Minute {
		t.Errorf("TokenTTL = %v, want 2m", cfg.TokenTTL)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted out-of-range port")
	}
}

func TestLoadRejectsInvalidTokenTTL(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AUTOLOOP_TOKEN_TTL_SECONDS", "-5")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted negative token TTL")
	}
}
