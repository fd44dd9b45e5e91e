package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidatePassesOnReachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("service is healthy"))
	}))
	defer srv.Close()

	ok, note := New().Validate(context.Background(), srv.URL, "healthy", false)
	if !ok {
		t.Fatalf("Validate failed: %s", note)
	}
	if !strings.Contains(note, "HTTP 200") {
		t.Errorf("note = %q, want status code", note)
	}
}

func TestValidateFailsOnMissingExpectedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("maintenance page"))
	}))
	defer srv.Close()

	ok, note := New().Validate(context.Background(), srv.URL, "healthy", false)
	if ok {
		t.Fatal("Validate passed despite missing expected text")
	}
	if !strings.Contains(note, "healthy") {
		t.Errorf("note = %q, want the missing text named", note)
	}
}

func TestValidateFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ok, note := New().Validate(context.Background(), srv.URL, "", false)
	if ok {
		t.Fatal("Validate passed on HTTP 500")
	}
	if !strings.Contains(note, "500") {
		t.Errorf("note = %q, want status code", note)
	}
}

func TestValidateFailsOnUnreachableTarget(t *testing.T) {
	ok, note := New().Validate(context.Background(), "http://127.0.0.1:1/health", "", false)
	if ok {
		t.Fatal("Validate passed on unreachable target")
	}
	if note == "" {
		t.Error("note empty on transport failure")
	}
}

func TestValidateDryRun(t *testing.T) {
	ok, note := New().Validate(context.Background(), "http://nowhere.invalid/", "x", true)
	if !ok {
		t.Fatal("dry-run validation should pass")
	}
	if !strings.Contains(note, "dry-run") {
		t.Errorf("note = %q, want dry-run marker", note)
	}
}
