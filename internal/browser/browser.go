// Package browser provides the external validation collaborator: an HTTP
// reachability and content check run at the stop-decision boundary.
package browser

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Checker validates a running deployment by fetching one URL and optionally
// matching expected text in the response body.
type Checker struct {
	client *http.Client
}

// New returns a checker with the default request timeout.
func New() *Checker {
	return &Checker{client: &http.Client{Timeout: defaultTimeout}}
}

// Validate fetches target and reports whether the deployment looks healthy.
// The boolean is the verdict; the string is a human-readable note. Transport
// failures are a failing verdict, never an error: the stop evaluator treats
// validation like any other observation.
func (c *Checker) Validate(ctx context.Context, target, expectText string, dryRun bool) (bool, string) {
	if dryRun {
		return true, "dry-run: validation skipped for " + target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Sprintf("invalid validation target %q: %v", target, err)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("validation request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return false, fmt.Sprintf("validation body read failed: %v", err)
	}
	duration := time.Since(started)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return false, fmt.Sprintf("validation target returned HTTP %d", resp.StatusCode)
	}
	if expectText != "" && !strings.Contains(string(body), expectText) {
		return false, fmt.Sprintf("validation body missing expected text %q", expectText)
	}

	log.Printf("[Browser] Validation passed for %s in %.2fs (HTTP %d)", target, duration.Seconds(), resp.StatusCode)
	return true, fmt.Sprintf("validated %s (HTTP %d, %.2fs)", target, resp.StatusCode, duration.Seconds())
}
