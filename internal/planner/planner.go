// Package planner decomposes one high-level task into executable feature
// items by delegating to the agent CLI with a constrained JSON output schema.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cexll/autoloop/internal/backend"
	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/storage"
)

var execCommandContext = backend.ExecCommandContext

// Request describes one task to decompose.
type Request struct {
	TaskID              string
	Description         string
	WorkDir             string
	MaxFeatures         int
	DefaultCategory     string
	ParallelSafeDefault bool
	Objective           string
	DryRun              bool
}

// Planner invokes the agent CLI in read-only planning mode.
type Planner struct {
	cliPath          string
	model            string
	reasoningEffort  string
	sandboxMode      string
	disableShellTool bool
	timeout          time.Duration
}

// New builds a planner from the policy snapshot.
func New(policy model.AgentPolicy) *Planner {
	sandbox := policy.PlannerSandboxMode
	if sandbox == "" {
		sandbox = "read-only"
	}
	return &Planner{
		cliPath:          policy.AgentCLIPath,
		model:            policy.AgentModel,
		reasoningEffort:  policy.AgentReasoningEffort,
		sandboxMode:      sandbox,
		disableShellTool: policy.PlannerDisableShellTool,
		timeout:          backend.AgentTimeout(policy),
	}
}

// PlanTask returns the decomposed features, the CLI CommandResult, and
// whether the deterministic fallback plan was used. The planner never fails
// outright: a broken CLI or degenerate output degrades to the fallback.
func (p *Planner) PlanTask(ctx context.Context, req Request) ([]model.Feature, model.CommandResult, bool) {
	maxFeatures := req.MaxFeatures
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	if req.DryRun {
		return p.fallbackPlan(req, maxFeatures), model.CommandResult{
			Command: "planner dry-run",
			Stdout:  "dry-run: task decomposition skipped; fallback plan generated",
			Phase:   model.PhasePlan,
		}, true
	}

	outputPath, schemaPath, err := p.writeSchemaFiles(req.WorkDir, maxFeatures)
	if err != nil {
		log.Printf("[Planner] Schema setup failed, using fallback plan: %v", err)
		return p.fallbackPlan(req, maxFeatures), model.CommandResult{
			Command:  "planner schema setup",
			ExitCode: 1,
			Stderr:   err.Error(),
			Phase:    model.PhasePlan,
		}, true
	}
	defer os.Remove(outputPath)
	defer os.Remove(schemaPath)

	result := p.invoke(ctx, req, outputPath, schemaPath, maxFeatures)
	plannerOutput := ""
	if raw, readErr := os.ReadFile(outputPath); readErr == nil {
		plannerOutput = string(raw)
	}
	if plannerOutput == "" {
		plannerOutput = result.Stdout
	}

	if result.ExitCode != 0 {
		log.Printf("[Planner] CLI failed (exit %d), using fallback plan", result.ExitCode)
		return p.fallbackPlan(req, maxFeatures), result, true
	}

	features := p.parseFeatures(req, plannerOutput, maxFeatures)
	if len(features) == 0 || (len(features) == 1 && maxFeatures > 1) {
		log.Printf("[Planner] Degenerate plan (%d features), using fallback plan", len(features))
		return p.fallbackPlan(req, maxFeatures), result, true
	}
	return features, result, false
}

func (p *Planner) invoke(ctx context.Context, req Request, outputPath, schemaPath string, maxFeatures int) model.CommandResult {
	prompt := buildPrompt(req, maxFeatures)
	args := []string{
		"exec",
		"-m", p.model,
		"-c", fmt.Sprintf("model_reasoning_effort=%q", p.reasoningEffort),
		"-C", req.WorkDir,
		"-s", p.sandboxMode,
		"-o", outputPath,
		"--output-schema", schemaPath,
		"--full-auto",
	}
	if p.disableShellTool {
		args = append(args, "--disable", "shell_tool")
	}
	args = append(args, prompt)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := execCommandContext(ctx, p.cliPath, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	duration := time.Since(started)

	result := model.CommandResult{
		Command:         fmt.Sprintf("%s exec (planning %s)", p.cliPath, req.TaskID),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		DurationSeconds: duration.Seconds(),
		Phase:           model.PhasePlan,
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.ExitCode = 124
			result.Stderr = strings.TrimSpace(result.Stderr + "; timed out")
		} else {
			result.ExitCode = 1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}
	return result
}

func (p *Planner) writeSchemaFiles(workDir string, maxFeatures int) (outputPath, schemaPath string, err error) {
	stateDir := filepath.Join(workDir, storage.StateDir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create state dir: %w", err)
	}
	outputFile, err := os.CreateTemp(stateDir, "planner-output-*.txt")
	if err != nil {
		return "", "", fmt.Errorf("create planner output file: %w", err)
	}
	outputFile.Close()

	schemaFile, err := os.CreateTemp(stateDir, "planner-schema-*.json")
	if err != nil {
		os.Remove(outputFile.Name())
		return "", "", fmt.Errorf("create planner schema file: %w", err)
	}
	defer schemaFile.Close()
	if _, err := schemaFile.Write(featureSchema(maxFeatures)); err != nil {
		os.Remove(outputFile.Name())
		os.Remove(schemaFile.Name())
		return "", "", fmt.Errorf("write planner schema: %w", err)
	}
	return outputFile.Name(), schemaFile.Name(), nil
}

func featureSchema(maxFeatures int) []byte {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"features": map[string]any{
				"type":     "array",
				"maxItems": maxFeatures,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description":   map[string]any{"type": "string"},
						"priority":      map[string]any{"type": "integer"},
						"category":      map[string]any{"type": "string"},
						"parallel_safe": map[string]any{"type": "boolean"},
						"implementation_commands": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"verification_command": map[string]any{
							"anyOf": []any{
								map[string]any{"type": "string"},
								map[string]any{"type": "null"},
							},
						},
					},
					"required": []string{
						"description", "priority", "category", "parallel_safe",
						"implementation_commands", "verification_command",
					},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"features"},
		"additionalProperties": false,
	}
	blob, _ := json.Marshal(schema)
	return blob
}

func buildPrompt(req Request, maxFeatures int) string {
	lines := []string{
		"You are a backlog decomposition engine.",
		"The full task text is provided inline below between TASK_DESCRIPTION_START and TASK_DESCRIPTION_END.",
		"Never claim the task is missing. Never ask for clarification.",
		"Infer pragmatic defaults from the provided task text and continue.",
		"Do not inspect workspace files. Do not call tools.",
		"Return valid JSON only. No markdown. No explanation. No role acknowledgement.",
		"",
		"Task ID: " + req.TaskID,
		"TASK_DESCRIPTION_START",
		req.Description,
		"TASK_DESCRIPTION_END",
		"Project Objective: " + orText(req.Objective, "Not provided"),
		fmt.Sprintf("Max Features: %d", maxFeatures),
		"Default Category: " + req.DefaultCategory,
		fmt.Sprintf("Default Parallel Safe: %t", req.ParallelSafeDefault),
		"",
		"Constraints:",
		fmt.Sprintf("- Output between 2 and %d features; prefer exactly %d.", maxFeatures, maxFeatures),
		"- Keep feature descriptions concrete and implementation-ready.",
		"- Prefer small, testable increments.",
		"- Include verification_command whenever possible.",
		"- Do not output coordination-only or acknowledgement-only items.",
	}
	return strings.Join(lines, "\n")
}

func orText(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
