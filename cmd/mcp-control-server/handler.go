package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/autoloop/internal/engine"
	"github.com/cexll/autoloop/internal/model"
)

// Handlers binds the MCP tools to one engine instance.
type Handlers struct {
	engine *engine.Engine
}

// GetStatusParams defines the input parameters for get_status
type GetStatusParams struct{}

// AddFeatureParams defines the input parameters for add_feature
type AddFeatureParams struct {
	ID                     string   `json:"id" jsonschema:"Unique feature id"`
	Category               string   `json:"category" jsonschema:"Feature grouping label"`
	Description            string   `json:"description" jsonschema:"What to build"`
	Priority               int      `json:"priority" jsonschema:"Lower runs earlier"`
	ParallelSafe           bool     `json:"parallel_safe" jsonschema:"Safe to run alongside other features"`
	ImplementationCommands []string `json:"implementation_commands,omitempty" jsonschema:"Shell commands implementing the feature"`
	VerificationCommand    string   `json:"verification_command,omitempty" jsonschema:"Shell command proving the feature works"`
}

// PlanTaskParams defines the input parameters for plan_task
type PlanTaskParams struct {
	Description  string `json:"description" jsonschema:"Task to decompose"`
	Category     string `json:"category,omitempty" jsonschema:"Category applied to planned features"`
	MaxFeatures  int    `json:"max_features,omitempty" jsonschema:"Upper bound on planned features"`
	ParallelSafe bool   `json:"parallel_safe,omitempty" jsonschema:"Default parallel-safe flag for planned features"`
	DryRun       bool   `json:"dry_run,omitempty" jsonschema:"Skip the planning CLI and use the fallback plan"`
}

// RunIterationParams defines the input parameters for run_iteration
type RunIterationParams struct {
	Commit bool `json:"commit,omitempty" jsonschema:"Commit state artifacts after the iteration"`
	DryRun bool `json:"dry_run,omitempty" jsonschema:"Log intended commands without executing them"`
}

// RunProjectLoopParams defines the input parameters for run_project_loop
type RunProjectLoopParams struct {
	Mode        string `json:"mode,omitempty" jsonschema:"single or parallel"`
	MaxEpochs   int    `json:"max_epochs,omitempty" jsonschema:"Epoch ceiling; 0 uses the policy default"`
	Teams       int    `json:"teams,omitempty" jsonschema:"Team count for parallel mode"`
	MaxFeatures int    `json:"max_features,omitempty" jsonschema:"Feature cap per parallel iteration"`
	Commit      bool   `json:"commit,omitempty" jsonschema:"Commit state artifacts after each iteration"`
	DryRun      bool   `json:"dry_run,omitempty" jsonschema:"Log intended commands without executing them"`
}

// HandleGetStatus handles the get_status tool call
func (h *Handlers) HandleGetStatus(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params GetStatusParams,
) (*mcp.CallToolResult, any, error) {
	status, err := h.engine.GetStatus()
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(status)
}

// HandleAddFeature handles the add_feature tool call
func (h *Handlers) HandleAddFeature(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params AddFeatureParams,
) (*mcp.CallToolResult, any, error) {
	if params.ID == "" || params.Description == "" {
		return nil, nil, fmt.Errorf("id and description parameters are required")
	}
	added, err := h.engine.AddFeature(model.Feature{
		ID:                     params.ID,
		Category:               params.Category,
		Description:            params.Description,
		Priority:               params.Priority,
		ParallelSafe:           params.ParallelSafe,
		ImplementationCommands: params.ImplementationCommands,
		VerificationCommand:    params.VerificationCommand,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	log.Printf("[MCP Control Server] Added feature %s", added.ID)
	return jsonResult(added)
}

// HandlePlanTask handles the plan_task tool call
func (h *Handlers) HandlePlanTask(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params PlanTaskParams,
) (*mcp.CallToolResult, any, error) {
	if params.Description == "" {
		return nil, nil, fmt.Errorf("description parameter is required")
	}
	report, err := h.engine.PlanTask(ctx, engine.PlanTaskOptions{
		Description:  params.Description,
		Category:     params.Category,
		MaxFeatures:  params.MaxFeatures,
		ParallelSafe: params.ParallelSafe,
		DryRun:       params.DryRun,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	log.Printf("[MCP Control Server] Planned task %s into %d features", report.TaskID, len(report.Features))
	return jsonResult(report)
}

// HandleRunIteration handles the run_iteration tool call
func (h *Handlers) HandleRunIteration(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params RunIterationParams,
) (*mcp.CallToolResult, any, error) {
	report, err := h.engine.RunIteration(ctx, engine.IterationOptions{
		Commit: params.Commit,
		DryRun: params.DryRun,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	log.Printf("[MCP Control Server] Iteration %d finished: success=%t", report.IterationNumber, report.Success)
	return jsonResult(report)
}

// HandleRunProjectLoop handles the run_project_loop tool call
func (h *Handlers) HandleRunProjectLoop(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params RunProjectLoopParams,
) (*mcp.CallToolResult, any, error) {
	report, err := h.engine.RunProjectLoop(ctx, engine.ProjectLoopOptions{
		Mode:        params.Mode,
		MaxEpochs:   params.MaxEpochs,
		TeamCount:   params.Teams,
		MaxFeatures: params.MaxFeatures,
		Commit:      params.Commit,
		DryRun:      params.DryRun,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	log.Printf("[MCP Control Server] Project loop stopped after %d epochs: %s", report.Epochs, report.StopReason)
	return jsonResult(report)
}

func jsonResult(payload any) (*mcp.CallToolResult, any, error) {
	blob, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(blob)},
		},
	}, nil, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)},
		},
		IsError: true,
	}
}
