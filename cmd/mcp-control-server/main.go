package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/autoloop/internal/backend"
	"github.com/cexll/autoloop/internal/browser"
	"github.com/cexll/autoloop/internal/engine"
)

func main() {
	root := os.Getenv("AUTOLOOP_WORKSPACE")
	if root == "" {
		root = "."
	}

	log.Println("[MCP Control Server] Starting Autoloop MCP Server v1.0.0")
	log.Printf("[MCP Control Server] Workspace: %s", root)

	eng, err := engine.New(root, backend.ShellRunner{}, browser.New())
	if err != nil {
		log.Fatalf("[MCP Control Server] Failed to initialize engine: %v", err)
	}
	handlers := &Handlers{engine: eng}

	// Create MCP server
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "autoloop-control-server",
		Version: "v1.0.0",
	}, nil)

	// Register control tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_status",
		Description: "Read the current run state: objective, iteration, pass counts, recent blockers",
	}, handlers.HandleGetStatus)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_feature",
		Description: "Append one feature to the backlog; duplicate ids are auto-resolved when the policy allows it",
	}, handlers.HandleAddFeature)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "plan_task",
		Description: "Decompose a task description into backlog features",
	}, handlers.HandlePlanTask)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_iteration",
		Description: "Run one single-feature iteration (gate, select, implement, verify, record)",
	}, handlers.HandleRunIteration)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_project_loop",
		Description: "Run epochs until the stop evaluator halts the project",
	}, handlers.HandleRunProjectLoop)
	log.Println("[MCP Control Server] Registered tools: get_status, add_feature, plan_task, run_iteration, run_project_loop")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[MCP Control Server] Received shutdown signal")
		cancel()
	}()

	// Start server with stdio transport
	log.Println("[MCP Control Server] Starting on stdio transport...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("[MCP Control Server] Server error: %v", err)
	}
	log.Println("[MCP Control Server] Server stopped gracefully")
}
