// Package mcpserver exposes the deployment plan and the recorded run history
// to AI assistants through the Model Context Protocol.
//
// The server is read-only. It never acquires the target lock and never talks
// to the cluster: the plan is rebuilt from the descriptors file on every call
// and reports come from the history store.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"
	"stackctl/internal/store"
	"stackctl/pkg/logging"
)

const (
	planResourceURI     = "stackctl://plan"
	defaultHistoryLimit = 10
)

// PlanSource builds the current plan.
type PlanSource func() (*orchestrator.Plan, error)

// Server is the stackctl MCP server.
type Server struct {
	server *server.MCPServer
	plan   PlanSource
	store  store.Store
	target string
}

// New creates a server for target. Tools that take a target argument
// default to it.
func New(version, target string, plan PlanSource, history store.Store) *Server {
	srv := server.NewMCPServer(
		"stackctl",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)

	s := &Server{
		server: srv,
		plan:   plan,
		store:  history,
		target: target,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio serves requests on stdin and stdout until stdin is closed.
func (s *Server) ServeStdio() error {
	logging.Info("MCP", "Serving stackctl tools on stdio for %s", s.target)
	return server.ServeStdio(s.server)
}

// MCPServer returns the underlying server, for transports other than stdio.
func (s *Server) MCPServer() *server.MCPServer {
	return s.server
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("plan",
		mcp.WithDescription("Show the ordered deployment plan built from the descriptors file"),
	), s.handlePlan)

	s.server.AddTool(mcp.NewTool("last_report",
		mcp.WithDescription("Show the report of the most recent run against a target"),
		mcp.WithString("target",
			mcp.Description("Target as context/namespace; defaults to the configured target"),
		),
	), s.handleLastReport)

	s.server.AddTool(mcp.NewTool("run_history",
		mcp.WithDescription("List recent runs against a target, newest first"),
		mcp.WithString("target",
			mcp.Description("Target as context/namespace; defaults to the configured target"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs to return (default: 10)"),
		),
	), s.handleRunHistory)

	s.server.AddTool(mcp.NewTool("targets",
		mcp.WithDescription("List every target with recorded runs"),
	), s.handleTargets)
}

func (s *Server) registerResources() {
	resource := mcp.NewResource(planResourceURI, "Deployment plan",
		mcp.WithResourceDescription("Ordered stages of the current descriptors file"),
		mcp.WithMIMEType("application/json"),
	)
	s.server.AddResource(resource, s.handlePlanResource)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handlePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	plan, err := s.plan()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid plan: %v", err)), nil
	}
	return jsonResult(plan.Summary())
}

func (s *Server) handleLastReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := req.GetString("target", s.target)
	report, err := s.store.Last(target)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("No run recorded for %s", target)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read history: %v", err)), nil
	}
	return jsonResult(report)
}

// runSummary is one line of the run_history tool.
type runSummary struct {
	RunID      string              `json:"runID"`
	Operation  reporting.Operation `json:"operation"`
	State      reporting.RunState  `json:"state"`
	StartedAt  time.Time           `json:"startedAt"`
	Duration   string              `json:"duration"`
	DryRun     bool                `json:"dryRun,omitempty"`
	Error      string              `json:"error,omitempty"`
	Warnings   int                 `json:"warnings,omitempty"`
	StuckCount int                 `json:"stuck,omitempty"`
}

func (s *Server) handleRunHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := req.GetString("target", s.target)
	limit := req.GetInt("limit", defaultHistoryLimit)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}

	reports, err := s.store.History(target, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read history: %v", err)), nil
	}

	runs := make([]runSummary, 0, len(reports))
	for _, r := range reports {
		summary := runSummary{
			RunID:     r.RunID,
			Operation: r.Operation,
			State:     r.State,
			StartedAt: r.StartedAt,
			Duration:  r.Duration().Round(time.Millisecond).String(),
			DryRun:    r.DryRun,
			Error:     r.Error,
			Warnings:  len(r.Warnings),
		}
		if r.Rollback != nil {
			summary.StuckCount = len(r.Rollback.Stuck)
		}
		runs = append(runs, summary)
	}

	return jsonResult(map[string]interface{}{
		"target": target,
		"count":  len(runs),
		"runs":   runs,
	})
}

func (s *Server) handleTargets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	targets, err := s.store.Targets()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read history: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"targets": targets})
}

func (s *Server) handlePlanResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	plan, err := s.plan()
	if err != nil {
		return nil, fmt.Errorf("failed to build plan: %w", err)
	}
	data, err := json.MarshalIndent(plan.Summary(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      planResourceURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
