// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	gerrors "github.com/phasegate/phasegate/pkg/errors"
	"github.com/phasegate/phasegate/pkg/gate"
	"github.com/phasegate/phasegate/pkg/phase"
)

// GateService exposes one enforcer as the MCP tool surface.
type GateService struct {
	Enforcer *gate.Enforcer
}

// RegisterGateTools installs the phasegate tool surface on an MCP server.
func RegisterGateTools(s *Server, svc GateService) {
	s.RegisterTool("start_cycle",
		"Open (or resume) the phase cycle for a task. New cycles begin at STRATEGIZE.",
		svc.handleStartCycle)
	s.RegisterTool("current_phase",
		"Report the task's current phase.",
		svc.handleCurrentPhase)
	s.RegisterTool("advance_phase",
		"Request a phase transition. Omitting target means the next phase in order; skips need override=true.",
		svc.handleAdvancePhase)
	s.RegisterTool("record_evidence",
		"Record proof-of-work for a phase: an artifact reference, a real tool call, or executed tests.",
		svc.handleRecordEvidence)
	s.RegisterTool("cycle_history",
		"List the committed transitions of a task's cycle.",
		svc.handleCycleHistory)
	s.RegisterTool("close_cycle",
		"Close the cycle. Only legal from MONITOR.",
		svc.handleCloseCycle)
	s.RegisterTool("refresh_baseline",
		"Operator action: accept the current instructions as the new drift baseline for a task.",
		svc.handleRefreshBaseline)
}

func (svc GateService) handleStartCycle(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	taskID, err := stringArg(args, "task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := svc.Enforcer.StartCycle(ctx, taskID)
	if err != nil {
		return gateErrorResult(err), nil
	}
	return jsonResult(map[string]any{"task_id": taskID, "phase": string(p)})
}

func (svc GateService) handleCurrentPhase(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	taskID, err := stringArg(args, "task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, ok := svc.Enforcer.CurrentPhase(taskID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no cycle for task %q", taskID)), nil
	}
	return jsonResult(map[string]any{"task_id": taskID, "phase": string(p)})
}

func (svc GateService) handleAdvancePhase(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	taskID, err := stringArg(args, "task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req := gate.AdvanceRequest{Override: boolArg(args, "override")}
	if raw, ok := args["target"].(string); ok && raw != "" {
		p, err := phase.Parse(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		req.Target = p
	}
	if dir, ok := args["work_dir"].(string); ok {
		req.Context.WorkDir = dir
	}

	result, err := svc.Enforcer.AdvancePhase(ctx, taskID, req)
	if err != nil {
		return gateErrorResult(err), nil
	}
	return jsonResult(map[string]any{
		"accepted": result.Accepted,
		"phase":    string(result.Phase),
		"intent":   string(result.Intent),
		"reasons":  result.Reasons,
	})
}

func (svc GateService) handleRecordEvidence(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	taskID, err := stringArg(args, "task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawPhase, err := stringArg(args, "phase")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := phase.Parse(rawPhase)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := stringArg(args, "kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch kind {
	case "artifact":
		ref, err := stringArg(args, "ref")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		err = svc.Enforcer.RecordArtifact(taskID, p, ref)
		if err != nil {
			return gateErrorResult(err), nil
		}
	case "tool_call":
		description, _ := args["description"].(string)
		if err := svc.Enforcer.RecordToolCall(taskID, p, description); err != nil {
			return gateErrorResult(err), nil
		}
	case "test_run":
		count := intArg(args, "count")
		if count < 1 {
			return mcp.NewToolResultError("count must be at least 1"), nil
		}
		if err := svc.Enforcer.RecordTestRun(taskID, p, count); err != nil {
			return gateErrorResult(err), nil
		}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown evidence kind %q", kind)), nil
	}
	return jsonResult(map[string]any{"recorded": true, "phase": string(p), "kind": kind})
}

func (svc GateService) handleCycleHistory(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	taskID, err := stringArg(args, "task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	history, err := svc.Enforcer.History(taskID)
	if err != nil {
		return gateErrorResult(err), nil
	}
	entries := make([]map[string]any, 0, len(history))
	for _, rec := range history {
		entries = append(entries, map[string]any{
			"timestamp": rec.Timestamp,
			"from":      string(rec.From),
			"to":        string(rec.To),
			"outcome":   string(rec.Outcome),
			"reasons":   rec.Reasons,
		})
	}
	return jsonResult(map[string]any{"task_id": taskID, "history": entries})
}

func (svc GateService) handleCloseCycle(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	taskID, err := stringArg(args, "task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := svc.Enforcer.Close(ctx, taskID); err != nil {
		return gateErrorResult(err), nil
	}
	return jsonResult(map[string]any{"task_id": taskID, "closed": true})
}

func (svc GateService) handleRefreshBaseline(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	taskID, err := stringArg(args, "task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hash, err := svc.Enforcer.RefreshBaseline(ctx, taskID)
	if err != nil {
		return gateErrorResult(err), nil
	}
	return jsonResult(map[string]any{"task_id": taskID, "baseline_hash": hash})
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}

func boolArg(args map[string]interface{}, key string) bool {
	value, _ := args[key].(bool)
	return value
}

// intArg reads a numeric argument. JSON numbers decode as float64.
func intArg(args map[string]interface{}, key string) int {
	switch value := args[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return 0
	}
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// gateErrorResult maps an enforcer error onto a tool error without losing
// the error code the caller may branch on.
func gateErrorResult(err error) *mcp.CallToolResult {
	if ge := gerrors.AsGateError(err); ge != nil {
		return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", ge.Code, ge.Message))
	}
	return mcp.NewToolResultError(err.Error())
}
