package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/automaker/pkg/models"
)

// FeatureService is the slice of orchestrator behavior the bridge needs. The
// bridge never touches feature files directly.
type FeatureService interface {
	Feature(projectPath, id string) (*models.Feature, error)
	SetStatus(projectPath, id string, status models.Status, summary *string) (*models.Feature, error)
	UpdatePlan(projectPath, id string, plan *models.PlanSpec) (*models.Feature, error)
	AttachFile(projectPath, id, path string) error
}

// agentSettableStatuses are the statuses an agent may request directly.
var agentSettableStatuses = map[models.Status]bool{
	models.StatusBacklog:    true,
	models.StatusInProgress: true,
	models.StatusVerified:   true,
}

// callTool dispatches one authorized tool invocation and returns the
// acknowledgement text for the agent.
func (s *Server) callTool(name string, grant *RunGrant, args map[string]any) (string, error) {
	switch name {
	case "update_feature_status":
		return s.updateFeatureStatus(grant, args)
	case "update_plan":
		if !grant.AllowPlanTools {
			return "", fmt.Errorf("tool update_plan is not enabled for this run")
		}
		return s.updatePlan(grant, args)
	case "attach_file":
		if !grant.AllowFileTools {
			return "", fmt.Errorf("tool attach_file is not enabled for this run")
		}
		return s.attachFile(grant, args)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

// updateFeatureStatus validates the requested status and delegates to the
// feature service. When the feature skips tests, a request for verified is
// coerced to waiting_approval so a human reviews the change.
func (s *Server) updateFeatureStatus(grant *RunGrant, args map[string]any) (string, error) {
	featureID := stringArg(args, "featureId")
	if featureID == "" {
		featureID = grant.FeatureID
	}
	if featureID != grant.FeatureID {
		return "", fmt.Errorf("run token is not valid for feature %s", featureID)
	}

	status := models.Status(stringArg(args, "status"))
	if !agentSettableStatuses[status] {
		return "", fmt.Errorf("invalid status %q: must be one of backlog, in_progress, verified", status)
	}

	var summary *string
	if v := stringArg(args, "summary"); v != "" {
		summary = &v
	}

	feature, err := s.service.Feature(grant.ProjectPath, featureID)
	if err != nil {
		return "", fmt.Errorf("look up feature %s: %w", featureID, err)
	}

	coerced := false
	if feature.SkipTests && status == models.StatusVerified {
		status = models.StatusWaitingApproval
		coerced = true
	}

	if _, err := s.service.SetStatus(grant.ProjectPath, featureID, status, summary); err != nil {
		return "", fmt.Errorf("set status: %w", err)
	}

	if coerced {
		return fmt.Sprintf("Feature %s skips automated tests, so verified was recorded as waiting_approval pending manual review.", featureID), nil
	}
	return fmt.Sprintf("Feature %s status updated to %s.", featureID, status), nil
}

func (s *Server) updatePlan(grant *RunGrant, args map[string]any) (string, error) {
	raw, ok := args["plan"]
	if !ok {
		return "", fmt.Errorf("missing plan argument")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	var plan models.PlanSpec
	if err := json.Unmarshal(data, &plan); err != nil {
		return "", fmt.Errorf("parse plan: %w", err)
	}
	if _, err := s.service.UpdatePlan(grant.ProjectPath, grant.FeatureID, &plan); err != nil {
		return "", fmt.Errorf("update plan: %w", err)
	}
	return fmt.Sprintf("Plan for feature %s updated with %d tasks.", grant.FeatureID, len(plan.Tasks)), nil
}

func (s *Server) attachFile(grant *RunGrant, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	if path == "" {
		return "", fmt.Errorf("missing path argument")
	}
	if err := s.service.AttachFile(grant.ProjectPath, grant.FeatureID, path); err != nil {
		return "", fmt.Errorf("attach file: %w", err)
	}
	return fmt.Sprintf("Attached %s to feature %s.", path, grant.FeatureID), nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// toolDescriptors lists every tool with its input schema. Opt-in tools are
// listed unconditionally; authorization happens at call time per run grant.
func toolDescriptors() []map[string]any {
	runToken := map[string]any{
		"type":        "string",
		"description": "The run token issued when this agent was started.",
	}
	return []map[string]any{
		{
			"name":        "update_feature_status",
			"description": "Update the status of the feature this run is working on.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"run_token": runToken,
					"featureId": map[string]any{"type": "string"},
					"status": map[string]any{
						"type": "string",
						"enum": []string{"backlog", "in_progress", "verified"},
					},
					"summary": map[string]any{"type": "string"},
				},
				"required": []string{"run_token", "status"},
			},
		},
		{
			"name":        "update_plan",
			"description": "Replace the feature's plan with an updated task list.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"run_token": runToken,
					"plan":      map[string]any{"type": "object"},
				},
				"required": []string{"run_token", "plan"},
			},
		},
		{
			"name":        "attach_file",
			"description": "Attach a file from the working directory to the feature record.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"run_token": runToken,
					"path":      map[string]any{"type": "string"},
				},
				"required": []string{"run_token", "path"},
			},
		},
	}
}
