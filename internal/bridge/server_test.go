package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/automaker/pkg/models"
)

type fakeService struct {
	features map[string]*models.Feature
	statuses []models.Status
	plans    []*models.PlanSpec
	attached []string
}

func newFakeService(features ...*models.Feature) *fakeService {
	s := &fakeService{features: make(map[string]*models.Feature)}
	for _, f := range features {
		s.features[f.ID] = f
	}
	return s
}

func (s *fakeService) Feature(projectPath, id string) (*models.Feature, error) {
	f, ok := s.features[id]
	if !ok {
		return nil, fmt.Errorf("feature %s not found", id)
	}
	return f, nil
}

func (s *fakeService) SetStatus(projectPath, id string, status models.Status, summary *string) (*models.Feature, error) {
	f, err := s.Feature(projectPath, id)
	if err != nil {
		return nil, err
	}
	f.Status = status
	if summary != nil {
		f.Summary = *summary
	}
	s.statuses = append(s.statuses, status)
	return f, nil
}

func (s *fakeService) UpdatePlan(projectPath, id string, plan *models.PlanSpec) (*models.Feature, error) {
	f, err := s.Feature(projectPath, id)
	if err != nil {
		return nil, err
	}
	f.PlanSpec = plan
	s.plans = append(s.plans, plan)
	return f, nil
}

func (s *fakeService) AttachFile(projectPath, id, path string) error {
	s.attached = append(s.attached, path)
	return nil
}

// client is a minimal line-delimited JSON-RPC client for tests.
type client struct {
	conn   net.Conn
	reader *bufio.Reader
	nextID int
}

func dialBridge(t *testing.T, s *Server) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) call(t *testing.T, method string, params any) *jsonrpcResponse {
	t.Helper()
	c.nextID++
	req := map[string]any{"jsonrpc": "2.0", "id": c.nextID, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("parse response %q: %v", line, err)
	}
	return &resp
}

func (c *client) callTool(t *testing.T, name string, args map[string]any) (text string, isError bool) {
	t.Helper()
	resp := c.call(t, "tools/call", map[string]any{"name": name, "arguments": args})
	if resp.Error != nil {
		t.Fatalf("tools/call returned rpc error: %+v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("parse tool result: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	return result.Content[0].Text, result.IsError
}

func startBridge(t *testing.T, service FeatureService) *Server {
	t.Helper()
	s := NewServer(service)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestInitializeAndToolsList(t *testing.T) {
	s := startBridge(t, newFakeService())
	c := dialBridge(t, s)

	resp := c.call(t, "initialize", map[string]any{})
	if resp.Error != nil {
		t.Fatalf("initialize error: %+v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	if !strings.Contains(string(data), protocolVersion) || !strings.Contains(string(data), "automaker") {
		t.Errorf("initialize result = %s", data)
	}

	resp = c.call(t, "tools/list", nil)
	data, _ = json.Marshal(resp.Result)
	for _, tool := range []string{"update_feature_status", "update_plan", "attach_file"} {
		if !strings.Contains(string(data), tool) {
			t.Errorf("tools/list missing %s", tool)
		}
	}

	resp = c.call(t, "bogus/method", nil)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("unknown method response = %+v", resp)
	}
}

func TestUpdateFeatureStatus(t *testing.T) {
	feature := &models.Feature{ID: "1755000000000-deadbeef", Status: models.StatusInProgress}
	service := newFakeService(feature)
	s := startBridge(t, service)
	grant := s.RegisterRun(RunGrant{ProjectPath: "/p", FeatureID: feature.ID})
	c := dialBridge(t, s)

	text, isError := c.callTool(t, "update_feature_status", map[string]any{
		"run_token": grant.Token,
		"status":    "verified",
		"summary":   "implemented and tested",
	})
	if isError {
		t.Fatalf("tool error: %s", text)
	}
	if feature.Status != models.StatusVerified || feature.Summary != "implemented and tested" {
		t.Errorf("feature = %+v", feature)
	}
	if !strings.Contains(text, "verified") {
		t.Errorf("ack = %q", text)
	}
}

func TestSkipTestsCoercion(t *testing.T) {
	feature := &models.Feature{ID: "1755000000000-deadbeef", Status: models.StatusInProgress, SkipTests: true}
	service := newFakeService(feature)
	s := startBridge(t, service)
	grant := s.RegisterRun(RunGrant{ProjectPath: "/p", FeatureID: feature.ID})
	c := dialBridge(t, s)

	text, isError := c.callTool(t, "update_feature_status", map[string]any{
		"run_token": grant.Token,
		"status":    "verified",
	})
	if isError {
		t.Fatalf("tool error: %s", text)
	}
	if feature.Status != models.StatusWaitingApproval {
		t.Errorf("status = %q, want waiting_approval", feature.Status)
	}
	if !strings.Contains(text, "waiting_approval") {
		t.Errorf("acknowledgement does not mention the coercion: %q", text)
	}
}

func TestInvalidStatusRejected(t *testing.T) {
	feature := &models.Feature{ID: "1755000000000-deadbeef"}
	s := startBridge(t, newFakeService(feature))
	grant := s.RegisterRun(RunGrant{ProjectPath: "/p", FeatureID: feature.ID})
	c := dialBridge(t, s)

	for _, status := range []string{"waiting_approval", "archived", "nonsense"} {
		text, isError := c.callTool(t, "update_feature_status", map[string]any{
			"run_token": grant.Token,
			"status":    status,
		})
		if !isError {
			t.Errorf("status %q accepted: %s", status, text)
		}
	}
}

func TestRunTokenAuthorization(t *testing.T) {
	feature := &models.Feature{ID: "1755000000000-deadbeef"}
	s := startBridge(t, newFakeService(feature))
	c := dialBridge(t, s)

	text, isError := c.callTool(t, "update_feature_status", map[string]any{
		"run_token": "forged",
		"status":    "verified",
	})
	if !isError || !strings.Contains(text, "unauthorized") {
		t.Errorf("forged token result = %q isError=%v", text, isError)
	}

	grant := s.RegisterRun(RunGrant{ProjectPath: "/p", FeatureID: feature.ID})
	s.ReleaseRun(grant.Token)
	_, isError = c.callTool(t, "update_feature_status", map[string]any{
		"run_token": grant.Token,
		"status":    "verified",
	})
	if !isError {
		t.Error("released token still accepted")
	}

	// A token for one feature cannot touch another.
	other := s.RegisterRun(RunGrant{ProjectPath: "/p", FeatureID: "9999999999999-ffffffff"})
	text, isError = c.callTool(t, "update_feature_status", map[string]any{
		"run_token": other.Token,
		"featureId": feature.ID,
		"status":    "verified",
	})
	if !isError {
		t.Errorf("cross-feature call accepted: %s", text)
	}
}

func TestOptInTools(t *testing.T) {
	feature := &models.Feature{ID: "1755000000000-deadbeef"}
	service := newFakeService(feature)
	s := startBridge(t, service)
	c := dialBridge(t, s)

	// Without opt-in the tools are refused.
	plain := s.RegisterRun(RunGrant{ProjectPath: "/p", FeatureID: feature.ID})
	if _, isError := c.callTool(t, "update_plan", map[string]any{
		"run_token": plain.Token,
		"plan":      map[string]any{"status": "draft"},
	}); !isError {
		t.Error("update_plan allowed without opt-in")
	}

	full := s.RegisterRun(RunGrant{
		ProjectPath:    "/p",
		FeatureID:      feature.ID,
		AllowPlanTools: true,
		AllowFileTools: true,
	})
	text, isError := c.callTool(t, "update_plan", map[string]any{
		"run_token": full.Token,
		"plan": map[string]any{
			"status": "draft",
			"tasks":  []map[string]any{{"id": "t1", "description": "first"}},
		},
	})
	if isError {
		t.Fatalf("update_plan failed: %s", text)
	}
	if len(service.plans) != 1 || len(service.plans[0].Tasks) != 1 {
		t.Errorf("plans = %+v", service.plans)
	}

	if _, isError := c.callTool(t, "attach_file", map[string]any{
		"run_token": full.Token,
		"path":      "docs/notes.md",
	}); isError {
		t.Error("attach_file failed with opt-in")
	}
	if len(service.attached) != 1 || service.attached[0] != "docs/notes.md" {
		t.Errorf("attached = %v", service.attached)
	}
}
