package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nidhogg/hivemind/internal/agent"
	"github.com/nidhogg/hivemind/internal/engine"
	"github.com/nidhogg/hivemind/internal/graph"
	"github.com/nidhogg/hivemind/internal/memory"
	"github.com/nidhogg/hivemind/internal/registry"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	directory := agent.NewDirectory(logger)
	reg := registry.NewRegistry(directory, logger)
	g := graph.New(logger)
	mem := memory.NewLog(memory.DefaultConfig(), logger)
	eng := engine.New(directory, reg, g, mem, engine.DefaultConfig(), logger)

	h := NewHandler(directory, reg, g, mem, eng, logger)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)

	resp := getJSON(t, srv.URL+"/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestAgentLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/agents", map[string]string{"id": "worker-1", "kind": "worker"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	var created map[string]interface{}
	decodeJSON(t, resp, &created)
	if created["trust_level"] != 0.5 {
		t.Errorf("trust_level = %v, want 0.5", created["trust_level"])
	}

	// Duplicate registration conflicts.
	resp = postJSON(t, srv.URL+"/api/agents", map[string]string{"id": "worker-1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", resp.StatusCode)
	}

	resp = getJSON(t, srv.URL+"/api/agents/worker-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d, want 200", resp.StatusCode)
	}

	resp = getJSON(t, srv.URL+"/api/agents/nobody")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/agents/worker-1", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d, want 200", delResp.StatusCode)
	}
}

func TestSkillRegistrationValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/skills", map[string]interface{}{
		"name":             "code_review",
		"category":         "engineering",
		"trigger_keywords": []string{"review", "pr"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/skills", map[string]string{"name": "code_review"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/skills", map[string]string{"category": "engineering"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", resp.StatusCode)
	}
}

func TestRouteAndOutcomeFlow(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/api/skills", map[string]string{"name": "code_review", "category": "engineering"}).Body.Close()
	postJSON(t, srv.URL+"/api/agents", map[string]string{"id": "worker-1"}).Body.Close()
	resp := postJSON(t, srv.URL+"/api/skills/code_review/agents", map[string]string{"agent_id": "worker-1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("attach status = %d, want 200", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/route", map[string]interface{}{
		"description":     "review the payment changes",
		"required_skills": []string{"code_review"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("route status = %d, want 201", resp.StatusCode)
	}
	var decision struct {
		TaskID        string `json:"task_id"`
		ChosenAgentID string `json:"chosen_agent_id"`
		State         string `json:"state"`
	}
	decodeJSON(t, resp, &decision)
	if decision.ChosenAgentID != "worker-1" {
		t.Errorf("chosen agent = %s, want worker-1", decision.ChosenAgentID)
	}
	if decision.State != "dispatched" {
		t.Errorf("state = %s, want dispatched", decision.State)
	}

	resp = postJSON(t, srv.URL+"/api/tasks/"+decision.TaskID+"/outcome", map[string]interface{}{
		"success":    true,
		"confidence": 0.9,
		"learning":   "payments need idempotency keys",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("outcome status = %d, want 200", resp.StatusCode)
	}

	resp = getJSON(t, srv.URL+"/api/history?agent_id=worker-1&limit=5")
	var history []struct {
		State   string `json:"state"`
		Outcome *struct {
			Success    bool    `json:"success"`
			Confidence float64 `json:"confidence"`
		} `json:"outcome"`
	}
	decodeJSON(t, resp, &history)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].State != "completed" || history[0].Outcome == nil || !history[0].Outcome.Success {
		t.Errorf("history entry = %+v, want completed success", history[0])
	}
}

func TestRouteNoCandidateUnprocessable(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/route", map[string]interface{}{
		"description":     "anything",
		"required_skills": []string{"nonexistent"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestOutcomeUnknownTask(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tasks/nope/outcome", map[string]interface{}{"success": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("outcome status = %d, want 404", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/tasks/nope/cancel", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", resp.StatusCode)
	}
}

func TestConnectorEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/connectors", map[string]string{
		"from": "root", "to": "worker-1", "kind": "parent",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d, want 200", resp.StatusCode)
	}
	var conn struct {
		Strength float64 `json:"strength"`
	}
	decodeJSON(t, resp, &conn)
	if conn.Strength != 0.5 {
		t.Errorf("strength = %v, want neutral 0.5", conn.Strength)
	}

	resp = postJSON(t, srv.URL+"/api/connectors", map[string]string{"from": "root"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing to status = %d, want 400", resp.StatusCode)
	}

	resp = getJSON(t, srv.URL+"/api/connectors")
	var list []struct {
		From string `json:"from_agent_id"`
		To   string `json:"to_agent_id"`
	}
	decodeJSON(t, resp, &list)
	if len(list) != 1 || list[0].From != "root" || list[0].To != "worker-1" {
		t.Errorf("connectors = %+v, want the upserted edge", list)
	}
}

func TestMemorySimilarEndpoint(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/api/skills", map[string]string{"name": "billing_support", "category": "support"}).Body.Close()
	postJSON(t, srv.URL+"/api/agents", map[string]string{"id": "worker-1"}).Body.Close()
	postJSON(t, srv.URL+"/api/skills/billing_support/agents", map[string]string{"agent_id": "worker-1"}).Body.Close()

	var decision struct {
		TaskID string `json:"task_id"`
	}
	resp := postJSON(t, srv.URL+"/api/route", map[string]interface{}{
		"description":     "refund the billing charge",
		"required_skills": []string{"billing_support"},
	})
	decodeJSON(t, resp, &decision)
	postJSON(t, srv.URL+"/api/tasks/"+decision.TaskID+"/outcome", map[string]interface{}{
		"success": true, "confidence": 0.9,
	}).Body.Close()

	resp = postJSON(t, srv.URL+"/api/memory/similar", map[string]interface{}{
		"description": "refund billing issue",
		"category":    "support",
		"top_k":       3,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("similar status = %d, want 200", resp.StatusCode)
	}
	var scored []struct {
		Similarity float64 `json:"similarity"`
	}
	decodeJSON(t, resp, &scored)
	if len(scored) != 1 {
		t.Fatalf("got %d similar entries, want 1", len(scored))
	}
	if scored[0].Similarity <= 0.3 {
		t.Errorf("similarity = %v, want above the default threshold", scored[0].Similarity)
	}
}
