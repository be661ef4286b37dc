package api

import (
	"net/http"
	"testing"

	"zapcrm/internal/automation"
	"zapcrm/internal/models"
	"zapcrm/internal/testutil"
)

func TestRuleValidation(t *testing.T) {
	db := testutil.DB(t)
	_, admin, _ := testutil.Org(t, db, "Loja")
	h := NewAutomationHandler(db)
	r := testutil.Router(admin)
	r.POST("/rules", h.CreateRule)
	r.POST("/rules/:id/toggle", h.ToggleRule)
	r.GET("/rules", h.GetRules)

	bad := map[string]interface{}{
		"name":       "preço",
		"conditions": []automation.Condition{{Type: "weather", Operator: "equals", Value: "sol"}},
		"actions":    []automation.Action{{Type: "send_message", Params: map[string]interface{}{"message": "oi"}}},
	}
	expect(t, do(t, r, http.MethodPost, "/rules", bad), http.StatusBadRequest)

	good := map[string]interface{}{
		"name":       "preço",
		"priority":   5,
		"enabled":    false,
		"conditions": []automation.Condition{{Type: "keyword", Operator: "contains", Value: "preço"}},
		"actions":    []automation.Action{{Type: "send_message", Params: map[string]interface{}{"message": "oi"}}},
	}
	w := do(t, r, http.MethodPost, "/rules", good)
	expect(t, w, http.StatusCreated)
	var rule models.AutomationRule
	decode(t, w, &rule)

	var stored models.AutomationRule
	db.First(&stored, "id = ?", rule.ID)
	if stored.Enabled || stored.Priority != 5 {
		t.Fatalf("stored = %+v", stored)
	}
	expect(t, do(t, r, http.MethodPost, "/rules/"+rule.ID+"/toggle", map[string]bool{"enabled": true}), http.StatusOK)
	db.First(&stored, "id = ?", rule.ID)
	if !stored.Enabled {
		t.Error("toggle did not enable the rule")
	}
}

func TestFlowGraphRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	_, admin, _ := testutil.Org(t, db, "Loja")
	h := NewAutomationHandler(db)
	r := testutil.Router(admin)
	r.POST("/flows", h.CreateFlow)
	r.GET("/flows/:id", h.GetFlow)
	r.PUT("/flows/:id", h.UpdateFlow)
	r.DELETE("/flows/:id", h.DeleteFlow)

	graph := automation.Graph{
		Nodes: []automation.Node{
			{ID: "start", Data: automation.NodeData{IsStart: true, Steps: []automation.Step{{Type: automation.StepText, Content: "Olá"}}}},
			{ID: "end", Data: automation.NodeData{Steps: []automation.Step{{Type: automation.StepText, Content: "Tchau"}}}},
		},
		Edges: []automation.Edge{{ID: "e1", Source: "start", Target: "end"}},
	}
	twoStarts := automation.Graph{Nodes: []automation.Node{
		{ID: "a", Data: automation.NodeData{IsStart: true}},
		{ID: "b", Data: automation.NodeData{IsStart: true}},
	}}
	expect(t, do(t, r, http.MethodPost, "/flows", map[string]interface{}{"name": "x", "graph": twoStarts}), http.StatusBadRequest)

	w := do(t, r, http.MethodPost, "/flows", map[string]interface{}{
		"name": "Boas-vindas", "trigger_keywords": []string{" oi ", ""}, "graph": graph,
	})
	expect(t, w, http.StatusCreated)
	var flow FlowResponse
	decode(t, w, &flow)
	if len(flow.TriggerKeywords) != 1 || flow.TriggerKeywords[0] != "oi" {
		t.Fatalf("keywords = %v", flow.TriggerKeywords)
	}
	if flow.Graph == nil || len(flow.Graph.Nodes) != 2 || len(flow.Graph.Edges) != 1 {
		t.Fatalf("graph = %+v", flow.Graph)
	}

	graph.Nodes = graph.Nodes[:1]
	graph.Edges = nil
	w = do(t, r, http.MethodPut, "/flows/"+flow.ID, map[string]interface{}{"graph": graph})
	expect(t, w, http.StatusOK)
	decode(t, w, &flow)
	if len(flow.Graph.Nodes) != 1 || flow.Name != "Boas-vindas" {
		t.Fatalf("after update: %+v", flow)
	}

	db.Create(&models.ConversationSession{OrganizationID: flow.OrganizationID, Phone: "5511987654321", FlowID: flow.ID, CurrentNode: "start", Status: models.SessionActive})
	expect(t, do(t, r, http.MethodDelete, "/flows/"+flow.ID, nil), http.StatusOK)
	var nodes, active int64
	db.Model(&models.FlowNode{}).Count(&nodes)
	db.Model(&models.ConversationSession{}).Where("status = ?", models.SessionActive).Count(&active)
	if nodes != 0 || active != 0 {
		t.Errorf("nodes = %d, active sessions = %d", nodes, active)
	}
	expect(t, do(t, r, http.MethodGet, "/flows/"+flow.ID, nil), http.StatusNotFound)
}
