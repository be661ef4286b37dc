package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"zapcrm/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Step types understood by the flow executor.
const (
	StepText        = "text"
	StepQuickReply  = "quick_reply"
	StepList        = "list"
	StepTextInput   = "text_input"
	StepNumberInput = "number_input"
	StepEmailInput  = "email_input"
	StepJump        = "jump"
)

// Node is one box of the flow editor.
type Node struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Position map[string]float64 `json:"position"`
	Data     NodeData           `json:"data"`
}

type NodeData struct {
	Label   string `json:"label"`
	Steps   []Step `json:"steps"`
	IsStart bool   `json:"isStart"`
}

// Validation holds the rules of an input step
type Validation struct {
	MaxRetries   interface{} `json:"maxRetries"` // string or number from the editor
	ErrorMessage string      `json:"errorMessage"`
	Regex        string      `json:"regex"`
	Min          interface{} `json:"min"`
	Max          interface{} `json:"max"`
}

type Step struct {
	Type         string      `json:"type"`
	Content      string      `json:"content"`
	Variable     string      `json:"variable,omitempty"`
	Buttons      []Option    `json:"buttons,omitempty"`
	Options      []Option    `json:"options,omitempty"`
	ButtonText   string      `json:"buttonText,omitempty"`
	Validation   *Validation `json:"validation,omitempty"`
	TargetFlowID string      `json:"targetFlowId,omitempty"`
	TargetNodeID string      `json:"targetNodeId,omitempty"`
}

func (s Step) isInput() bool {
	return s.Type == StepTextInput || s.Type == StepNumberInput || s.Type == StepEmailInput
}

func (s Step) waits() bool {
	return s.isInput() || s.Type == StepQuickReply || s.Type == StepList
}

type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Validate checks node ids are unique and non-empty, exactly one node is the
// start and every edge joins known nodes. An empty graph is valid.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return nil
	}
	ids := make(map[string]bool, len(g.Nodes))
	starts := 0
	for _, n := range g.Nodes {
		if n.ID == "" || ids[n.ID] {
			return errors.New("node ids must be unique and non-empty")
		}
		ids[n.ID] = true
		if n.Data.IsStart {
			starts++
		}
	}
	if starts != 1 {
		return errors.New("a flow needs exactly one start node")
	}
	for _, e := range g.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			return fmt.Errorf("edge %s references an unknown node", e.ID)
		}
	}
	return nil
}

func (g *Graph) node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

func (g *Graph) start() (Node, bool) {
	for _, n := range g.Nodes {
		if n.Data.IsStart {
			return n, true
		}
	}
	return Node{}, false
}

// LoadGraph rebuilds a flow graph from its node and edge rows.
func LoadGraph(db *gorm.DB, flowID string) (*Graph, error) {
	var nodes []models.FlowNode
	var edges []models.FlowEdge

	if err := db.Where("flow_id = ?", flowID).Find(&nodes).Error; err != nil {
		return nil, err
	}
	if err := db.Where("flow_id = ?", flowID).Find(&edges).Error; err != nil {
		return nil, err
	}

	graph := &Graph{
		Nodes: make([]Node, len(nodes)),
		Edges: make([]Edge, len(edges)),
	}
	for i, n := range nodes {
		var data NodeData
		if len(n.Data) > 0 {
			if err := json.Unmarshal(n.Data, &data); err != nil {
				log.Printf("Error unmarshaling node %s data: %v", n.NodeID, err)
			}
		}
		graph.Nodes[i] = Node{
			ID:       n.NodeID,
			Type:     n.Type,
			Position: map[string]float64{"x": n.PositionX, "y": n.PositionY},
			Data:     data,
		}
	}
	for i, e := range edges {
		graph.Edges[i] = Edge{ID: e.EdgeID, Source: e.Source, Target: e.Target, SourceHandle: e.SourceHandle}
	}
	return graph, nil
}

// SaveGraph replaces the stored nodes and edges of flowID. Must run inside
// a transaction.
func SaveGraph(tx *gorm.DB, flowID string, g Graph) error {
	if err := tx.Where("flow_id = ?", flowID).Delete(&models.FlowNode{}).Error; err != nil {
		return err
	}
	if err := tx.Where("flow_id = ?", flowID).Delete(&models.FlowEdge{}).Error; err != nil {
		return err
	}
	for _, n := range g.Nodes {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		row := models.FlowNode{
			FlowID:    flowID,
			NodeID:    n.ID,
			Type:      n.Type,
			PositionX: n.Position["x"],
			PositionY: n.Position["y"],
			Data:      datatypes.JSON(data),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	for _, e := range g.Edges {
		row := models.FlowEdge{FlowID: flowID, EdgeID: e.ID, Source: e.Source, Target: e.Target, SourceHandle: e.SourceHandle}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
