package automation

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"zapcrm/internal/models"
	"zapcrm/internal/whatsapp"

	"gorm.io/datatypes"
)

// maxHops bounds automatic node-to-node moves in one execution so a cyclic
// graph without input steps cannot spin forever.
const maxHops = 50

const defaultMaxRetries = 3

// StartFlow ends any active session of the phone and runs the flow's start
// node.
func (e *Engine) StartFlow(ctx context.Context, in Inbound, flowID string) error {
	graph, err := LoadGraph(e.DB.WithContext(ctx), flowID)
	if err != nil {
		log.Printf("Error loading graph for flow %s: %v", flowID, err)
		return err
	}
	start, ok := graph.start()
	if !ok {
		return fmt.Errorf("no start node found in flow %s", flowID)
	}

	e.terminateByPhone(ctx, in.OrgID, in.Phone)
	session := models.ConversationSession{
		OrganizationID: in.OrgID,
		Phone:          in.Phone,
		FlowID:         flowID,
		CurrentNode:    start.ID,
		Variables:      datatypes.NewJSONType(map[string]string{}),
		Status:         models.SessionActive,
	}
	if err := e.DB.WithContext(ctx).Create(&session).Error; err != nil {
		return err
	}
	log.Printf("Started flow %s for %s", flowID, in.Phone)
	return e.executeNode(ctx, in, &session, start, graph, 0)
}

// ContinueFlow feeds user input to the node the session is waiting on.
func (e *Engine) ContinueFlow(ctx context.Context, in Inbound, session models.ConversationSession) error {
	graph, err := LoadGraph(e.DB.WithContext(ctx), session.FlowID)
	if err != nil {
		return err
	}
	current, ok := graph.node(session.CurrentNode)
	if !ok {
		e.terminate(ctx, &session)
		return fmt.Errorf("node %s not found", session.CurrentNode)
	}

	var last Step
	if n := len(current.Data.Steps); n > 0 {
		last = current.Data.Steps[n-1]
	}

	valid, errorMessage := ValidateInput(in.Text, last)
	retryKey := current.ID + "_retries"
	vars := session.Variables.Data()
	if vars == nil {
		vars = map[string]string{}
	}

	if !valid {
		maxRetries := defaultMaxRetries
		if last.Validation != nil {
			if v, ok := ToInt(last.Validation.MaxRetries); ok {
				maxRetries = v
			}
		}
		retries, _ := strconv.Atoi(vars[retryKey])
		if retries < maxRetries {
			e.sendText(ctx, in, errorMessage)
			vars[retryKey] = strconv.Itoa(retries + 1)
			return e.saveVariables(ctx, &session, vars)
		}
		e.sendText(ctx, in, "Muitas tentativas inválidas. Atendimento encerrado.")
		e.terminate(ctx, &session)
		return nil
	}

	delete(vars, retryKey)
	if last.Variable != "" {
		vars[last.Variable] = strings.TrimSpace(in.Text)
	}
	if err := e.saveVariables(ctx, &session, vars); err != nil {
		return err
	}

	nextID := FindNextNodeID(current, graph.Edges, in.Text)
	if nextID == "" {
		e.terminate(ctx, &session)
		return nil
	}
	next, ok := graph.node(nextID)
	if !ok {
		e.terminate(ctx, &session)
		return fmt.Errorf("next node not found: %s", nextID)
	}
	return e.executeNode(ctx, in, &session, next, graph, 0)
}

// ValidateInput checks input against an input step; other step types accept
// anything. The second value is the message to send back on failure.
func ValidateInput(input string, step Step) (bool, string) {
	input = strings.TrimSpace(input)
	msg := "Resposta inválida. Tente novamente."
	if step.Validation != nil && step.Validation.ErrorMessage != "" {
		msg = step.Validation.ErrorMessage
	}

	switch step.Type {
	case StepEmailInput:
		if !strings.Contains(input, "@") || !strings.Contains(input, ".") {
			if step.Validation == nil || step.Validation.ErrorMessage == "" {
				msg = "Informe um e-mail válido."
			}
			return false, msg
		}
	case StepNumberInput:
		val, err := strconv.ParseFloat(strings.ReplaceAll(input, ",", "."), 64)
		if err != nil {
			if step.Validation == nil || step.Validation.ErrorMessage == "" {
				msg = "Informe um número válido."
			}
			return false, msg
		}
		if v := step.Validation; v != nil {
			if lo, ok := ToFloat(v.Min); ok && val < lo {
				return false, msg
			}
			if hi, ok := ToFloat(v.Max); ok && val > hi {
				return false, msg
			}
		}
	case StepTextInput:
	default:
		return true, ""
	}

	if v := step.Validation; v != nil && v.Regex != "" {
		match, err := regexp.MatchString(v.Regex, input)
		if err == nil && !match {
			return false, msg
		}
	}
	return true, ""
}

// FindNextNodeID picks the outgoing edge. Quick-reply and list options
// connect through handle-{step}-{option}; other edges are defaults.
func FindNextNodeID(current Node, edges []Edge, input string) string {
	branching := false
	for sIdx, step := range current.Data.Steps {
		var opts []Option
		switch step.Type {
		case StepQuickReply:
			opts = step.Buttons
		case StepList:
			opts = step.Options
		default:
			continue
		}
		branching = true
		for oIdx, opt := range opts {
			if !strings.EqualFold(strings.TrimSpace(opt.Label), strings.TrimSpace(input)) {
				continue
			}
			handleID := fmt.Sprintf("handle-%d-%d", sIdx, oIdx)
			for _, edge := range edges {
				if edge.Source == current.ID && edge.SourceHandle == handleID {
					return edge.Target
				}
			}
		}
	}

	for _, edge := range edges {
		if edge.Source != current.ID {
			continue
		}
		if !branching || edge.SourceHandle == "" || strings.HasSuffix(edge.SourceHandle, "default") {
			return edge.Target
		}
	}
	return ""
}

func (e *Engine) executeNode(ctx context.Context, in Inbound, session *models.ConversationSession, node Node, graph *Graph, hops int) error {
	if hops > maxHops {
		e.terminate(ctx, session)
		return fmt.Errorf("flow %s exceeded %d steps", session.FlowID, maxHops)
	}
	if err := e.DB.WithContext(ctx).Model(session).Update("current_node", node.ID).Error; err != nil {
		return err
	}

	for _, step := range node.Data.Steps {
		switch step.Type {
		case StepText:
			e.sendText(ctx, in, e.replaceVariables(in, session, step.Content))

		case StepQuickReply:
			var buttons []whatsapp.Button
			for i, btn := range step.Buttons {
				if i >= 3 {
					break // WhatsApp limit
				}
				buttons = append(buttons, whatsapp.Button{Type: "reply", DisplayText: btn.Label, ID: fmt.Sprintf("btn_%d", i)})
			}
			if _, err := e.Sender.SendButtons(ctx, in.Instance, in.Phone, "", e.replaceVariables(in, session, step.Content), buttons); err != nil {
				log.Printf("Error sending buttons to %s: %v", in.Phone, err)
			}

		case StepList:
			buttonText := step.ButtonText
			if buttonText == "" {
				buttonText = "Escolha uma opção"
			}
			var rows []whatsapp.ListRow
			for i, opt := range step.Options {
				if i >= 10 {
					break // WhatsApp limit
				}
				rows = append(rows, whatsapp.ListRow{Title: opt.Label, Description: opt.Description, RowID: fmt.Sprintf("opt_%d", i)})
			}
			if len(rows) > 0 {
				sections := []whatsapp.ListSection{{Title: node.Data.Label, Rows: rows}}
				if _, err := e.Sender.SendList(ctx, in.Instance, in.Phone, "", e.replaceVariables(in, session, step.Content), buttonText, sections); err != nil {
					log.Printf("Error sending list to %s: %v", in.Phone, err)
				}
			}

		case StepJump:
			return e.jump(ctx, in, session, step, hops)
		}
	}

	if n := len(node.Data.Steps); n > 0 && node.Data.Steps[n-1].waits() {
		return nil
	}

	nextID := FindNextNodeID(node, graph.Edges, "")
	if nextID == "" {
		e.terminate(ctx, session)
		return nil
	}
	next, ok := graph.node(nextID)
	if !ok {
		e.terminate(ctx, session)
		return fmt.Errorf("next node not found: %s", nextID)
	}
	return e.executeNode(ctx, in, session, next, graph, hops+1)
}

// jump moves the session into another flow, at TargetNodeID or its start.
func (e *Engine) jump(ctx context.Context, in Inbound, session *models.ConversationSession, step Step, hops int) error {
	target, err := LoadGraph(e.DB.WithContext(ctx), step.TargetFlowID)
	if err != nil {
		return err
	}
	var node Node
	var ok bool
	if step.TargetNodeID != "" {
		node, ok = target.node(step.TargetNodeID)
	} else {
		node, ok = target.start()
	}
	if !ok {
		e.terminate(ctx, session)
		return fmt.Errorf("jump target not found in flow %s", step.TargetFlowID)
	}
	if err := e.DB.WithContext(ctx).Model(session).Update("flow_id", step.TargetFlowID).Error; err != nil {
		return err
	}
	return e.executeNode(ctx, in, session, node, target, hops+1)
}

func (e *Engine) sendText(ctx context.Context, in Inbound, text string) {
	if _, err := e.Sender.SendText(ctx, in.Instance, in.Phone, text); err != nil {
		log.Printf("Error sending flow message to %s: %v", in.Phone, err)
	}
}

func (e *Engine) saveVariables(ctx context.Context, session *models.ConversationSession, vars map[string]string) error {
	session.Variables = datatypes.NewJSONType(vars)
	return e.DB.WithContext(ctx).Model(session).Update("variables", session.Variables).Error
}

func (e *Engine) terminate(ctx context.Context, session *models.ConversationSession) {
	e.DB.WithContext(ctx).Model(session).Update("status", models.SessionCompleted)
}

func (e *Engine) terminateByPhone(ctx context.Context, orgID, phone string) {
	e.DB.WithContext(ctx).Model(&models.ConversationSession{}).
		Where("organization_id = ? AND phone = ? AND status = ?", orgID, phone, models.SessionActive).
		Update("status", models.SessionCompleted)
}

func (e *Engine) replaceVariables(in Inbound, session *models.ConversationSession, text string) string {
	text = strings.ReplaceAll(text, "{{contact.name}}", in.Name)
	text = strings.ReplaceAll(text, "{{contact.phone}}", in.Phone)
	for k, v := range session.Variables.Data() {
		text = strings.ReplaceAll(text, "{{vars."+k+"}}", v)
	}
	return text
}

// Helpers for editor values that arrive as strings or numbers

func ToInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case float64:
		return int(val), true
	case string:
		if res, err := strconv.Atoi(val); err == nil {
			return res, true
		}
	}
	return 0, false
}

func ToFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		if res, err := strconv.ParseFloat(val, 64); err == nil {
			return res, true
		}
	}
	return 0, false
}
