package automation

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"regexp"
	"strings"

	"zapcrm/internal/models"
	"zapcrm/internal/whatsapp"

	"gorm.io/gorm"
)

// Sender is the part of the gateway client the engine uses.
type Sender interface {
	SendText(ctx context.Context, instance, number, text string) (*whatsapp.SendResult, error)
	SendButtons(ctx context.Context, instance, number, title, body string, buttons []whatsapp.Button) (*whatsapp.SendResult, error)
	SendList(ctx context.Context, instance, number, title, body, buttonText string, sections []whatsapp.ListSection) (*whatsapp.SendResult, error)
}

type Engine struct {
	DB     *gorm.DB
	Sender Sender
}

func NewEngine(db *gorm.DB, sender Sender) *Engine {
	return &Engine{DB: db, Sender: sender}
}

// Inbound is one text message received on an instance.
type Inbound struct {
	OrgID     string
	Instance  string
	Phone     string
	ContactID string
	Name      string
	Text      string
}

// Condition represents a rule condition
type Condition struct {
	Type     string `json:"type"`     // keyword, contact_tag, message_type
	Operator string `json:"operator"` // equals, contains, starts_with, regex
	Value    string `json:"value"`
}

// Action represents an automation action
type Action struct {
	Type   string                 `json:"type"`   // send_message, add_tag, start_flow
	Params map[string]interface{} `json:"params"` // action-specific parameters
}

// Process routes an inbound message: an active flow session takes it first,
// then flow trigger keywords, then the organization's rules by priority.
// It reports whether anything handled the message.
func (e *Engine) Process(ctx context.Context, in Inbound) (bool, error) {
	var session models.ConversationSession
	err := e.DB.WithContext(ctx).
		Where("organization_id = ? AND phone = ? AND status = ?", in.OrgID, in.Phone, models.SessionActive).
		Order("created_at DESC").
		First(&session).Error
	if err == nil {
		return true, e.ContinueFlow(ctx, in, session)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if flowID, ok := e.matchTrigger(ctx, in); ok {
		return true, e.StartFlow(ctx, in, flowID)
	}

	return e.applyRules(ctx, in)
}

func (e *Engine) matchTrigger(ctx context.Context, in Inbound) (string, bool) {
	var flows []models.ChatbotFlow
	e.DB.WithContext(ctx).
		Where("organization_id = ? AND enabled = ?", in.OrgID, true).
		Find(&flows)
	text := strings.ToLower(strings.TrimSpace(in.Text))
	for _, f := range flows {
		for _, kw := range f.TriggerKeywords {
			if kw != "" && strings.ToLower(strings.TrimSpace(kw)) == text {
				return f.ID, true
			}
		}
	}
	return "", false
}

func (e *Engine) applyRules(ctx context.Context, in Inbound) (bool, error) {
	var rules []models.AutomationRule
	err := e.DB.WithContext(ctx).
		Where("organization_id = ? AND enabled = ?", in.OrgID, true).
		Order("priority DESC").
		Find(&rules).Error
	if err != nil {
		log.Printf("Error fetching automation rules: %v", err)
		return false, err
	}

	for _, rule := range rules {
		if !e.evaluateConditions(ctx, rule.Conditions, in) {
			continue
		}
		log.Printf("Rule '%s' matched for message from %s", rule.Name, in.Phone)
		if err := e.executeActions(ctx, rule.Actions, in); err != nil {
			log.Printf("Error executing actions for rule %s: %v", rule.Name, err)
			e.logAutomation(ctx, rule, in.Phone, "action_failed", false, err.Error())
		} else {
			e.logAutomation(ctx, rule, in.Phone, "action_executed", true, "")
		}
		// first matching rule wins
		return true, nil
	}
	return false, nil
}

// evaluateConditions checks if all conditions are met
func (e *Engine) evaluateConditions(ctx context.Context, raw []byte, in Inbound) bool {
	var conditions []Condition
	if err := json.Unmarshal(raw, &conditions); err != nil {
		log.Printf("Error parsing conditions: %v", err)
		return false
	}
	if len(conditions) == 0 {
		return false
	}
	for _, cond := range conditions {
		if !e.evaluateSingleCondition(ctx, cond, in) {
			return false
		}
	}
	return true
}

func (e *Engine) evaluateSingleCondition(ctx context.Context, cond Condition, in Inbound) bool {
	switch cond.Type {
	case "keyword":
		return MatchKeyword(in.Text, cond.Operator, cond.Value)
	case "message_type":
		return cond.Value == "text"
	case "contact_tag":
		return e.hasContactTag(ctx, in, cond.Value)
	default:
		log.Printf("Unknown condition type: %s", cond.Type)
		return false
	}
}

// MatchKeyword compares message and value case-insensitively.
func MatchKeyword(message, operator, value string) bool {
	message = strings.ToLower(strings.TrimSpace(message))
	value = strings.ToLower(value)

	switch operator {
	case "equals":
		return message == value
	case "contains":
		return strings.Contains(message, value)
	case "starts_with":
		return strings.HasPrefix(message, value)
	case "regex":
		matched, err := regexp.MatchString(value, message)
		if err != nil {
			log.Printf("Regex error: %v", err)
			return false
		}
		return matched
	default:
		return false
	}
}

func (e *Engine) hasContactTag(ctx context.Context, in Inbound, tag string) bool {
	if in.ContactID == "" {
		return false
	}
	var n int64
	e.DB.WithContext(ctx).Model(&models.TagAssignment{}).
		Joins("JOIN tags ON tags.id = tag_assignments.tag_id").
		Where("tag_assignments.organization_id = ? AND tag_assignments.target_type = ? AND tag_assignments.target_id = ? AND LOWER(tags.name) = LOWER(?)",
			in.OrgID, models.TargetContact, in.ContactID, tag).
		Count(&n)
	return n > 0
}

func (e *Engine) executeActions(ctx context.Context, raw []byte, in Inbound) error {
	var actions []Action
	if err := json.Unmarshal(raw, &actions); err != nil {
		return err
	}
	for _, action := range actions {
		if err := e.executeSingleAction(ctx, action, in); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) executeSingleAction(ctx context.Context, action Action, in Inbound) error {
	switch action.Type {
	case "send_message":
		message, ok := action.Params["message"].(string)
		if !ok {
			return nil
		}
		name := in.Name
		if name == "" {
			name = in.Phone
		}
		message = strings.ReplaceAll(message, "{{contact_name}}", name)
		message = strings.ReplaceAll(message, "{{message}}", in.Text)
		_, err := e.Sender.SendText(ctx, in.Instance, in.Phone, message)
		return err

	case "add_tag":
		tag, ok := action.Params["tag"].(string)
		if !ok || in.ContactID == "" {
			return nil
		}
		return AssignTagByName(e.DB.WithContext(ctx), in.OrgID, in.ContactID, tag)

	case "start_flow":
		flowID, ok := action.Params["flow_id"].(string)
		if !ok {
			return nil
		}
		return e.StartFlow(ctx, in, flowID)

	default:
		log.Printf("Unknown action type: %s", action.Type)
	}
	return nil
}

// AssignTagByName tags a contact, creating the tag on first use.
func AssignTagByName(db *gorm.DB, orgID, contactID, name string) error {
	tag := models.Tag{OrganizationID: orgID, Name: name}
	if err := db.Where("organization_id = ? AND name = ?", orgID, name).FirstOrCreate(&tag).Error; err != nil {
		return err
	}
	assignment := models.TagAssignment{
		OrganizationID: orgID,
		TagID:          tag.ID,
		TargetType:     models.TargetContact,
		TargetID:       contactID,
	}
	return db.Where("tag_id = ? AND target_type = ? AND target_id = ?", tag.ID, models.TargetContact, contactID).
		FirstOrCreate(&assignment).Error
}

func (e *Engine) logAutomation(ctx context.Context, rule models.AutomationRule, phone, actionTaken string, success bool, errorMsg string) {
	e.DB.WithContext(ctx).Create(&models.AutomationLog{
		OrganizationID: rule.OrganizationID,
		RuleID:         rule.ID,
		Phone:          phone,
		ActionTaken:    actionTaken,
		Success:        success,
		ErrorMessage:   errorMsg,
	})
}
