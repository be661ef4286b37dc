package models

import (
	"time"

	"zapcrm/internal/fields"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base carries the uuid primary key and timestamps shared by tenant tables.
type Base struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate sets a UUID before creating
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

type Organization struct {
	Base
	Name          string `gorm:"type:varchar(255);not null" json:"name"`
	NextDisplayID int    `gorm:"default:1" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}

// Profile is the application-side record of an authenticated user.
type Profile struct {
	ID                  string                              `gorm:"primaryKey;type:varchar(36)" json:"id"` // auth subject
	OrganizationID      string                              `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	Name                string                              `gorm:"type:varchar(255)" json:"name"`
	Email               string                              `gorm:"type:varchar(255)" json:"email"`
	Role                string                              `gorm:"type:varchar(20);default:'member'" json:"role"`
	PermissionOverrides datatypes.JSONType[map[string]bool] `json:"permission_overrides"`
	CreatedAt           time.Time                           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

// Contact is created on first contact from an unknown number.
type Contact struct {
	Base
	OrganizationID string        `gorm:"type:varchar(36);index;not null;uniqueIndex:idx_contact_org_phone" json:"organization_id"`
	Name           string        `gorm:"type:varchar(255)" json:"name"`
	Phone          string        `gorm:"type:varchar(20);not null;uniqueIndex:idx_contact_org_phone" json:"phone"`
	AvatarURL      string        `gorm:"type:text" json:"avatar_url"`
	DisplayID      int           `gorm:"index" json:"display_id"`
	CustomFields   fields.Values `json:"custom_fields"`
}

func (Contact) TableName() string {
	return "contacts"
}

type Conversation struct {
	Base
	OrganizationID     string     `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	ContactID          string     `gorm:"type:varchar(36);index;not null" json:"contact_id"`
	InstanceID         string     `gorm:"type:varchar(36);index" json:"instance_id"`
	LastMessageAt      *time.Time `gorm:"index" json:"last_message_at"`
	LastMessagePreview string     `gorm:"type:varchar(255)" json:"last_message_preview"`
	UnreadCount        int        `gorm:"default:0" json:"unread_count"`
	Contact            *Contact   `gorm:"foreignKey:ContactID" json:"contact,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Message struct {
	Base
	OrganizationID string `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	ConversationID string `gorm:"type:varchar(36);index;not null" json:"conversation_id"`
	Direction      string `gorm:"type:varchar(10);not null" json:"direction"`
	Body           string `gorm:"type:text" json:"body"`
	Type           string `gorm:"type:varchar(50)" json:"type"`
	ExternalID     string `gorm:"type:varchar(255);index" json:"external_id"`
	Status         string `gorm:"type:varchar(20)" json:"status"`
}

func (Message) TableName() string {
	return "messages"
}

type Tag struct {
	Base
	OrganizationID string `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	UserID         string `gorm:"type:varchar(36);index" json:"user_id"`
	Name           string `gorm:"type:varchar(100);not null" json:"name"`
	Color          string `gorm:"type:varchar(20)" json:"color"`
}

func (Tag) TableName() string {
	return "tags"
}

const (
	TargetContact      = "contact"
	TargetConversation = "conversation"
)

type TagAssignment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID string    `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	TagID          string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_tag_target" json:"tag_id"`
	TargetType     string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_tag_target" json:"target_type"`
	TargetID       string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_tag_target" json:"target_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (TagAssignment) TableName() string {
	return "tag_assignments"
}

type CustomFieldDefinition struct {
	Base
	OrganizationID string                      `gorm:"type:varchar(36);index;not null;uniqueIndex:idx_field_org_key" json:"organization_id"`
	Target         string                      `gorm:"type:varchar(20);default:'deal';uniqueIndex:idx_field_org_key" json:"target"` // deal, lead
	FieldKey       string                      `gorm:"type:varchar(100);not null;uniqueIndex:idx_field_org_key" json:"field_key"`
	Label          string                      `gorm:"type:varchar(255)" json:"label"`
	FieldType      string                      `gorm:"type:varchar(20);not null" json:"field_type"`
	Options        datatypes.JSONSlice[string] `json:"options"`
	Position       int                         `json:"position"`
}

func (CustomFieldDefinition) TableName() string {
	return "custom_field_definitions"
}

func (d CustomFieldDefinition) Definition() fields.Definition {
	return fields.Definition{Key: d.FieldKey, Kind: fields.Kind(d.FieldType), Options: d.Options}
}

const (
	InstanceDisconnected = "disconnected"
	InstanceConnecting   = "connecting"
	InstanceConnected    = "connected"
)

type WhatsAppInstance struct {
	Base
	OrganizationID string `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	InstanceName   string `gorm:"type:varchar(100);not null;uniqueIndex" json:"instance_name"`
	Status         string `gorm:"type:varchar(20);default:'disconnected'" json:"status"`
	QRCode         string `gorm:"type:text" json:"qr_code"`
	Phone          string `gorm:"type:varchar(20)" json:"phone"`
}

func (WhatsAppInstance) TableName() string {
	return "whatsapp_instances"
}

const (
	WarmingActive    = "active"
	WarmingPaused    = "paused"
	WarmingCompleted = "completed"
)

type WarmingSchedule struct {
	Base
	OrganizationID        string `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	InstanceID            string `gorm:"type:varchar(36);index;not null" json:"instance_id"`
	CurrentDay            int    `gorm:"default:1" json:"current_day"`
	TargetDays            int    `gorm:"not null" json:"target_days"`
	MessagesSentToday     int    `gorm:"default:0" json:"messages_sent_today"`
	MessagesReceivedToday int    `gorm:"default:0" json:"messages_received_today"`
	Status                string `gorm:"type:varchar(20);default:'active';index" json:"status"`
	LastAdvancedOn        string `gorm:"type:varchar(10)" json:"last_advanced_on"`
	Version               int    `gorm:"default:0" json:"version"`
}

func (WarmingSchedule) TableName() string {
	return "warming_schedules"
}

type Funnel struct {
	Base
	OrganizationID string        `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	Name           string        `gorm:"type:varchar(255);not null" json:"name"`
	Description    string        `gorm:"type:text" json:"description"`
	Stages         []FunnelStage `gorm:"foreignKey:FunnelID;constraint:OnDelete:CASCADE;" json:"stages,omitempty"`
}

func (Funnel) TableName() string {
	return "funnels"
}

type FunnelStage struct {
	Base
	OrganizationID string `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	FunnelID       string `gorm:"type:varchar(36);index;not null" json:"funnel_id"`
	Name           string `gorm:"type:varchar(255);not null" json:"name"`
	Position       int    `json:"position"`
	Color          string `gorm:"type:varchar(20)" json:"color"`
	IsWon          bool   `json:"is_won"`
	IsLost         bool   `json:"is_lost"`
}

func (FunnelStage) TableName() string {
	return "funnel_stages"
}

const (
	DealOpen = "open"
	DealWon  = "won"
	DealLost = "lost"
)

type Deal struct {
	Base
	OrganizationID string        `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	FunnelID       string        `gorm:"type:varchar(36);index;not null" json:"funnel_id"`
	StageID        string        `gorm:"type:varchar(36);index;not null" json:"stage_id"`
	ContactID      *string       `gorm:"type:varchar(36);index" json:"contact_id"`
	OwnerID        string        `gorm:"type:varchar(36)" json:"owner_id"`
	Title          string        `gorm:"type:varchar(255);not null" json:"title"`
	Value          float64       `json:"value"`
	Status         string        `gorm:"type:varchar(10);default:'open'" json:"status"`
	CustomFields   fields.Values `json:"custom_fields"`
	ClosedAt       *time.Time    `json:"closed_at"`
}

func (Deal) TableName() string {
	return "deals"
}

const (
	TemplateDraft    = "draft"
	TemplatePending  = "pending"
	TemplateApproved = "approved"
	TemplateRejected = "rejected"
	TemplatePaused   = "paused"
	TemplateDisabled = "disabled"
)

// MetaTemplate mirrors a WhatsApp Business message template and its
// approval status at the provider.
type MetaTemplate struct {
	Base
	OrganizationID string         `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	Name           string         `gorm:"type:varchar(255);not null" json:"name"`
	Language       string         `gorm:"type:varchar(20);default:'pt_BR'" json:"language"`
	Category       string         `gorm:"type:varchar(50)" json:"category"`
	Status         string         `gorm:"type:varchar(20);default:'draft'" json:"status"`
	Components     datatypes.JSON `json:"components"`
	ExternalID     string         `gorm:"type:varchar(255)" json:"external_id"`
	RejectedReason string         `gorm:"type:text" json:"rejected_reason"`
}

func (MetaTemplate) TableName() string {
	return "meta_templates"
}

// AgentSettings is the behavior of an AI voice/text agent.
type AgentSettings struct {
	SystemPrompt    string   `json:"system_prompt"`
	GreetingPrompt  string   `json:"greeting_prompt"`
	FollowUpPrompt  string   `json:"follow_up_prompt"`
	ReplyDelaySecs  int      `json:"reply_delay_seconds"`
	ActiveFromHour  int      `json:"active_from_hour"`
	ActiveUntilHour int      `json:"active_until_hour"`
	FollowUpAfter   int      `json:"follow_up_after_minutes"`
	HandoffKeywords []string `json:"handoff_keywords"`
	VoiceID         string   `json:"voice_id"`
	ReplyWithAudio  bool     `json:"reply_with_audio"`
	MaxTokens       int      `json:"max_tokens"`
}

type AIAgentConfig struct {
	Base
	OrganizationID string                            `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	Name           string                            `gorm:"type:varchar(255);not null" json:"name"`
	Scope          string                            `gorm:"type:varchar(20);not null;index:idx_agent_scope" json:"scope"` // funnel, campaign
	ScopeID        string                            `gorm:"type:varchar(36);index:idx_agent_scope" json:"scope_id"`
	Enabled        bool                              `gorm:"default:true" json:"enabled"`
	Settings       datatypes.JSONType[AgentSettings] `json:"settings"`
}

func (AIAgentConfig) TableName() string {
	return "ai_agent_configs"
}

const (
	CampaignDraft     = "draft"
	CampaignRunning   = "running"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
)

// Campaign is a broadcast of one approved template to a set of contacts.
type Campaign struct {
	Base
	OrganizationID string     `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	Name           string     `gorm:"type:varchar(255);not null" json:"name"`
	InstanceID     string     `gorm:"type:varchar(36);not null" json:"instance_id"`
	TemplateID     string     `gorm:"type:varchar(36);not null" json:"template_id"`
	Status         string     `gorm:"type:varchar(20);default:'draft'" json:"status"`
	TotalCount     int        `json:"total_count"`
	SentCount      int        `json:"sent_count"`
	FailedCount    int        `json:"failed_count"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

type CampaignRecipient struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	OrganizationID string     `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	CampaignID     string     `gorm:"type:varchar(36);index;not null" json:"campaign_id"`
	ContactID      string     `gorm:"type:varchar(36)" json:"contact_id"`
	Phone          string     `gorm:"type:varchar(20)" json:"phone"`
	Status         string     `gorm:"type:varchar(20);default:'pending'" json:"status"` // pending, sent, failed
	Error          string     `gorm:"type:text" json:"error"`
	SentAt         *time.Time `json:"sent_at"`
}

func (CampaignRecipient) TableName() string {
	return "campaign_recipients"
}

const (
	ActivityWork  = "work"
	ActivityBreak = "break"
	ActivityLunch = "lunch"
)

// UserActivitySession is open while EndedAt is nil; at most one per user.
type UserActivitySession struct {
	Base
	OrganizationID  string     `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	UserID          string     `gorm:"type:varchar(36);index;not null" json:"user_id"`
	SessionType     string     `gorm:"type:varchar(10);not null" json:"session_type"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `gorm:"index" json:"ended_at"`
	DurationSeconds int64      `json:"duration_seconds"`
}

func (UserActivitySession) TableName() string {
	return "user_activity_sessions"
}

const (
	SubscriptionInactive = "inactive"
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

type Subscription struct {
	OrganizationID       string     `gorm:"primaryKey;type:varchar(36)" json:"organization_id"`
	PlanKey              string     `gorm:"type:varchar(50)" json:"plan_key"`
	Status               string     `gorm:"type:varchar(20);default:'inactive'" json:"status"`
	AmountCents          int64      `json:"amount_cents"`
	StripeCustomerID     string     `gorm:"type:varchar(255)" json:"stripe_customer_id"`
	StripeSubscriptionID string     `gorm:"type:varchar(255);index" json:"stripe_subscription_id"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

type TokenWallet struct {
	OrganizationID string    `gorm:"primaryKey;type:varchar(36)" json:"organization_id"`
	Balance        int64     `json:"balance"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TokenWallet) TableName() string {
	return "token_wallets"
}

// ProcessedEvent records payment webhook event ids already applied.
type ProcessedEvent struct {
	ID        string    `gorm:"primaryKey;type:varchar(255)" json:"id"`
	Type      string    `gorm:"type:varchar(100)" json:"type"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// AutomationRule represents an automation trigger/action rule
type AutomationRule struct {
	Base
	OrganizationID string         `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	Name           string         `gorm:"type:varchar(255);not null" json:"name"`
	Enabled        bool           `gorm:"default:true" json:"enabled"`
	Priority       int            `gorm:"default:0" json:"priority"`
	Conditions     datatypes.JSON `json:"conditions"`
	Actions        datatypes.JSON `json:"actions"`
}

func (AutomationRule) TableName() string {
	return "automation_rules"
}

// AutomationLog represents a log entry for automation execution
type AutomationLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID string    `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	RuleID         string    `gorm:"type:varchar(36)" json:"rule_id"`
	Phone          string    `gorm:"type:varchar(20)" json:"phone"`
	ActionTaken    string    `gorm:"type:text" json:"action_taken"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

// ChatbotFlow is a node/edge graph executed against inbound messages.
type ChatbotFlow struct {
	Base
	OrganizationID  string                      `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	Name            string                      `gorm:"type:varchar(255);not null" json:"name"`
	TriggerKeywords datatypes.JSONSlice[string] `json:"trigger_keywords"`
	Enabled         bool                        `gorm:"default:true" json:"enabled"`
	Nodes           []FlowNode                  `gorm:"foreignKey:FlowID;constraint:OnDelete:CASCADE;" json:"nodes"`
	Edges           []FlowEdge                  `gorm:"foreignKey:FlowID;constraint:OnDelete:CASCADE;" json:"edges"`
}

func (ChatbotFlow) TableName() string {
	return "chatbot_flows"
}

type FlowNode struct {
	ID        uint           `gorm:"primaryKey" json:"-"`
	FlowID    string         `gorm:"index;type:varchar(36)" json:"-"`
	NodeID    string         `gorm:"type:varchar(255)" json:"id"`
	Type      string         `gorm:"type:varchar(50)" json:"type"`
	PositionX float64        `json:"position_x"`
	PositionY float64        `json:"position_y"`
	Data      datatypes.JSON `json:"data"`
}

func (FlowNode) TableName() string {
	return "flow_nodes"
}

type FlowEdge struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	FlowID       string `gorm:"index;type:varchar(36)" json:"-"`
	EdgeID       string `gorm:"type:varchar(255)" json:"id"`
	Source       string `gorm:"type:varchar(255)" json:"source"`
	Target       string `gorm:"type:varchar(255)" json:"target"`
	SourceHandle string `gorm:"type:varchar(255)" json:"source_handle"`
}

func (FlowEdge) TableName() string {
	return "flow_edges"
}

const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// ConversationSession represents an active flow session for a contact
type ConversationSession struct {
	Base
	OrganizationID string                                `gorm:"type:varchar(36);index;not null" json:"organization_id"`
	Phone          string                                `gorm:"type:varchar(20);not null;index" json:"phone"`
	FlowID         string                                `gorm:"type:varchar(36)" json:"flow_id"`
	CurrentNode    string                                `gorm:"type:varchar(255)" json:"current_node"`
	Variables      datatypes.JSONType[map[string]string] `json:"variables"`
	Status         string                                `gorm:"type:varchar(20);default:'active'" json:"status"`
}

func (ConversationSession) TableName() string {
	return "conversation_sessions"
}

// SystemSetting is a runtime-editable configuration value
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Organization{},
		&Profile{},
		&Contact{},
		&Conversation{},
		&Message{},
		&Tag{},
		&TagAssignment{},
		&CustomFieldDefinition{},
		&WhatsAppInstance{},
		&WarmingSchedule{},
		&Funnel{},
		&FunnelStage{},
		&Deal{},
		&MetaTemplate{},
		&AIAgentConfig{},
		&Campaign{},
		&CampaignRecipient{},
		&UserActivitySession{},
		&Subscription{},
		&TokenWallet{},
		&ProcessedEvent{},
		&AutomationRule{},
		&AutomationLog{},
		&ChatbotFlow{},
		&FlowNode{},
		&FlowEdge{},
		&ConversationSession{},
		&SystemSetting{},
	}
}
