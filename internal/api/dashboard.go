package api

import (
	"net/http"
	"strconv"
	"time"

	"zapcrm/internal/auth"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type DashboardHandler struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewDashboardHandler(db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{DB: db, Now: time.Now}
}

type DealTotals struct {
	Count int64   `json:"count"`
	Value float64 `json:"value"`
}

type Stats struct {
	Contacts            int64                 `json:"contacts"`
	Conversations       int64                 `json:"conversations"`
	ActiveConversations int64                 `json:"active_conversations"`
	UnreadConversations int64                 `json:"unread_conversations"`
	UnreadMessages      int64                 `json:"unread_messages"`
	MessagesInToday     int64                 `json:"messages_in_today"`
	MessagesOutToday    int64                 `json:"messages_out_today"`
	Deals               map[string]DealTotals `json:"deals"`
	ConnectedInstances  int64                 `json:"connected_instances"`
}

func (h *DashboardHandler) GetStats(c *gin.Context) {
	orgID := auth.OrgID(c)
	now := h.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	s := Stats{Deals: map[string]DealTotals{}}

	org := func(model interface{}) *gorm.DB {
		return h.DB.Model(model).Where("organization_id = ?", orgID)
	}
	steps := []*gorm.DB{
		org(&models.Contact{}).Count(&s.Contacts),
		org(&models.Conversation{}).Count(&s.Conversations),
		org(&models.Conversation{}).Where("last_message_at >= ?", now.Add(-24*time.Hour)).Count(&s.ActiveConversations),
		org(&models.Conversation{}).Where("unread_count > 0").Count(&s.UnreadConversations),
		org(&models.Conversation{}).Select("COALESCE(SUM(unread_count), 0)").Scan(&s.UnreadMessages),
		org(&models.Message{}).Where("direction = ? AND created_at >= ?", models.DirectionInbound, today).Count(&s.MessagesInToday),
		org(&models.Message{}).Where("direction = ? AND created_at >= ?", models.DirectionOutbound, today).Count(&s.MessagesOutToday),
		org(&models.WhatsAppInstance{}).Where("status = ?", models.InstanceConnected).Count(&s.ConnectedInstances),
	}
	for _, st := range steps {
		if st.Error != nil {
			respondError(c, st.Error)
			return
		}
	}

	var rows []struct {
		Status string
		Count  int64
		Total  float64
	}
	err := org(&models.Deal{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(value), 0) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		respondError(c, err)
		return
	}
	for _, r := range rows {
		s.Deals[r.Status] = DealTotals{Count: r.Count, Value: r.Total}
	}
	c.JSON(http.StatusOK, s)
}

type SLA struct {
	AverageSeconds float64 `json:"average_first_response_seconds"`
	Responded      int     `json:"responded_conversations"`
	Awaiting       int     `json:"awaiting_conversations"`
}

// FirstResponse computes, per conversation, the delay between the first
// inbound message and the first outbound message after it. msgs must be
// ordered by conversation then time. Conversations without a reply are
// counted as awaiting and left out of the average.
func FirstResponse(msgs []models.Message) SLA {
	var sla SLA
	var total float64
	var firstIn *time.Time
	replied := false
	flush := func() {
		if firstIn != nil && !replied {
			sla.Awaiting++
		}
		firstIn, replied = nil, false
	}
	conv := ""
	for i := range msgs {
		m := msgs[i]
		if m.ConversationID != conv {
			flush()
			conv = m.ConversationID
		}
		if replied {
			continue
		}
		switch {
		case m.Direction == models.DirectionInbound && firstIn == nil:
			t := m.CreatedAt
			firstIn = &t
		case m.Direction == models.DirectionOutbound && firstIn != nil:
			total += m.CreatedAt.Sub(*firstIn).Seconds()
			sla.Responded++
			replied = true
		}
	}
	flush()
	if sla.Responded > 0 {
		sla.AverageSeconds = total / float64(sla.Responded)
	}
	return sla
}

// GetSLA reports first-response times over the last ?days (default 7).
func (h *DashboardHandler) GetSLA(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 || days > 90 {
		badRequest(c, "days must be between 1 and 90")
		return
	}
	since := h.Now().AddDate(0, 0, -days)
	var msgs []models.Message
	err = h.DB.Select("conversation_id, direction, created_at").
		Where("organization_id = ? AND created_at >= ?", auth.OrgID(c), since).
		Order("conversation_id, created_at").
		Find(&msgs).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, FirstResponse(msgs))
}
