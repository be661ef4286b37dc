// Package inbox records messages against contacts and conversations. It is
// the single write path for both gateway webhooks and agent replies.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zapcrm/internal/models"
	"zapcrm/internal/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{DB: db, Now: time.Now}
}

// Record describes one message to store.
type Record struct {
	OrgID      string
	InstanceID string
	Phone      string
	PushName   string
	Direction  string
	Body       string
	Type       string
	ExternalID string
	Status     string
}

type Result struct {
	Contact      models.Contact
	Conversation models.Conversation
	Message      models.Message
	NewContact   bool
	Duplicate    bool
}

// RecordMessage stores a message, creating the contact and the conversation
// on first contact. Inbound messages increase the unread count. A message
// whose ExternalID is already stored is reported as Duplicate and not
// written again.
func (s *Service) RecordMessage(ctx context.Context, r Record) (Result, error) {
	var res Result
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.ExternalID != "" {
			var n int64
			err := tx.Model(&models.Message{}).
				Where("organization_id = ? AND external_id = ?", r.OrgID, r.ExternalID).
				Count(&n).Error
			if err != nil {
				return err
			}
			if n > 0 {
				res.Duplicate = true
				return nil
			}
		}

		contact, created, err := UpsertContact(tx, r.OrgID, r.Phone, r.PushName)
		if err != nil {
			return err
		}
		res.Contact, res.NewContact = contact, created

		now := s.Now()
		var conv models.Conversation
		err = tx.Where("organization_id = ? AND contact_id = ?", r.OrgID, contact.ID).
			Order("created_at DESC").
			First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			conv = models.Conversation{OrganizationID: r.OrgID, ContactID: contact.ID, InstanceID: r.InstanceID}
			if err := tx.Create(&conv).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		msgType := r.Type
		if msgType == "" {
			msgType = "text"
		}
		res.Message = models.Message{
			OrganizationID: r.OrgID,
			ConversationID: conv.ID,
			Direction:      r.Direction,
			Body:           r.Body,
			Type:           msgType,
			ExternalID:     r.ExternalID,
			Status:         r.Status,
		}
		if err := tx.Create(&res.Message).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"last_message_at":      now,
			"last_message_preview": utils.Truncate(r.Body, 255),
		}
		if r.InstanceID != "" {
			updates["instance_id"] = r.InstanceID
		}
		if r.Direction == models.DirectionInbound {
			updates["unread_count"] = gorm.Expr("unread_count + 1")
		}
		if err := tx.Model(&conv).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&conv, "id = ?", conv.ID).Error; err != nil {
			return err
		}
		res.Conversation = conv
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("record message: %w", err)
	}
	return res, nil
}

// UpsertContact returns the organization's contact for phone, creating it
// with the next display id when missing. Must run inside a transaction.
func UpsertContact(tx *gorm.DB, orgID, phone, name string) (models.Contact, bool, error) {
	phone = utils.NormalizePhone(phone)
	var contact models.Contact
	err := tx.Where("organization_id = ? AND phone = ?", orgID, phone).First(&contact).Error
	if err == nil {
		if contact.Name == "" && name != "" {
			if err := tx.Model(&contact).Update("name", name).Error; err != nil {
				return contact, false, err
			}
		}
		return contact, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return contact, false, err
	}

	displayID, err := nextDisplayID(tx, orgID)
	if err != nil {
		return contact, false, err
	}
	if name == "" {
		name = utils.FormatPhoneNumber(phone)
	}
	contact = models.Contact{OrganizationID: orgID, Phone: phone, Name: name, DisplayID: displayID}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&contact)
	if res.Error != nil {
		return contact, false, res.Error
	}
	if res.RowsAffected == 0 {
		// created concurrently
		err := tx.Where("organization_id = ? AND phone = ?", orgID, phone).First(&contact).Error
		return contact, false, err
	}
	return contact, true, nil
}

// nextDisplayID hands out per-organization sequential contact numbers. The
// increment happens first so concurrent writers serialize on the row lock.
func nextDisplayID(tx *gorm.DB, orgID string) (int, error) {
	res := tx.Model(&models.Organization{}).Where("id = ?", orgID).
		Update("next_display_id", gorm.Expr("next_display_id + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("organization %s not found", orgID)
	}
	var org models.Organization
	if err := tx.Select("next_display_id").Where("id = ?", orgID).First(&org).Error; err != nil {
		return 0, err
	}
	return org.NextDisplayID - 1, nil
}

// MarkRead clears the unread counter of a conversation.
func (s *Service) MarkRead(ctx context.Context, orgID, conversationID string) error {
	var conv models.Conversation
	db := s.DB.WithContext(ctx)
	if err := db.Where("organization_id = ? AND id = ?", orgID, conversationID).First(&conv).Error; err != nil {
		return err
	}
	return db.Model(&conv).Update("unread_count", 0).Error
}

// UpdateStatus sets the delivery status of a message by its gateway id.
func (s *Service) UpdateStatus(ctx context.Context, orgID, externalID, status string) error {
	var msg models.Message
	db := s.DB.WithContext(ctx)
	err := db.Where("organization_id = ? AND external_id = ?", orgID, externalID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return db.Model(&msg).Update("status", status).Error
}
