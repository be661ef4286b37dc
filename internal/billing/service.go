package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"zapcrm/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Event is the envelope of a payment processor webhook.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

type Service struct {
	DB      *gorm.DB
	Catalog Catalog
}

func NewService(db *gorm.DB, catalog Catalog) *Service {
	return &Service{DB: db, Catalog: catalog}
}

// HandleEvent applies an event once; replays of an already processed event
// id are ignored.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ProcessedEvent{ID: ev.ID, Type: ev.Type})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			log.Printf("Payment event %s already processed", ev.ID)
			return nil
		}

		switch ev.Type {
		case "checkout.session.completed":
			var obj checkoutObject
			if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
				return fmt.Errorf("decode checkout session: %w", err)
			}
			return s.checkoutCompleted(tx, obj)
		case "customer.subscription.updated":
			var obj subscriptionObject
			if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
				return fmt.Errorf("decode subscription: %w", err)
			}
			return s.subscriptionUpdated(tx, obj)
		case "customer.subscription.deleted":
			var obj subscriptionObject
			if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
				return fmt.Errorf("decode subscription: %w", err)
			}
			return tx.Model(&models.Subscription{}).
				Where("stripe_subscription_id = ?", obj.ID).
				Update("status", models.SubscriptionCanceled).Error
		default:
			log.Printf("Ignoring payment event type %s", ev.Type)
		}
		return nil
	})
}

func (s *Service) checkoutCompleted(tx *gorm.DB, obj checkoutObject) error {
	orgID := obj.Metadata["organization_id"]
	if orgID == "" {
		orgID = obj.ClientReferenceID
	}
	if orgID == "" {
		return errors.New("checkout session without organization")
	}
	plan, err := s.Catalog.Lookup(obj.Metadata["plan_key"])
	if err != nil {
		return err
	}

	if plan.Mode == ModePayment {
		wallet := models.TokenWallet{OrganizationID: orgID}
		if err := tx.FirstOrCreate(&wallet, models.TokenWallet{OrganizationID: orgID}).Error; err != nil {
			return err
		}
		log.Printf("Crediting %d tokens to org %s", plan.Tokens, orgID)
		return tx.Model(&models.TokenWallet{}).
			Where("organization_id = ?", orgID).
			Update("balance", gorm.Expr("balance + ?", plan.Tokens)).Error
	}

	periodEnd := time.Now().AddDate(0, 1, 0)
	sub := models.Subscription{
		OrganizationID:       orgID,
		PlanKey:              plan.Key,
		Status:               models.SubscriptionActive,
		AmountCents:          plan.AmountCents,
		StripeCustomerID:     obj.Customer,
		StripeSubscriptionID: obj.Subscription,
		CurrentPeriodEnd:     &periodEnd,
	}
	log.Printf("Activating plan %s for org %s", plan.Key, orgID)
	return tx.Save(&sub).Error
}

func (s *Service) subscriptionUpdated(tx *gorm.DB, obj subscriptionObject) error {
	updates := map[string]interface{}{}
	switch obj.Status {
	case "active", "trialing":
		updates["status"] = models.SubscriptionActive
	case "canceled", "unpaid", "incomplete_expired":
		updates["status"] = models.SubscriptionCanceled
	}
	if obj.CurrentPeriodEnd > 0 {
		updates["current_period_end"] = time.Unix(obj.CurrentPeriodEnd, 0).UTC()
	}
	if len(updates) == 0 {
		return nil
	}
	return tx.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", obj.ID).
		Updates(updates).Error
}

// Subscription returns the organization's subscription and token balance.
func (s *Service) Subscription(ctx context.Context, orgID string) (models.Subscription, int64, error) {
	db := s.DB.WithContext(ctx)
	sub := models.Subscription{OrganizationID: orgID, Status: models.SubscriptionInactive}
	if err := db.Where("organization_id = ?", orgID).Limit(1).Find(&sub).Error; err != nil {
		return sub, 0, err
	}
	var wallet models.TokenWallet
	if err := db.Where("organization_id = ?", orgID).Limit(1).Find(&wallet).Error; err != nil {
		return sub, 0, err
	}
	return sub, wallet.Balance, nil
}

type Metrics struct {
	MRRCents            int64          `json:"mrr_cents"`
	ActiveSubscriptions int64          `json:"active_subscriptions"`
	CanceledCount       int64          `json:"canceled_subscriptions"`
	ByPlan              map[string]int `json:"by_plan"`
	TokensOutstanding   int64          `json:"tokens_outstanding"`
}

// Metrics aggregates revenue across all organizations.
func (s *Service) Metrics(ctx context.Context) (Metrics, error) {
	m := Metrics{ByPlan: map[string]int{}}
	db := s.DB.WithContext(ctx)

	var rows []struct {
		PlanKey string
		Count   int
		Total   int64
	}
	err := db.Model(&models.Subscription{}).
		Select("plan_key, COUNT(*) AS count, COALESCE(SUM(amount_cents), 0) AS total").
		Where("status = ?", models.SubscriptionActive).
		Group("plan_key").
		Scan(&rows).Error
	if err != nil {
		return m, err
	}
	for _, r := range rows {
		m.ByPlan[r.PlanKey] = r.Count
		m.ActiveSubscriptions += int64(r.Count)
		m.MRRCents += r.Total
	}

	if err := db.Model(&models.Subscription{}).Where("status = ?", models.SubscriptionCanceled).Count(&m.CanceledCount).Error; err != nil {
		return m, err
	}
	err = db.Model(&models.TokenWallet{}).Select("COALESCE(SUM(balance), 0)").Scan(&m.TokensOutstanding).Error
	return m, err
}
