// Package warming advances number-warming schedules one day at a time.
package warming

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"zapcrm/internal/models"

	"gorm.io/gorm"
)

// Advance moves an active schedule to its next day and resets the daily
// counters. A schedule whose next day would pass TargetDays is completed and
// stays on its last day. Non-active schedules are returned unchanged.
func Advance(s models.WarmingSchedule) models.WarmingSchedule {
	if s.Status != models.WarmingActive {
		return s
	}
	s.MessagesSentToday = 0
	s.MessagesReceivedToday = 0
	next := s.CurrentDay + 1
	if next > s.TargetDays {
		s.Status = models.WarmingCompleted
		s.CurrentDay = s.TargetDays
		return s
	}
	s.CurrentDay = next
	return s
}

type Result struct {
	Advanced  int `json:"advanced"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
}

type Service struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{DB: db, Now: time.Now}
}

func (s *Service) today() string {
	return s.Now().UTC().Format("2006-01-02")
}

// AdvanceAll advances every active schedule once per UTC day. Each row is
// written with a compare-and-set on version, so a concurrent run that already
// moved a row makes this one skip it.
func (s *Service) AdvanceAll(ctx context.Context) (Result, error) {
	var res Result
	today := s.today()

	var schedules []models.WarmingSchedule
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.WarmingActive).
		Find(&schedules).Error
	if err != nil {
		return res, fmt.Errorf("load schedules: %w", err)
	}

	for _, cur := range schedules {
		done, err := s.advanceOne(ctx, cur, today)
		if err != nil {
			return res, err
		}
		switch done {
		case outcomeAdvanced:
			res.Advanced++
		case outcomeCompleted:
			res.Completed++
		default:
			res.Skipped++
		}
	}

	log.Printf("Warming advance: %d advanced, %d completed, %d skipped", res.Advanced, res.Completed, res.Skipped)
	return res, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeAdvanced
	outcomeCompleted
)

func (s *Service) advanceOne(ctx context.Context, cur models.WarmingSchedule, today string) (outcome, error) {
	if cur.LastAdvancedOn == today {
		return outcomeSkipped, nil
	}
	next := Advance(cur)
	tx := s.DB.WithContext(ctx).Model(&models.WarmingSchedule{}).
		Where("id = ? AND organization_id = ? AND version = ?", cur.ID, cur.OrganizationID, cur.Version).
		Updates(map[string]interface{}{
			"current_day":             next.CurrentDay,
			"messages_sent_today":     next.MessagesSentToday,
			"messages_received_today": next.MessagesReceivedToday,
			"status":                  next.Status,
			"last_advanced_on":        today,
			"version":                 cur.Version + 1,
		})
	if tx.Error != nil {
		return outcomeSkipped, fmt.Errorf("advance schedule %s: %w", cur.ID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return outcomeSkipped, nil
	}
	if next.Status == models.WarmingCompleted {
		return outcomeCompleted, nil
	}
	return outcomeAdvanced, nil
}

// RecordTraffic bumps today's counters on the active schedule of instanceID.
func (s *Service) RecordTraffic(ctx context.Context, orgID, instanceID string, sent, received int) error {
	if sent == 0 && received == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&models.WarmingSchedule{}).
		Where("organization_id = ? AND instance_id = ? AND status = ?", orgID, instanceID, models.WarmingActive).
		Updates(map[string]interface{}{
			"messages_sent_today":     gorm.Expr("messages_sent_today + ?", sent),
			"messages_received_today": gorm.Expr("messages_received_today + ?", received),
		}).Error
}

var (
	ErrScheduleExists    = errors.New("instance already has a warming schedule")
	ErrInvalidTransition = errors.New("invalid warming status change")
	ErrInvalidTarget     = errors.New("target_days must be between 1 and 90")
)

// Create starts a schedule on day 1. An instance has at most one schedule
// that is not completed.
func (s *Service) Create(ctx context.Context, orgID, instanceID string, targetDays int) (models.WarmingSchedule, error) {
	sched := models.WarmingSchedule{
		OrganizationID: orgID,
		InstanceID:     instanceID,
		CurrentDay:     1,
		TargetDays:     targetDays,
		Status:         models.WarmingActive,
	}
	if targetDays < 1 || targetDays > 90 {
		return sched, ErrInvalidTarget
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Model(&models.WarmingSchedule{}).
			Where("instance_id = ? AND status <> ?", instanceID, models.WarmingCompleted).
			Count(&n).Error
		if err != nil {
			return fmt.Errorf("count schedules: %w", err)
		}
		if n > 0 {
			return ErrScheduleExists
		}
		return tx.Create(&sched).Error
	})
	return sched, err
}

// SetStatus pauses or resumes a schedule. Completed schedules are final.
func (s *Service) SetStatus(ctx context.Context, sched models.WarmingSchedule, status string) (models.WarmingSchedule, error) {
	ok := (sched.Status == models.WarmingActive && status == models.WarmingPaused) ||
		(sched.Status == models.WarmingPaused && status == models.WarmingActive)
	if !ok {
		return sched, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, sched.Status, status)
	}
	tx := s.DB.WithContext(ctx).Model(&models.WarmingSchedule{}).
		Where("id = ? AND organization_id = ? AND version = ?", sched.ID, sched.OrganizationID, sched.Version).
		Updates(map[string]interface{}{"status": status, "version": sched.Version + 1})
	if tx.Error != nil {
		return sched, tx.Error
	}
	if tx.RowsAffected == 0 {
		return sched, fmt.Errorf("%w: schedule changed concurrently", ErrInvalidTransition)
	}
	sched.Status = status
	sched.Version++
	return sched, nil
}
