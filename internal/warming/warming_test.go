package warming

import (
	"context"
	"strings"
	"testing"
	"time"

	"zapcrm/internal/models"
	"zapcrm/internal/realtime"
	"zapcrm/internal/testutil"
)

func TestAdvance(t *testing.T) {
	cases := []struct {
		name string
		in   models.WarmingSchedule
		want models.WarmingSchedule
	}{
		{
			"increments and resets counters",
			models.WarmingSchedule{CurrentDay: 3, TargetDays: 14, MessagesSentToday: 20, MessagesReceivedToday: 7, Status: models.WarmingActive},
			models.WarmingSchedule{CurrentDay: 4, TargetDays: 14, Status: models.WarmingActive},
		},
		{
			"last day completes",
			models.WarmingSchedule{CurrentDay: 14, TargetDays: 14, MessagesSentToday: 5, Status: models.WarmingActive},
			models.WarmingSchedule{CurrentDay: 14, TargetDays: 14, Status: models.WarmingCompleted},
		},
		{
			"paused unchanged",
			models.WarmingSchedule{CurrentDay: 2, TargetDays: 14, MessagesSentToday: 5, Status: models.WarmingPaused},
			models.WarmingSchedule{CurrentDay: 2, TargetDays: 14, MessagesSentToday: 5, Status: models.WarmingPaused},
		},
		{
			"completed unchanged",
			models.WarmingSchedule{CurrentDay: 14, TargetDays: 14, Status: models.WarmingCompleted},
			models.WarmingSchedule{CurrentDay: 14, TargetDays: 14, Status: models.WarmingCompleted},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Advance(c.in); got != c.want {
				t.Errorf("Advance = %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestAdvanceNeverExceedsTarget(t *testing.T) {
	s := models.WarmingSchedule{CurrentDay: 1, TargetDays: 5, Status: models.WarmingActive}
	for i := 0; i < 10; i++ {
		s = Advance(s)
		if s.CurrentDay > s.TargetDays {
			t.Fatalf("current_day %d exceeded target %d", s.CurrentDay, s.TargetDays)
		}
	}
	if s.Status != models.WarmingCompleted {
		t.Errorf("status = %q", s.Status)
	}
}

func seed(t *testing.T, svc *Service, s models.WarmingSchedule) models.WarmingSchedule {
	t.Helper()
	s.OrganizationID = "org-1"
	s.InstanceID = "inst-1"
	if err := svc.DB.Create(&s).Error; err != nil {
		t.Fatal(err)
	}
	return s
}

func newService(t *testing.T, day string) *Service {
	svc := NewService(testutil.DB(t))
	now, _ := time.Parse("2006-01-02", day)
	svc.Now = func() time.Time { return now.Add(3 * time.Hour) }
	return svc
}

func TestAdvanceAll(t *testing.T) {
	svc := newService(t, "2024-05-10")
	ctx := context.Background()

	running := seed(t, svc, models.WarmingSchedule{CurrentDay: 1, TargetDays: 3, MessagesSentToday: 9, Status: models.WarmingActive})
	ending := seed(t, svc, models.WarmingSchedule{CurrentDay: 3, TargetDays: 3, Status: models.WarmingActive})
	seed(t, svc, models.WarmingSchedule{CurrentDay: 2, TargetDays: 3, Status: models.WarmingPaused})

	res, err := svc.AdvanceAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{Advanced: 1, Completed: 1}) {
		t.Errorf("result = %+v", res)
	}

	var got models.WarmingSchedule
	svc.DB.First(&got, "id = ?", running.ID)
	if got.CurrentDay != 2 || got.MessagesSentToday != 0 || got.Version != 1 || got.LastAdvancedOn != "2024-05-10" {
		t.Errorf("running = %+v", got)
	}
	svc.DB.First(&got, "id = ?", ending.ID)
	if got.Status != models.WarmingCompleted || got.CurrentDay != 3 {
		t.Errorf("ending = %+v", got)
	}

	// same day again: nothing moves
	res, err = svc.AdvanceAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Advanced != 0 || res.Skipped != 1 {
		t.Errorf("second run = %+v", res)
	}
}

func TestAdvanceSkipsRowMovedByConcurrentRun(t *testing.T) {
	svc := newService(t, "2024-05-10")
	ctx := context.Background()
	stale := seed(t, svc, models.WarmingSchedule{CurrentDay: 1, TargetDays: 10, Status: models.WarmingActive})

	if _, err := svc.AdvanceAll(ctx); err != nil {
		t.Fatal(err)
	}

	// a second worker that loaded the row before the first one wrote it
	o, err := svc.advanceOne(ctx, stale, "2024-05-11")
	if err != nil {
		t.Fatal(err)
	}
	if o != outcomeSkipped {
		t.Fatalf("outcome = %v, want skipped", o)
	}

	var got models.WarmingSchedule
	svc.DB.First(&got, "id = ?", stale.ID)
	if got.CurrentDay != 2 || got.Version != 1 {
		t.Errorf("row advanced twice: %+v", got)
	}
}

func TestRecordTraffic(t *testing.T) {
	svc := newService(t, "2024-05-10")
	s := seed(t, svc, models.WarmingSchedule{CurrentDay: 1, TargetDays: 10, Status: models.WarmingActive})

	ctx := context.Background()
	svc.RecordTraffic(ctx, "org-1", "inst-1", 1, 0)
	svc.RecordTraffic(ctx, "org-1", "inst-1", 0, 2)
	// another organization's instance with the same id is not touched
	svc.RecordTraffic(ctx, "org-2", "inst-1", 5, 5)

	var got models.WarmingSchedule
	svc.DB.First(&got, "id = ?", s.ID)
	if got.MessagesSentToday != 1 || got.MessagesReceivedToday != 2 {
		t.Errorf("counters = %d/%d", got.MessagesSentToday, got.MessagesReceivedToday)
	}
}

func TestWritesReachChangeFeed(t *testing.T) {
	svc := newService(t, "2024-05-10")
	rec := realtime.NewRecorder()
	if err := svc.DB.Use(realtime.NewPlugin(rec)); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s := seed(t, svc, models.WarmingSchedule{CurrentDay: 1, TargetDays: 10, Status: models.WarmingActive})

	if err := svc.RecordTraffic(ctx, "org-1", "inst-1", 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AdvanceAll(ctx); err != nil {
		t.Fatal(err)
	}
	s.Version = 1
	if _, err := svc.SetStatus(ctx, s, models.WarmingPaused); err != nil {
		t.Fatal(err)
	}

	updates := 0
	for _, ev := range rec.Events("org-1") {
		if ev.Table == "warming_schedules" && ev.Action == realtime.ActionUpdate {
			updates++
		}
	}
	if updates != 3 {
		t.Errorf("update events = %d, want 3", updates)
	}
}

func TestCreateFailsWhenLookupFails(t *testing.T) {
	svc := newService(t, "2024-05-10")
	if err := svc.DB.Migrator().DropTable(&models.WarmingSchedule{}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Create(context.Background(), "org-1", "inst-1", 14)
	if err == nil || !strings.Contains(err.Error(), "count schedules") {
		t.Fatalf("err = %v", err)
	}
}
