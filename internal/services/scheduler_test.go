package services

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/database"
	"github.com/stackmelt/cargohold/internal/models"
)

func newSchedulerTestService(t *testing.T) *SchedulerService {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Default()
	return NewSchedulerService(db, cfg, nil, zerolog.Nop())
}

func TestParseCronExpression(t *testing.T) {
	valid := []string{"0 3 * * *", "*/15 * * * *", "30 2 * * 1-5", "0 0 1 * *"}
	for _, expr := range valid {
		if _, err := ParseCronExpression(expr); err != nil {
			t.Errorf("expected %q to parse, got %v", expr, err)
		}
	}

	invalid := []string{"", "not cron", "61 * * * *", "* * * *", "0 3 * * * *"}
	for _, expr := range invalid {
		if _, err := ParseCronExpression(expr); err == nil {
			t.Errorf("expected %q to be rejected", expr)
		}
	}
}

func TestParseCronExpression_NextComputation(t *testing.T) {
	cs, err := ParseCronExpression("0 3 * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	from := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	next := cs.Next(from)
	want := time.Date(2026, 8, 27, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, next)
	}

	beforeThree := time.Date(2026, 8, 26, 2, 0, 0, 0, time.UTC)
	next = cs.Next(beforeThree)
	want = time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected same-day run %v, got %v", want, next)
	}
}

func TestSchedulerService_CreateAndGet(t *testing.T) {
	s := newSchedulerTestService(t)

	sch, err := s.Create(&models.CreateScheduleRequest{
		Target:     "paperless",
		Expression: "30 2 * * *",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if sch.Kind != models.KindProject {
		t.Errorf("expected default kind project, got %s", sch.Kind)
	}
	if !sch.Enabled {
		t.Error("expected schedule enabled by default")
	}

	got, err := s.Get(sch.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Target != "paperless" || got.Expression != "30 2 * * *" {
		t.Errorf("unexpected schedule %+v", got)
	}
}

func TestSchedulerService_CreateNormalizesSentinelTargets(t *testing.T) {
	s := newSchedulerTestService(t)

	sch, err := s.Create(&models.CreateScheduleRequest{
		Target:     "whatever",
		Kind:       models.KindFullSystem,
		Expression: "0 3 * * *",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sch.Target != models.TargetFullSystem {
		t.Errorf("full-system schedule must use the sentinel target, got %q", sch.Target)
	}
}

func TestSchedulerService_CreateRejectsBadExpression(t *testing.T) {
	s := newSchedulerTestService(t)

	_, err := s.Create(&models.CreateScheduleRequest{
		Target:     "paperless",
		Expression: "every day at three",
	})
	if err == nil {
		t.Error("expected invalid expression to be rejected")
	}
}

func TestSchedulerService_Update(t *testing.T) {
	s := newSchedulerTestService(t)

	sch, err := s.Create(&models.CreateScheduleRequest{Target: "paperless", Expression: "0 3 * * *"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	disabled := false
	updated, err := s.Update(sch.ID, &models.UpdateScheduleRequest{
		Expression: "0 4 * * *",
		Enabled:    &disabled,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Expression != "0 4 * * *" || updated.Enabled {
		t.Errorf("unexpected schedule after update: %+v", updated)
	}

	if _, err := s.Update(sch.ID, &models.UpdateScheduleRequest{Expression: "garbage"}); err == nil {
		t.Error("expected invalid update expression to be rejected")
	}
	if _, err := s.Update("missing", &models.UpdateScheduleRequest{}); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestSchedulerService_Delete(t *testing.T) {
	s := newSchedulerTestService(t)

	sch, err := s.Create(&models.CreateScheduleRequest{Target: "paperless", Expression: "0 3 * * *"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Delete(sch.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(sch.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("expected deleted schedule to be gone, got %v", err)
	}
	if err := s.Delete(sch.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound on second delete, got %v", err)
	}
}

func TestSchedulerService_EnsureDefault(t *testing.T) {
	s := newSchedulerTestService(t)

	if err := s.EnsureDefault(); err != nil {
		t.Fatalf("ensure default: %v", err)
	}
	schedules, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("expected 1 seeded schedule, got %d", len(schedules))
	}
	if schedules[0].Kind != models.KindFullSystem || schedules[0].Target != models.TargetFullSystem {
		t.Errorf("unexpected seeded schedule %+v", schedules[0])
	}
	if schedules[0].Expression != s.cfg.Schedule.Expression {
		t.Errorf("seeded schedule should use the configured expression, got %q", schedules[0].Expression)
	}

	// Idempotent: a second call does not seed again.
	if err := s.EnsureDefault(); err != nil {
		t.Fatalf("second ensure default: %v", err)
	}
	schedules, _ = s.List()
	if len(schedules) != 1 {
		t.Errorf("expected EnsureDefault to be idempotent, got %d schedules", len(schedules))
	}
}

func TestSchedulerService_EnsureDefaultDisabled(t *testing.T) {
	s := newSchedulerTestService(t)
	disabled := false
	s.cfg.Schedule.Enabled = &disabled

	if err := s.EnsureDefault(); err != nil {
		t.Fatalf("ensure default: %v", err)
	}
	schedules, _ := s.List()
	if len(schedules) != 0 {
		t.Errorf("disabled schedule config must not seed, got %d schedules", len(schedules))
	}
}

func TestSchedulerService_NextRun(t *testing.T) {
	s := newSchedulerTestService(t)

	sch := &models.Schedule{Expression: "0 3 * * *"}
	from := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	next, err := s.NextRun(sch, from)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if !next.Equal(time.Date(2026, 8, 27, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected next run %v", next)
	}

	sch.Expression = "broken"
	if _, err := s.NextRun(sch, from); err == nil {
		t.Error("expected error for broken expression")
	}
}
