package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/database"
	"github.com/stackmelt/cargohold/internal/models"
)

// SchedulerService owns persisted schedules and the polling loop that fires
// due ones through the engine. A tick whose target lock is held is skipped
// and logged, never queued.
type SchedulerService struct {
	db     *database.DB
	cfg    *config.Config
	engine *Engine
	log    zerolog.Logger

	once   sync.Once
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu       sync.Mutex
	nextRuns map[string]time.Time
}

// NewSchedulerService creates a SchedulerService.
func NewSchedulerService(db *database.DB, cfg *config.Config, engine *Engine, log zerolog.Logger) *SchedulerService {
	return &SchedulerService{
		db:       db,
		cfg:      cfg,
		engine:   engine,
		log:      log,
		nextRuns: make(map[string]time.Time),
	}
}

// ParseCronExpression parses a standard 5-field cron expression.
func ParseCronExpression(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

// Start launches the polling loop. Safe to call once; later calls are no-ops.
func (s *SchedulerService) Start(ctx context.Context) {
	s.once.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runLoop(ctx)
		}()
	})
}

// Stop cancels the loop and waits for it to exit. Running jobs are not
// interrupted; they finish through the engine's finalization path.
func (s *SchedulerService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SchedulerService) runLoop(ctx context.Context) {
	// Prime next-run times so a restart does not immediately fire every
	// schedule.
	s.primeNextRuns(time.Now())

	t := time.NewTicker(s.cfg.Schedule.GetPollInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runDue(time.Now())
		}
	}
}

func (s *SchedulerService) primeNextRuns(now time.Time) {
	schedules, err := s.enabledSchedules()
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler could not load schedules")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sch := range schedules {
		cs, err := ParseCronExpression(sch.Expression)
		if err != nil {
			s.log.Warn().Err(err).Str("schedule_id", sch.ID).Msg("schedule has invalid expression")
			continue
		}
		s.nextRuns[sch.ID] = cs.Next(now)
	}
}

func (s *SchedulerService) runDue(now time.Time) {
	schedules, err := s.enabledSchedules()
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler could not load schedules")
		return
	}

	for _, sch := range schedules {
		cs, err := ParseCronExpression(sch.Expression)
		if err != nil {
			s.log.Warn().Err(err).Str("schedule_id", sch.ID).Msg("schedule has invalid expression")
			continue
		}

		s.mu.Lock()
		next, ok := s.nextRuns[sch.ID]
		if !ok {
			next = cs.Next(now)
			s.nextRuns[sch.ID] = next
		}
		due := ok && !now.Before(next)
		if due {
			s.nextRuns[sch.ID] = cs.Next(now)
		}
		s.mu.Unlock()

		if !due {
			continue
		}

		if _, err := s.engine.TriggerBackup(sch.Target, sch.Kind); err != nil {
			var running *JobAlreadyRunningError
			if errors.As(err, &running) {
				s.log.Warn().Str("target", sch.Target).Msg("scheduled tick skipped, target busy")
				continue
			}
			s.log.Error().Err(err).Str("target", sch.Target).Msg("scheduled trigger failed")
			continue
		}
		s.log.Info().Str("target", sch.Target).Str("expression", sch.Expression).Msg("scheduled job triggered")
	}
}

// forget drops cached next-run state after CRUD changes.
func (s *SchedulerService) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nextRuns, id)
}

// EnsureDefault seeds the built-in full-system schedule from the config file
// when no full-system schedule exists yet.
func (s *SchedulerService) EnsureDefault() error {
	if !s.cfg.Schedule.IsEnabled() {
		return nil
	}

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM schedules WHERE kind = ?", models.KindFullSystem).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	enabled := true
	_, err = s.Create(&models.CreateScheduleRequest{
		Target:     models.TargetFullSystem,
		Kind:       models.KindFullSystem,
		Expression: s.cfg.Schedule.Expression,
		Enabled:    &enabled,
	})
	return err
}

// Create registers a schedule.
func (s *SchedulerService) Create(req *models.CreateScheduleRequest) (*models.Schedule, error) {
	if req.Kind == "" {
		req.Kind = models.KindProject
	}
	switch req.Kind {
	case models.KindFullSystem:
		req.Target = models.TargetFullSystem
	case models.KindConfigOnly:
		req.Target = models.TargetConfigOnly
	}
	if _, err := ParseCronExpression(req.Expression); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	id := uuid.New().String()
	_, err := s.db.Exec(
		"INSERT INTO schedules (id, target, kind, expression, enabled) VALUES (?, ?, ?, ?, ?)",
		id, req.Target, req.Kind, req.Expression, enabled,
	)
	if err != nil {
		return nil, err
	}

	return s.Get(id)
}

// Get returns one schedule.
func (s *SchedulerService) Get(id string) (*models.Schedule, error) {
	row := s.db.QueryRow(
		"SELECT id, target, kind, expression, enabled, created_at, updated_at FROM schedules WHERE id = ?", id)

	var sch models.Schedule
	err := row.Scan(&sch.ID, &sch.Target, &sch.Kind, &sch.Expression, &sch.Enabled, &sch.CreatedAt, &sch.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sch, nil
}

// List returns every schedule ordered by target.
func (s *SchedulerService) List() ([]models.Schedule, error) {
	rows, err := s.db.Query(
		"SELECT id, target, kind, expression, enabled, created_at, updated_at FROM schedules ORDER BY target")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := make([]models.Schedule, 0)
	for rows.Next() {
		var sch models.Schedule
		if err := rows.Scan(&sch.ID, &sch.Target, &sch.Kind, &sch.Expression, &sch.Enabled, &sch.CreatedAt, &sch.UpdatedAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, sch)
	}
	return schedules, rows.Err()
}

func (s *SchedulerService) enabledSchedules() ([]models.Schedule, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, sch := range all {
		if sch.Enabled {
			enabled = append(enabled, sch)
		}
	}
	return enabled, nil
}

// Update changes a schedule's expression and/or enabled flag.
func (s *SchedulerService) Update(id string, req *models.UpdateScheduleRequest) (*models.Schedule, error) {
	sch, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if req.Expression != "" {
		if _, err := ParseCronExpression(req.Expression); err != nil {
			return nil, err
		}
		sch.Expression = req.Expression
	}
	if req.Enabled != nil {
		sch.Enabled = *req.Enabled
	}

	_, err = s.db.Exec(
		"UPDATE schedules SET expression = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		sch.Expression, sch.Enabled, id,
	)
	if err != nil {
		return nil, err
	}

	s.forget(id)
	return s.Get(id)
}

// Delete removes a schedule.
func (s *SchedulerService) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrScheduleNotFound
	}
	s.forget(id)
	return nil
}

// NextRun computes when a schedule fires next.
func (s *SchedulerService) NextRun(sch *models.Schedule, from time.Time) (time.Time, error) {
	cs, err := ParseCronExpression(sch.Expression)
	if err != nil {
		return time.Time{}, err
	}
	return cs.Next(from), nil
}
