// Package scheduler runs the broker's recurring maintenance work on
// cron schedules: guide rebuilds, catalog backups with retention
// pruning, and the self-heal cadences.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/epg"
	"github.com/exstreamtv/exstreamtv/internal/models"
)

const (
	// guideRebuildSpec rebuilds the XMLTV document hourly so the guide
	// window keeps sliding even when nobody requests it.
	guideRebuildSpec = "0 0 * * * *"

	// selfHealSpec drives the remediation pass and the metadata
	// self-resolution cadence. The remediator applies its own gates
	// (containment, cooldowns, failure ratio); this is only the tick.
	selfHealSpec = "0 */5 * * * *"

	// jobTimeout bounds any single scheduled run.
	jobTimeout = 10 * time.Minute
)

// guideBuilder rebuilds the cached guide. epg.Generator implements it.
type guideBuilder interface {
	Build(ctx context.Context) (*epg.Guide, error)
}

// backupRunner takes and prunes catalog backups. service.BackupService
// implements it.
type backupRunner interface {
	CreateBackup(ctx context.Context) (*models.BackupMetadata, error)
	CleanupOldBackups(ctx context.Context) (int, error)
}

// healer is the self-heal surface driven on a cadence. Both methods are
// self-gating no-ops when their preconditions do not hold.
type healer interface {
	Remediate(ctx context.Context) int
	ResolveMetadata(ctx context.Context) int
}

// guideNotifier is told after each successful guide rebuild.
// epg.PlexNotifier implements it.
type guideNotifier interface {
	Notify(ctx context.Context) error
}

// Scheduler owns the cron runner. Jobs are registered at construction
// and run until Stop.
type Scheduler struct {
	cron     *cron.Cron
	guide    guideBuilder
	backups  backupRunner
	healer   healer
	notifier guideNotifier
	backup   config.BackupScheduleConfig
	logger   *slog.Logger
	baseCtx  context.Context
}

// New creates a scheduler. guide, backups, and healer may each be nil,
// which skips the corresponding jobs.
func New(guide guideBuilder, backups backupRunner, healer healer, backup config.BackupScheduleConfig) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		guide:   guide,
		backups: backups,
		healer:  healer,
		backup:  backup,
		logger:  slog.Default(),
		baseCtx: context.Background(),
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger.With("component", "scheduler")
	return s
}

// WithGuideNotifier registers a notifier invoked after each successful
// scheduled guide rebuild.
func (s *Scheduler) WithGuideNotifier(n guideNotifier) *Scheduler {
	s.notifier = n
	return s
}

// Start registers the jobs and begins ticking. The context bounds every
// job run; cancelling it stops in-flight work, Stop halts the ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx

	if s.guide != nil {
		if _, err := s.cron.AddFunc(guideRebuildSpec, s.runGuideRebuild); err != nil {
			return fmt.Errorf("registering guide rebuild: %w", err)
		}
	}
	if s.backups != nil && s.backup.Enabled {
		if _, err := s.cron.AddFunc(s.backup.Cron, s.runBackup); err != nil {
			return fmt.Errorf("registering backup schedule %q: %w", s.backup.Cron, err)
		}
	}
	if s.healer != nil {
		if _, err := s.cron.AddFunc(selfHealSpec, s.runSelfHeal); err != nil {
			return fmt.Errorf("registering self-heal cadence: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"guide_rebuild", s.guide != nil,
		"backup_enabled", s.backups != nil && s.backup.Enabled,
		"backup_cron", s.backup.Cron,
		"self_heal", s.healer != nil)
	return nil
}

// Stop halts the ticker and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.baseCtx, jobTimeout)
}

func (s *Scheduler) runGuideRebuild() {
	ctx, cancel := s.jobContext()
	defer cancel()

	start := time.Now()
	if _, err := s.guide.Build(ctx); err != nil {
		s.logger.Warn("scheduled guide rebuild failed", "error", err)
		return
	}
	s.logger.Debug("guide rebuilt", "duration", time.Since(start))

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx); err != nil {
			s.logger.Warn("guide reload notification failed", "error", err)
		}
	}
}

func (s *Scheduler) runBackup() {
	ctx, cancel := s.jobContext()
	defer cancel()

	meta, err := s.backups.CreateBackup(ctx)
	if err != nil {
		s.logger.Error("scheduled backup failed", "error", err)
		return
	}
	s.logger.Info("scheduled backup complete", "filename", meta.Filename)

	removed, err := s.backups.CleanupOldBackups(ctx)
	if err != nil {
		s.logger.Warn("backup retention cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("pruned old backups", "removed", removed)
	}
}

func (s *Scheduler) runSelfHeal() {
	ctx, cancel := s.jobContext()
	defer cancel()

	if n := s.healer.Remediate(ctx); n > 0 {
		s.logger.Info("remediation pass acted", "steps", n)
	}
	if n := s.healer.ResolveMetadata(ctx); n > 0 {
		s.logger.Info("metadata self-resolution restored items", "restored", n)
	}
}
