// Package scheduler runs the fixed periodic maintenance tasks: backups of
// the data directory, log rotation, the weekly sheet report, and cache
// warming. Everything heavy runs off the hot path through the shared file
// I/O slots.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/invigo-mfg/invigo-server/internal/storage"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// Warmer reloads repository caches. The repository registry and the
// workspace store both satisfy it.
type Warmer interface {
	WarmUp(ctx context.Context) error
}

// ReportFunc generates the weekly sheet report. Nil disables the task.
type ReportFunc func(ctx context.Context) error

// Scheduler drives the periodic tasks. Each task runs in its own goroutine
// so a slow backup never delays cache warming.
type Scheduler struct {
	layout       *storage.Layout
	logFile      string
	warmers      []Warmer
	report       ReportFunc
	warmInterval time.Duration
	logger       *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. warmInterval is how often repository caches are
// re-warmed.
func New(layout *storage.Layout, logFile string, warmInterval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		layout:       layout,
		logFile:      logFile,
		warmInterval: warmInterval,
		logger:       log,
	}
}

// AddWarmer registers a cache to warm on the warm-up interval.
func (s *Scheduler) AddWarmer(w Warmer) {
	s.warmers = append(s.warmers, w)
}

// SetReport registers the weekly sheet report generator.
func (s *Scheduler) SetReport(fn ReportFunc) {
	s.report = fn
}

// Start launches the periodic tasks. Call Stop to cancel them.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.every(ctx, time.Hour, s.hourlyBackup)
	s.every(ctx, 24*time.Hour, s.dailyBackup)
	s.every(ctx, 24*time.Hour, s.rotateLog)
	s.every(ctx, 7*24*time.Hour, s.weeklyBackup)
	s.every(ctx, s.warmInterval, s.warmCaches)
	if s.report != nil {
		s.every(ctx, 7*24*time.Hour, func(ctx context.Context) {
			if err := s.report(ctx); err != nil {
				s.logger.Errorf("Weekly sheet report failed: %v", err)
			}
		})
	}

	s.logger.Info("Background scheduler started")
}

// Stop cancels every task and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Background scheduler stopped")
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, task func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				task(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// HourlyBackupName is the archive name for the hour of t, e.g.
// "Hourly Backup - 03 PM.zip".
func HourlyBackupName(t time.Time) string {
	return fmt.Sprintf("Hourly Backup - %s.zip", t.Format("03 PM"))
}

// DailyBackupName is the archive name for the day of t, e.g.
// "Daily Backup - 01 September.zip".
func DailyBackupName(t time.Time) string {
	return fmt.Sprintf("Daily Backup - %s.zip", t.Format("02 January"))
}

// WeeklyBackupName is the archive name for the ISO week of t, e.g.
// "Weekly Backup - 36.zip".
func WeeklyBackupName(t time.Time) string {
	_, week := t.ISOWeek()
	return fmt.Sprintf("Weekly Backup - %02d.zip", week)
}

// RotatedLogName dates the copied server log, e.g. "server-2026-09-01.log".
func RotatedLogName(t time.Time) string {
	return fmt.Sprintf("server-%s.log", t.Format("2006-01-02"))
}

func (s *Scheduler) hourlyBackup(ctx context.Context) {
	s.backup(ctx, HourlyBackupName(time.Now()))
}

func (s *Scheduler) dailyBackup(ctx context.Context) {
	s.backup(ctx, DailyBackupName(time.Now()))
}

func (s *Scheduler) weeklyBackup(ctx context.Context) {
	s.backup(ctx, WeeklyBackupName(time.Now()))
}

// backup zips the data root into backups/, excluding the backup directory
// itself. Names repeat per interval so the newest archive of each slot
// replaces the previous week's.
func (s *Scheduler) backup(ctx context.Context, name string) {
	dest := filepath.Join(s.layout.BackupsDir(), name)
	if err := storage.ZipDirectory(ctx, s.layout.Root(), dest, s.layout.BackupsDir()); err != nil {
		s.logger.Errorf("Backup %q failed: %v", name, err)
		return
	}
	s.logger.Infof("Backup written: %s", name)
}

func (s *Scheduler) rotateLog(ctx context.Context) {
	dest := filepath.Join(s.layout.LogsDir(), RotatedLogName(time.Now()))
	if err := storage.CopyFile(s.logFile, dest); err != nil {
		s.logger.Errorf("Log rotation failed: %v", err)
		return
	}
	s.logger.Infof("Log rotated to %s", filepath.Base(dest))
}

func (s *Scheduler) warmCaches(ctx context.Context) {
	for _, w := range s.warmers {
		if err := w.WarmUp(ctx); err != nil {
			s.logger.Errorf("Cache warm-up failed: %v", err)
		}
	}
}
