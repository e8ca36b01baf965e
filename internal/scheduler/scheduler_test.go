package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/invigo-mfg/invigo-server/internal/storage"
	"github.com/invigo-mfg/invigo-server/pkg/config"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

func TestBackupNames(t *testing.T) {
	at := time.Date(2026, time.September, 1, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, "Hourly Backup - 03 PM.zip", HourlyBackupName(at))
	assert.Equal(t, "Daily Backup - 01 September.zip", DailyBackupName(at))
	assert.Equal(t, "Weekly Backup - 36.zip", WeeklyBackupName(at))
	assert.Equal(t, "server-2026-09-01.log", RotatedLogName(at))
}

func TestBackupNameMorning(t *testing.T) {
	at := time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "Hourly Backup - 09 AM.zip", HourlyBackupName(at))
}

type countingWarmer struct {
	calls atomic.Int64
}

func (w *countingWarmer) WarmUp(ctx context.Context) error {
	w.calls.Add(1)
	return nil
}

func TestWarmersRunOnInterval(t *testing.T) {
	t.Setenv("DATA_PATH", t.TempDir())
	cfg, err := config.Load()
	assert.NoError(t, err)

	s := New(storage.NewLayout(cfg), cfg.LogFile(), 20*time.Millisecond, logger.NewNop())
	warmer := &countingWarmer{}
	s.AddWarmer(warmer)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return warmer.calls.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}
