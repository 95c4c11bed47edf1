package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYNC_ATTENDANCE_DAYS", "4")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_NAME", "tracker.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "tracker.db", cfg.Database.Name)
	assert.Equal(t, 4, cfg.Sync.AttendanceDays)
	assert.Equal(t, 14, cfg.Sync.ScheduleDays)
	assert.Equal(t, 120, cfg.Sync.CourseFutureDays)
	assert.Equal(t, "2017-09-30", cfg.Sync.StartDateCutoff)
	assert.Equal(t, 2, cfg.Pike13.Attempts)

	loc, err := cfg.Sync.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", loc.String())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadRejectsBadCutoff(t *testing.T) {
	t.Setenv("SYNC_START_DATE_CUTOFF", "30/09/2017")

	_, err := Load()
	require.Error(t, err)
}
