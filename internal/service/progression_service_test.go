package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/models"
)

func newProgressionFixture(events ...models.AttendanceEvent) (*ProgressionService, *fakeLedger, *diagnostics.Collector) {
	ledger := newFakeLedger()
	diag := collector()
	history := newFakeAttendanceStore(nil, events...)
	return NewProgressionService(ledger, history, diag, fixedClock(), "2017-01-01", nil), ledger, diag
}

func TestProgressionRescoreAmendsLedger(t *testing.T) {
	svc, ledger, diag := newProgressionFixture()
	ledger.rows[visit{7, 2}] = models.Graduation{ClientID: 7, GradLevel: 2, Score: "80", EndDate: "2024-02-01", Acknowledged: true}

	stored := models.Student{ClientID: 7, CurrentLevel: "3", LastScore: "L2 80"}
	imported := models.Student{ClientID: 7, CurrentLevel: "3", LastScore: "L2 95"}
	plan := svc.Apply(context.Background(), stored, imported)

	assert.True(t, plan.Triggered)
	assert.Equal(t, "3", plan.Level)
	g := ledger.rows[visit{7, 2}]
	assert.Equal(t, "95", g.Score)
	assert.Equal(t, testToday, g.EndDate)
	assert.False(t, g.Acknowledged)
	assert.Empty(t, diag.Items)
}

func TestProgressionStartDateCutoff(t *testing.T) {
	svc, ledger, _ := newProgressionFixture(models.AttendanceEvent{
		ClientID: 8, VisitID: 1, ServiceDate: "2016-05-01", EventName: "4@CV Sat", State: models.AttendanceCompleted,
	})

	svc.Apply(context.Background(),
		models.Student{ClientID: 8, CurrentLevel: "4"},
		models.Student{ClientID: 8, CurrentLevel: "5", LastScore: "L4 91"},
	)

	g, ok := ledger.rows[visit{8, 4}]
	require.True(t, ok)
	assert.Empty(t, g.StartDate)
	assert.Equal(t, "91", g.Score)
}

func TestProgressionTerminalExamKeepsLevel(t *testing.T) {
	svc, ledger, _ := newProgressionFixture()

	plan := svc.Apply(context.Background(),
		models.Student{ClientID: 9, CurrentLevel: "8", LastScore: "L7 88"},
		models.Student{ClientID: 9, CurrentLevel: "8", LastScore: "AP CompA 4"},
	)

	assert.Equal(t, "8", plan.Level)
	assert.True(t, plan.ClearsModule())
	g, ok := ledger.rows[visit{9, models.LevelAPCompA}]
	require.True(t, ok)
	assert.Equal(t, "4", g.Score)
	assert.Empty(t, g.StartDate)
}

func TestProgressionLedgerFailureIsDiagnosed(t *testing.T) {
	svc, ledger, diag := newProgressionFixture()
	ledger.err = errors.New("disk full")

	svc.Apply(context.Background(),
		models.Student{ClientID: 3, FirstName: "Ada", CurrentLevel: "1"},
		models.Student{ClientID: 3, FirstName: "Ada", CurrentLevel: "2", LastScore: "L1 77"},
	)

	require.Len(t, diag.Items, 1)
	assert.Equal(t, diagnostics.GraduationDBError, diag.Items[0].Code)
	assert.Equal(t, "Ada", diag.Items[0].Student)
}

func TestProgressionNoChangeWritesNothing(t *testing.T) {
	svc, ledger, diag := newProgressionFixture()
	s := models.Student{ClientID: 1, CurrentLevel: "2", LastScore: "L1 90"}

	plan := svc.Apply(context.Background(), s, s)

	assert.False(t, plan.Triggered)
	assert.Empty(t, ledger.rows)
	assert.Empty(t, diag.Items)
}
