package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-tracker-sync/internal/models"
)

var attendanceRowColumns = []string{
	"client_id", "visit_id", "service_date", "service_time", "event_name", "teacher_names", "service_category",
	"state", "class_level", "comments", "repo_name", "git_description", "github_name", "first_name", "last_name",
}

func TestAttendanceRepositoryListSince(t *testing.T) {
	gw, mock := newMockGateway(t)
	repo := NewAttendanceRepository(gw)

	rows := sqlmock.NewRows(attendanceRowColumns).
		AddRow(5, 100, "2024-03-09", "10:00", "2@CV-Sat-10", "Jane Smith", "class java", "completed", "2", nil, nil, nil, "ada-codes", "Ada", "Lee").
		AddRow(5, 90, "2024-03-02", "10:00", "2@CV-Sat-10", "Jane Smith", "class java", "completed", "2", "added loop", "level2-module1-ada", nil, "ada-codes", "Ada", "Lee")
	mock.ExpectQuery(`WHERE a.service_date >= \? ORDER BY a.client_id ASC, a.service_date DESC, a.visit_id ASC`).
		WithArgs("2024-03-03").
		WillReturnRows(rows)

	events, err := repo.ListSince(context.Background(), "2024-03-03")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AttendanceCompleted, events[0].State)
	assert.Nil(t, events[0].Comments)
	assert.Equal(t, "added loop", events[1].CommentText())
	assert.Equal(t, "Ada Lee", events[1].StudentName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryEarliestCompletedForLevel(t *testing.T) {
	gw, mock := newMockGateway(t)
	repo := NewAttendanceRepository(gw)

	mock.ExpectQuery(`SELECT MIN\(service_date\) FROM attendance`).
		WithArgs(5, models.AttendanceCompleted, "2", "2").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow("2023-10-07"))
	mock.ExpectQuery(`SELECT MIN\(service_date\) FROM attendance`).
		WithArgs(5, models.AttendanceCompleted, "3", "3").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))

	first, err := repo.EarliestCompletedForLevel(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.Equal(t, "2023-10-07", first)

	first, err = repo.EarliestCompletedForLevel(context.Background(), 5, 3)
	require.NoError(t, err)
	assert.Empty(t, first)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryDeleteRegisteredBefore(t *testing.T) {
	gw, mock := newMockGateway(t)
	repo := NewAttendanceRepository(gw)

	mock.ExpectExec(`DELETE FROM attendance WHERE state = \? AND service_date < \?`).
		WithArgs(models.AttendanceRegistered, "2024-03-10").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteRegisteredBefore(context.Background(), "2024-03-10")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestAttendanceRepositoryStateOnDate(t *testing.T) {
	gw, mock := newMockGateway(t)
	repo := NewAttendanceRepository(gw)

	mock.ExpectQuery(`SELECT state FROM attendance WHERE client_id = \? AND service_date = \? AND state <> \?`).
		WithArgs(5, "2024-03-09", models.AttendanceCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("registered"))

	state, err := repo.StateOnDate(context.Background(), 5, "2024-03-09")
	require.NoError(t, err)
	assert.Equal(t, "registered", state)
}

func TestAttendanceRepositoryUpdateComments(t *testing.T) {
	gw, mock := newMockGateway(t)
	repo := NewAttendanceRepository(gw)

	mock.ExpectExec(`UPDATE attendance SET comments = \?, repo_name = \?`).
		WithArgs("fixed bug", "level2-module3-ada", 5, "2024-03-09", models.AttendanceCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateComments(context.Background(), 5, "2024-03-09", "fixed bug", "level2-module3-ada"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
