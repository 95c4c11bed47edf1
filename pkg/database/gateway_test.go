package database

import (
	"context"
	"errors"
	"net"
	"regexp"
	"syscall"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

type recordingObserver struct {
	queries   []string
	recovered []bool
}

func (o *recordingObserver) ObserveDBQuery(label string, _ time.Duration) {
	o.queries = append(o.queries, label)
}

func (o *recordingObserver) RecordStoreRetry(_ string, recovered bool) {
	o.recovered = append(o.recovered, recovered)
}

func newGatewayMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func resetErr() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
}

func touch(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, "UPDATE students SET new_student = ? WHERE client_id = ?", false, 5)
	return err
}

var touchSQL = regexp.QuoteMeta("UPDATE students SET new_student = ? WHERE client_id = ?")

func TestGatewayDoSucceedsWithoutRetry(t *testing.T) {
	db, mock, cleanup := newGatewayMock(t)
	defer cleanup()
	obs := &recordingObserver{}
	gw := NewGateway(db, WithObserver(obs))

	mock.ExpectExec(touchSQL).WithArgs(false, 5).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, gw.Do(context.Background(), "students.flags", touch))
	assert.Equal(t, []string{"students.flags"}, obs.queries)
	assert.Empty(t, obs.recovered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGatewayDoRetriesOnceAfterConnectivityFailure(t *testing.T) {
	db, mock, cleanup := newGatewayMock(t)
	defer cleanup()
	obs := &recordingObserver{}
	gw := NewGateway(db, WithObserver(obs))

	mock.ExpectExec(touchSQL).WillReturnError(resetErr())
	mock.ExpectExec(touchSQL).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, gw.Do(context.Background(), "students.flags", touch))
	assert.Equal(t, []bool{true}, obs.recovered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGatewayDoAbandonsAfterSecondFailure(t *testing.T) {
	db, mock, cleanup := newGatewayMock(t)
	defer cleanup()
	gw := NewGateway(db)

	mock.ExpectExec(touchSQL).WillReturnError(resetErr())
	mock.ExpectExec(touchSQL).WillReturnError(resetErr())

	err := gw.Do(context.Background(), "students.flags", touch)
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGatewayDoDoesNotRetryDuplicateKey(t *testing.T) {
	db, mock, cleanup := newGatewayMock(t)
	defer cleanup()
	gw := NewGateway(db)

	mock.ExpectExec(touchSQL).WillReturnError(&pq.Error{Code: "23505"})

	err := gw.Do(context.Background(), "students.flags", touch)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, appErrors.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGatewayDoSwapsPoolOnReconnect(t *testing.T) {
	first, firstMock, cleanupFirst := newGatewayMock(t)
	defer cleanupFirst()
	second, secondMock, cleanupSecond := newGatewayMock(t)
	defer cleanupSecond()

	reconnects := 0
	gw := NewGateway(first, WithReconnector(func(ctx context.Context) (*sqlx.DB, error) {
		reconnects++
		return second, nil
	}))

	firstMock.ExpectExec(touchSQL).WillReturnError(resetErr())
	firstMock.ExpectClose()
	secondMock.ExpectExec(touchSQL).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, gw.Do(context.Background(), "students.flags", touch))
	assert.Equal(t, 1, reconnects)
	assert.Same(t, second, gw.DB())
	assert.NoError(t, firstMock.ExpectationsWereMet())
	assert.NoError(t, secondMock.ExpectationsWereMet())
}

func TestGatewayDoReportsReconnectFailure(t *testing.T) {
	db, mock, cleanup := newGatewayMock(t)
	defer cleanup()
	gw := NewGateway(db, WithReconnector(func(ctx context.Context) (*sqlx.DB, error) {
		return nil, errors.New("dial tcp: connection refused")
	}))

	mock.ExpectExec(touchSQL).WillReturnError(resetErr())

	err := gw.Do(context.Background(), "students.flags", touch)
	assert.True(t, appErrors.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(resetErr()))
	assert.True(t, IsConnectionError(&pq.Error{Code: "08006"}))
	assert.False(t, IsConnectionError(&pq.Error{Code: "23505"}))
	assert.False(t, IsConnectionError(errors.New("syntax error")))
	assert.False(t, IsConnectionError(nil))
}
