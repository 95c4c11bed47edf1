package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/student-tracker-sync/internal/models"
)

type fakeLogStore struct {
	entries []models.LogEntry
	err     error
}

func (f *fakeLogStore) InsertLog(_ context.Context, entry models.LogEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestStoreRecorderPersistsEntry(t *testing.T) {
	store := &fakeLogStore{}
	now := func() time.Time { return time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC) }
	rec := NewStoreRecorder(store, nil, now)

	rec.Record(context.Background(), Diagnostic{Code: MissingGender, ClientID: 7, Student: "Ada Lovelace", Message: "missing gender"})

	require.Len(t, store.entries, 1)
	assert.Equal(t, models.LogEntry{Code: "MISSING_GENDER", ClientID: 7, StudentName: "Ada Lovelace", Message: "missing gender", CreatedAt: "2024-03-10"}, store.entries[0])
}

func TestStoreRecorderSwallowsStoreErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec := NewStoreRecorder(&fakeLogStore{err: errors.New("down")}, zap.New(core), nil)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), Diagnostic{Code: StudentDBError})
	})
	assert.Equal(t, 1, logs.Len())
}

func TestLogRecorderFields(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	NewLogRecorder(zap.New(core)).Record(context.Background(), Diagnostic{Code: ExamScoreInvalid, ClientID: 3, Student: "Bo", Message: "bad score"})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "bad score", entry.Message)
	assert.Equal(t, "EXAM_SCORE_INVALID", entry.ContextMap()["code"])
	assert.Equal(t, int64(3), entry.ContextMap()["client_id"])
}

func TestMultiFansOut(t *testing.T) {
	first, second := &Collector{}, &Collector{}
	Multi{first, nil, second}.Record(context.Background(), Diagnostic{Code: StudentNotFound})

	assert.Equal(t, []Code{StudentNotFound}, first.Codes())
	assert.Equal(t, []Code{StudentNotFound}, second.Codes())
}
