package webhook

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-tracker-sync/internal/middleware"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
	"github.com/noah-isme/student-tracker-sync/pkg/jobs"
)

const testSecret = "s3cret"

type queueStub struct {
	entries []models.PendingCommit
	err     error
}

func (q *queueStub) InsertBatch(_ context.Context, entries []models.PendingCommit) error {
	if q.err != nil {
		return q.err
	}
	q.entries = append(q.entries, entries...)
	return nil
}

func newRouter(queue *queueStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/", middleware.GitHubSignature(testSecret))
	NewHandler(queue, nil, nil).Register(group)
	return r
}

func deliver(r http.Handler, event string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)
	if signature != "" {
		req.Header.Set(middleware.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signed(body []byte) string {
	return middleware.Sign([]byte(testSecret), body)
}

const pushBody = `{
  "ref": "refs/heads/main",
  "repository": {"name": "level2-module3-adal"},
  "pusher": {"name": "adal"},
  "sender": {"login": "AdaL"},
  "commits": [
    {"id": "a1", "message": "Add game loop\n\nLonger description", "timestamp": "2024-03-14T13:05:00-07:00"},
    {"id": "a2", "message": "   ", "timestamp": "2024-03-14T13:06:00-07:00"},
    {"id": "a3", "message": "Fix collision", "timestamp": "2024-03-14T20:10:00Z"}
  ]
}`

func TestReceivePushQueuesCommits(t *testing.T) {
	queue := &queueStub{}
	body := []byte(pushBody)

	w := deliver(newRouter(queue), "push", body, signed(body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"queued":2}}`, w.Body.String())
	require.Len(t, queue.entries, 2)
	assert.Equal(t, models.PendingCommit{
		GitUser:    "AdaL",
		RepoName:   "level2-module3-adal",
		CommitDate: "2024-03-14T20:05:00Z",
		Comments:   "Add game loop",
	}, queue.entries[0])
	assert.Equal(t, "2024-03-14T20:10:00Z", queue.entries[1].CommitDate)
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	queue := &queueStub{}
	body := []byte(pushBody)

	for _, sig := range []string{"", "sha256=00", middleware.Sign([]byte("other"), body)} {
		w := deliver(newRouter(queue), "push", body, sig)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	assert.Empty(t, queue.entries)
}

func TestReceivePingAndOtherEvents(t *testing.T) {
	r := newRouter(&queueStub{})
	body := []byte(`{"zen":"Keep it logically awesome."}`)

	ping := deliver(r, "ping", body, signed(body))
	assert.Equal(t, http.StatusOK, ping.Code)

	other := deliver(r, "issues", body, signed(body))
	assert.Equal(t, http.StatusAccepted, other.Code)
	assert.Contains(t, other.Body.String(), `"ignored"`)
}

func TestReceiveInvalidPush(t *testing.T) {
	r := newRouter(&queueStub{})

	for _, raw := range []string{
		`{"repository": {"name": ""}, "sender": {"login": "adal"}, "commits": []}`,
		`{"repository": {"name": "r"}, "sender": {"login": "adal"}, "commits": [{"id": "x", "message": "m"}]}`,
		`{"repository": {"name": "r"}, "commits": []}`,
		`not json`,
	} {
		body := []byte(raw)
		w := deliver(r, "push", body, signed(body))
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
	}
}

func TestReceiveQueueFailure(t *testing.T) {
	body := []byte(pushBody)
	w := deliver(newRouter(&queueStub{err: errors.New("database is locked")}), "push", body, signed(body))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNormalizeTimestamp(t *testing.T) {
	assert.Equal(t, "2024-03-15T02:30:00Z", normalizeTimestamp("2024-03-14T19:30:00-07:00"))
	assert.Equal(t, "2024-03-14", normalizeTimestamp(" 2024-03-14 "))
}

type flakyStore struct {
	mu      sync.Mutex
	fails   int
	entries []models.PendingCommit
}

func (s *flakyStore) Insert(_ context.Context, p models.PendingCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("database is locked")
	}
	s.entries = append(s.entries, p)
	return nil
}

func TestAsyncQueueRetriesWrites(t *testing.T) {
	store := &flakyStore{fails: 1}
	queue := NewAsyncQueue(store, jobs.QueueConfig{Workers: 1, RetryDelay: time.Millisecond})
	queue.Start(context.Background())

	r := gin.New()
	NewHandler(queue, nil, nil).Register(r.Group("/", middleware.GitHubSignature(testSecret)))
	body := []byte(pushBody)
	w := deliver(r, "push", body, signed(body))
	require.Equal(t, http.StatusOK, w.Code)

	queue.Stop()
	assert.Len(t, store.entries, 2)

	err := queue.InsertBatch(context.Background(), []models.PendingCommit{{GitUser: "adal"}})
	assert.True(t, appErrors.IsTransient(err))
}

type blockingStore struct {
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	entries []models.PendingCommit
}

func (s *blockingStore) Insert(_ context.Context, p models.PendingCommit) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, p)
	return nil
}

func TestReceivePushQueuesNothingWhenBatchDoesNotFit(t *testing.T) {
	store := &blockingStore{started: make(chan struct{}, 1), release: make(chan struct{})}
	queue := NewAsyncQueue(store, jobs.QueueConfig{Workers: 1, BufferSize: 2, RetryDelay: time.Millisecond})
	queue.Start(context.Background())

	require.NoError(t, queue.InsertBatch(context.Background(), []models.PendingCommit{{GitUser: "busy", CommitDate: "1"}}))
	<-store.started
	require.NoError(t, queue.InsertBatch(context.Background(), []models.PendingCommit{{GitUser: "busy", CommitDate: "2"}}))

	r := gin.New()
	NewHandler(queue, nil, nil).Register(r.Group("/", middleware.GitHubSignature(testSecret)))
	body := []byte(pushBody)
	w := deliver(r, "push", body, signed(body))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	close(store.release)
	queue.Stop()
	assert.Len(t, store.entries, 2)
	for _, e := range store.entries {
		assert.Equal(t, "busy", e.GitUser)
	}
}
