package pike13

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/pkg/config"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.Pike13Config{BaseURL: srv.URL, Token: "secret", Timeout: 5 * time.Second, Attempts: 2})
}

func writeRows(t *testing.T, w http.ResponseWriter, rows [][]interface{}, hasMore bool, lastKey string) {
	t.Helper()
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"attributes": map[string]interface{}{"rows": rows, "has_more": hasMore, "last_key": lastKey},
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func decodeQuery(t *testing.T, r *http.Request) reportRequest {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var req reportRequest
	require.NoError(t, json.Unmarshal(body, &req))
	return req
}

func TestClientsPagesAndNormalises(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/desk/api/v3/reports/clients/queries", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		req := decodeQuery(t, r)
		assert.Equal(t, "queries", req.Data.Type)
		assert.Equal(t, clientFields, req.Data.Attributes.Fields)

		if atomic.AddInt32(&calls, 1) == 1 {
			assert.Empty(t, req.Data.Attributes.Page.StartingAfter)
			writeRows(t, w, [][]interface{}{
				{5, "Ada", "Lee", "ada-codes (old: ada1)", "2030", "Female", "Carmel Valley", "2023-09-01", 3, 20,
					" ada@example.com\t", "", "", "8585551234", "", "", "", "2012-04-01", "2", "L1 90"},
				{6, "Guest", "Visitor", nil, nil, nil, nil, nil, 0, 0, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil},
			}, true, "k1")
			return
		}
		assert.Equal(t, "k1", req.Data.Attributes.Page.StartingAfter)
		writeRows(t, w, [][]interface{}{
			{7, "Bo", "Chen", "", "soon", "", "", "2024-01-06", 0, 1, "", "", "", "1-858-555", "", "", "", nil, "", ""},
		}, false, "")
	})

	students, err := client.Clients(context.Background(), "2024-03-03")
	require.NoError(t, err)
	require.Len(t, students, 2)

	ada := students[0]
	assert.Equal(t, 5, ada.ClientID)
	assert.Equal(t, "ada-codes", ada.GithubName)
	assert.Equal(t, 2030, ada.GradYear)
	assert.Equal(t, models.GenderFemale, ada.Gender)
	assert.Equal(t, "Carmel Valley", ada.HomeLocationName)
	assert.Equal(t, "ada@example.com", ada.Email)
	assert.Equal(t, "(858) 555-1234", ada.Phone)
	assert.Equal(t, "2", ada.CurrentLevel)
	assert.Equal(t, "L1 90", ada.LastScore)
	assert.Equal(t, 3, ada.FutureVisits)
	assert.True(t, ada.IsInMasterDB)

	bo := students[1]
	assert.Equal(t, 0, bo.GradYear)
	assert.Equal(t, models.GenderUnknown, bo.Gender)
	assert.Empty(t, bo.Birthdate)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestAttendanceDropsRowsWithoutEventOrDate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/desk/api/v3/reports/enrollments/queries", r.URL.Path)
		writeRows(t, w, [][]interface{}{
			{5, "Ada Lee", "2024-03-09", "2@CV-Sat-10", 100, "Jane Smith, TA-Sam", "class java", "completed", "10:00"},
			{5, "Ada Lee", "2024-03-10", "", 101, "", "class java", "completed", "10:00"},
			{5, "Ada Lee", "", "2@CV-Sat-10", 102, "", "class java", "registered", "10:00"},
		}, false, "")
	})

	events, err := client.Attendance(context.Background(), "2024-03-03", "2024-03-10", "2024-03-16")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 100, events[0].VisitID)
	assert.Equal(t, models.AttendanceCompleted, events[0].State)
	assert.Equal(t, "Ada Lee", events[0].FullName)
	assert.Equal(t, "Jane Smith, TA-Sam", events[0].TeacherNames)
}

func TestRetriesOnceThenReturnsTransient(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Courses(context.Background(), "2024-02-25", "2024-07-08")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrTransient)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeRows(t, w, [][]interface{}{{"3", "16:00", 90, "2@CV-Wed-4", 555}}, false, "")
	})

	entries, err := client.Schedule(context.Background(), "2024-02-25", "2024-03-16")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ScheduleEntry{ScheduleID: 555, DayOfWeek: 3, StartTime: "16:00", Duration: 90, ClassName: "2@CV-Wed-4"}, entries[0])
}

func TestStudentTAsSkipsNonNumericIDs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRows(t, w, [][]interface{}{
			{"5", "2023-06-01", 12},
			{"003A000001", "2019-01-01", 40},
			{nil, "2020-01-01", 1},
		}, false, "")
	})

	tas, err := client.StudentTAs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []TA{{ClientID: 5, SinceDate: "2023-06-01", PastEvents: 12}}, tas)
}

func TestRoomReadsCoreAPI(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v2/desk/event_occurrences", r.URL.Path)
		switch r.URL.Query().Get("ids") {
		case "555":
			_, _ = w.Write([]byte(`{"event_occurrences":[{"name":"2@Java@CV-Wed","resources":[{"name":"Room 2"},{"name":"Lab"}]}]}`))
		default:
			_, _ = w.Write([]byte(`{"event_occurrences":[{"name":"Robotics@PW","resources":[{"name":"Room 9"}]}]}`))
		}
	})

	room, err := client.Room(context.Background(), 555)
	require.NoError(t, err)
	assert.Equal(t, "Room 2, Lab", room)

	room, err = client.Room(context.Background(), 556)
	require.NoError(t, err)
	assert.Empty(t, room)
}

func TestNormalizePhones(t *testing.T) {
	cases := map[string]string{
		"8585551234":               "(858) 555-1234",
		"858-555-1234":             "(858) 555-1234",
		"858.555.1234":             "(858) 555-1234",
		"(858)555-1234":            "(858) 555-1234",
		"858 5551234":              "(858) 555-1234",
		"18585551234":              "(858) 555-1234",
		"8585551234, 858-555-9876": "(858) 555-1234, (858) 555-9876",
		"555-1234":                 "555-1234",
		"+44 20 7946 0958":         "+44 20 7946 0958",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhones(in), in)
	}
}

func TestNormalizeGithub(t *testing.T) {
	assert.Equal(t, "ada-codes", NormalizeGithub("ada-codes (was ada1)"))
	assert.Equal(t, "", NormalizeGithub(`""`))
	assert.Equal(t, "bo", NormalizeGithub(" bo "))
}
