package service

import (
	"cmp"
	"context"
	"database/sql"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/githubapi"
	"github.com/noah-isme/student-tracker-sync/internal/lookup"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/internal/pike13"
	"github.com/noah-isme/student-tracker-sync/internal/repository"
)

const testToday = "2024-03-15"

func fixedClock() Clock {
	return NewClock(time.UTC, func() time.Time { return time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC) })
}

func defaultTables(t *testing.T) *lookup.Tables {
	t.Helper()
	tables, err := lookup.Defaults()
	require.NoError(t, err)
	return tables
}

func strPtr(s string) *string { return &s }

// fakeStudentStore is an in-memory roster.
type fakeStudentStore struct {
	rows    map[int]models.Student
	inserts int
	updates int
}

func newFakeStudentStore(students ...models.Student) *fakeStudentStore {
	f := &fakeStudentStore{rows: make(map[int]models.Student)}
	for _, s := range students {
		f.rows[s.ClientID] = s
	}
	return f
}

func (f *fakeStudentStore) List(context.Context) ([]models.Student, error) {
	out := make([]models.Student, 0, len(f.rows))
	for _, s := range f.rows {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b models.Student) int { return cmp.Compare(a.ClientID, b.ClientID) })
	return out, nil
}

func (f *fakeStudentStore) Insert(_ context.Context, s models.Student) error {
	f.inserts++
	f.rows[s.ClientID] = s
	return nil
}

func (f *fakeStudentStore) Update(_ context.Context, s models.Student) error {
	f.updates++
	f.rows[s.ClientID] = s
	return nil
}

func (f *fakeStudentStore) SetMasterFlag(_ context.Context, id int, inMaster bool) error {
	s := f.rows[id]
	s.IsInMasterDB = inMaster
	f.rows[id] = s
	return nil
}

func (f *fakeStudentStore) FindByID(_ context.Context, id int) (*models.Student, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f *fakeStudentStore) FindByGithub(_ context.Context, handle string) ([]models.Student, error) {
	var out []models.Student
	for _, s := range f.rows {
		if s.GithubName != "" && strings.EqualFold(s.GithubName, handle) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStudentStore) ListFlagged(_ context.Context, flag repository.StudentFlag) ([]models.Student, error) {
	all, _ := f.List(context.Background())
	var out []models.Student
	for _, s := range all {
		if (flag == repository.FlagNewStudent && s.NewStudent) || (flag == repository.FlagNewGithub && s.NewGithub) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStudentStore) ClearFlag(_ context.Context, id int, flag repository.StudentFlag) error {
	s := f.rows[id]
	if flag == repository.FlagNewStudent {
		s.NewStudent = false
	} else {
		s.NewGithub = false
	}
	f.rows[id] = s
	return nil
}

func (f *fakeStudentStore) UpdateModule(_ context.Context, id int, module string) error {
	s := f.rows[id]
	s.CurrentModule = &module
	f.rows[id] = s
	return nil
}

func (f *fakeStudentStore) UpdateClassVisit(_ context.Context, id int, className, lastVisit string) error {
	s := f.rows[id]
	s.CurrentClass = className
	s.LastVisitDate = lastVisit
	f.rows[id] = s
	return nil
}

func (f *fakeStudentStore) UpdateLastVisit(_ context.Context, id int, lastVisit string) error {
	s := f.rows[id]
	s.LastVisitDate = lastVisit
	f.rows[id] = s
	return nil
}

func (f *fakeStudentStore) UpdateCurrentClass(_ context.Context, id int, className string) error {
	s := f.rows[id]
	s.CurrentClass = className
	f.rows[id] = s
	return nil
}

func (f *fakeStudentStore) ClearRegisteredClasses(context.Context) error {
	for id, s := range f.rows {
		s.RegisterClass = ""
		f.rows[id] = s
	}
	return nil
}

func (f *fakeStudentStore) UpdateRegisteredClass(_ context.Context, id int, className string) error {
	s := f.rows[id]
	s.RegisterClass = className
	f.rows[id] = s
	return nil
}

type visit struct {
	clientID int
	visitID  int
}

// fakeAttendanceStore is an in-memory attendance table joined to a roster.
type fakeAttendanceStore struct {
	rows     map[visit]models.AttendanceEvent
	students *fakeStudentStore
	writes   int
}

func newFakeAttendanceStore(students *fakeStudentStore, events ...models.AttendanceEvent) *fakeAttendanceStore {
	f := &fakeAttendanceStore{rows: make(map[visit]models.AttendanceEvent), students: students}
	for _, e := range events {
		f.rows[visit{e.ClientID, e.VisitID}] = e
	}
	return f
}

func (f *fakeAttendanceStore) selectWhere(keep func(models.AttendanceEvent) bool) []models.AttendanceEvent {
	var out []models.AttendanceEvent
	for _, e := range f.rows {
		if !keep(e) {
			continue
		}
		if f.students != nil {
			if s, ok := f.students.rows[e.ClientID]; ok {
				e.GithubName, e.FirstName, e.LastName = s.GithubName, s.FirstName, s.LastName
			}
		}
		out = append(out, e)
	}
	slices.SortFunc(out, compareAttendance)
	return out
}

func (f *fakeAttendanceStore) ListSince(_ context.Context, since string) ([]models.AttendanceEvent, error) {
	return f.selectWhere(func(e models.AttendanceEvent) bool { return e.ServiceDate >= since }), nil
}

func (f *fakeAttendanceStore) ListForClient(_ context.Context, id int, since string) ([]models.AttendanceEvent, error) {
	return f.selectWhere(func(e models.AttendanceEvent) bool { return e.ClientID == id && e.ServiceDate >= since }), nil
}

func (f *fakeAttendanceStore) ListRegisteredBetween(_ context.Context, from, to string) ([]models.AttendanceEvent, error) {
	return f.selectWhere(func(e models.AttendanceEvent) bool {
		return e.State == models.AttendanceRegistered && e.ServiceDate >= from && e.ServiceDate <= to
	}), nil
}

func (f *fakeAttendanceStore) ListCompletedForHandle(_ context.Context, handle, date string) ([]models.AttendanceEvent, error) {
	return f.selectWhere(func(e models.AttendanceEvent) bool {
		s := f.students.rows[e.ClientID]
		return e.IsCompleted() && e.ServiceDate == date && strings.EqualFold(s.GithubName, handle)
	}), nil
}

func (f *fakeAttendanceStore) ListUncommented(_ context.Context, since string) ([]models.AttendanceEvent, error) {
	return f.selectWhere(func(e models.AttendanceEvent) bool {
		s := f.students.rows[e.ClientID]
		return e.IsCompleted() && e.ServiceDate >= since && e.Comments == nil && s.GithubName != ""
	}), nil
}

func (f *fakeAttendanceStore) Insert(_ context.Context, e models.AttendanceEvent) error {
	f.writes++
	f.rows[visit{e.ClientID, e.VisitID}] = e
	return nil
}

func (f *fakeAttendanceStore) Update(_ context.Context, e models.AttendanceEvent) error {
	f.writes++
	key := visit{e.ClientID, e.VisitID}
	if e.ClassLevel == "" {
		e.ClassLevel = f.rows[key].ClassLevel
	}
	e.Comments, e.RepoName = f.rows[key].Comments, f.rows[key].RepoName
	f.rows[key] = e
	return nil
}

func (f *fakeAttendanceStore) Delete(_ context.Context, id, visitID int) error {
	f.writes++
	delete(f.rows, visit{id, visitID})
	return nil
}

func (f *fakeAttendanceStore) DeleteRegisteredBefore(_ context.Context, date string) (int64, error) {
	var n int64
	for k, e := range f.rows {
		if e.State == models.AttendanceRegistered && e.ServiceDate < date {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeAttendanceStore) EarliestCompletedForLevel(_ context.Context, id, level int) (string, error) {
	first := ""
	digit := string(rune('0' + level))
	for _, e := range f.rows {
		if e.ClientID != id || !e.IsCompleted() {
			continue
		}
		atLevel := (len(e.EventName) > 1 && e.EventName[1] == '@' && e.EventName[:1] == digit) || e.ClassLevel == digit
		if atLevel && (first == "" || e.ServiceDate < first) {
			first = e.ServiceDate
		}
	}
	return first, nil
}

func (f *fakeAttendanceStore) StateOnDate(_ context.Context, id int, date string) (string, error) {
	for _, e := range f.selectWhere(func(e models.AttendanceEvent) bool {
		return e.ClientID == id && e.ServiceDate == date && !e.IsCompleted()
	}) {
		return string(e.State), nil
	}
	return "", nil
}

func (f *fakeAttendanceStore) UpdateComments(_ context.Context, id int, date, comments, repo string) error {
	for k, e := range f.rows {
		if e.ClientID == id && e.ServiceDate == date && e.IsCompleted() {
			e.Comments, e.RepoName = strPtr(comments), strPtr(repo)
			f.rows[k] = e
		}
	}
	return nil
}

func (f *fakeAttendanceStore) MarkEmptyComments(_ context.Context, since, before string) (int64, error) {
	var n int64
	for k, e := range f.rows {
		if e.Comments == nil && e.IsCompleted() && e.ServiceDate >= since && e.ServiceDate < before {
			e.Comments = strPtr("")
			f.rows[k] = e
			n++
		}
	}
	return n, nil
}

// fakeLedger is an in-memory graduation ledger keyed by (client, level).
type fakeLedger struct {
	rows map[visit]models.Graduation
	err  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[visit]models.Graduation)}
}

func (f *fakeLedger) Record(_ context.Context, g models.Graduation) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	key := visit{g.ClientID, g.GradLevel}
	existing, ok := f.rows[key]
	if !ok {
		f.rows[key] = g
		return false, nil
	}
	existing.EndDate = g.EndDate
	existing.Acknowledged = false
	if g.Score != "" {
		existing.Score = g.Score
	}
	existing.SkipLevel = existing.SkipLevel || g.SkipLevel
	existing.Promoted = existing.Promoted || g.Promoted
	f.rows[key] = existing
	return true, nil
}

func (f *fakeLedger) ListUnacknowledged(context.Context) ([]models.Graduation, error) {
	var out []models.Graduation
	for _, g := range f.rows {
		if !g.Acknowledged {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b models.Graduation) int {
		if c := cmp.Compare(a.ClientID, b.ClientID); c != 0 {
			return c
		}
		return cmp.Compare(a.GradLevel, b.GradLevel)
	})
	return out, nil
}

func (f *fakeLedger) Acknowledge(_ context.Context, id, level int) (bool, error) {
	g, ok := f.rows[visit{id, level}]
	if !ok {
		return false, nil
	}
	g.Acknowledged = true
	f.rows[visit{id, level}] = g
	return true, nil
}

func (f *fakeLedger) PruneAcknowledged(context.Context) (int64, error) {
	var n int64
	for k, g := range f.rows {
		if g.Acknowledged {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) levels(clientID int) []int {
	var out []int
	for k := range f.rows {
		if k.clientID == clientID {
			out = append(out, k.visitID)
		}
	}
	slices.Sort(out)
	return out
}

// fakePendingStore is an in-memory pending-commit queue.
type fakePendingStore struct {
	rows []models.PendingCommit
}

func (f *fakePendingStore) List(context.Context) ([]models.PendingCommit, error) {
	return slices.Clone(f.rows), nil
}

func (f *fakePendingStore) ClearTags(context.Context) error {
	for i := range f.rows {
		f.rows[i].GotGit, f.rows[i].Status = "", ""
	}
	return nil
}

func (f *fakePendingStore) Tag(_ context.Context, id int64, gotGit, status string) error {
	for i := range f.rows {
		if f.rows[i].PrimaryID == id {
			f.rows[i].GotGit, f.rows[i].Status = gotGit, status
		}
	}
	return nil
}

func (f *fakePendingStore) Delete(_ context.Context, id int64) error {
	f.rows = slices.DeleteFunc(f.rows, func(p models.PendingCommit) bool { return p.PrimaryID == id })
	return nil
}

// fakePike13 serves canned scheduling-service snapshots.
type fakePike13 struct {
	clients    []models.Student
	tas        []pike13.TA
	attendance []models.AttendanceEvent
	byStudent  map[string][]models.AttendanceEvent
	schedule   []models.ScheduleEntry
	courses    []models.Course
	rooms      map[int]string
	err        error
}

func (f *fakePike13) Clients(context.Context, string) ([]models.Student, error) {
	return slices.Clone(f.clients), f.err
}

func (f *fakePike13) StudentTAs(context.Context) ([]pike13.TA, error) { return f.tas, f.err }

func (f *fakePike13) Attendance(context.Context, string, string, string) ([]models.AttendanceEvent, error) {
	return slices.Clone(f.attendance), f.err
}

func (f *fakePike13) StudentAttendance(_ context.Context, name, _, _ string) ([]models.AttendanceEvent, error) {
	return slices.Clone(f.byStudent[name]), f.err
}

func (f *fakePike13) Schedule(context.Context, string, string) ([]models.ScheduleEntry, error) {
	return slices.Clone(f.schedule), f.err
}

func (f *fakePike13) Courses(context.Context, string, string) ([]models.Course, error) {
	return slices.Clone(f.courses), f.err
}

func (f *fakePike13) Room(_ context.Context, id int) (string, error) { return f.rooms[id], nil }

// fakeGitHub serves canned repositories and commits.
type fakeGitHub struct {
	userRepos map[string][]githubapi.Repo
	orgRepos  map[string][]string
	commits   map[string][]githubapi.Commit
	orgCalls  int
	userErr   error
}

func (f *fakeGitHub) UserRepos(_ context.Context, user string, _ time.Time) ([]githubapi.Repo, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.userRepos[user], nil
}

func (f *fakeGitHub) OrgRepos(_ context.Context, org string) ([]string, error) {
	f.orgCalls++
	return f.orgRepos[org], nil
}

func (f *fakeGitHub) Commits(_ context.Context, owner, repo, _ string, _ time.Time) ([]githubapi.Commit, error) {
	return f.commits[owner+"/"+repo], nil
}

func collector() *diagnostics.Collector {
	return &diagnostics.Collector{}
}
