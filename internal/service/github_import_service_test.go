package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/githubapi"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

type fakeRepoCache struct {
	repos map[string][]string
}

func (c *fakeRepoCache) GetRepos(_ context.Context, org string) ([]string, error) {
	repos, ok := c.repos[org]
	if !ok {
		return nil, appErrors.ErrCacheMiss
	}
	return repos, nil
}

func (c *fakeRepoCache) SetRepos(_ context.Context, org string, repos []string) error {
	c.repos[org] = repos
	return nil
}

type githubFixture struct {
	svc        *GitHubImportService
	source     *fakeGitHub
	attendance *fakeAttendanceStore
	students   *fakeStudentStore
	diag       *diagnostics.Collector
	metrics    *MetricsService
}

func newGitHubFixture(t *testing.T, opts ...GitHubImportOption) githubFixture {
	t.Helper()
	students := newFakeStudentStore(
		models.Student{ClientID: 1, FirstName: "Ada", GithubName: "adal", CurrentLevel: "2", StartDate: "2023-01-01"},
	)
	attendance := newFakeAttendanceStore(students, javaVisit(1, 10, "2024-03-14", models.AttendanceCompleted))
	source := &fakeGitHub{
		userRepos: map[string][]githubapi.Repo{},
		orgRepos:  map[string][]string{},
		commits:   map[string][]githubapi.Commit{},
	}
	diag := collector()
	metrics := NewMetricsService()
	tracker := NewModuleTracker(students, diag, nil)
	opts = append([]GitHubImportOption{WithGitHubMetrics(metrics), WithGitHubWindow(7, 3)}, opts...)
	svc := NewGitHubImportService(source, attendance, students, tracker, diag, fixedClock(), nil, opts...)
	return githubFixture{svc: svc, source: source, attendance: attendance, students: students, diag: diag, metrics: metrics}
}

func commitAt(message string, ts string) githubapi.Commit {
	when, _ := time.Parse(time.RFC3339, ts)
	return githubapi.Commit{Message: message, When: when}
}

func TestGitHubImportFromUserRepos(t *testing.T) {
	f := newGitHubFixture(t)
	f.source.userRepos["adal"] = []githubapi.Repo{{Owner: "adal", Name: "level2-module3-game"}}
	f.source.commits["adal/level2-module3-game"] = []githubapi.Commit{
		commitAt("Add loop", "2024-03-14T20:00:00Z"),
		commitAt("Add sprites", "2024-03-14T21:00:00Z"),
		commitAt("Weekend work", "2024-03-16T10:00:00Z"),
	}

	n, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	e := f.attendance.rows[visit{1, 10}]
	assert.Equal(t, "Add loop\nAdd sprites", e.CommentText())
	assert.Equal(t, "level2-module3-game", *e.RepoName)
	assert.Equal(t, "3", f.students.rows[1].Module())
	assert.Empty(t, f.diag.Items)
}

func TestGitHubImportFromClassroomOrg(t *testing.T) {
	f := newGitHubFixture(t)
	org := "League-Level2-Student"
	f.source.orgRepos[org] = []string{"level2-module1-someone", "level2-module1-AdaL"}
	f.source.commits[org+"/level2-module1-AdaL"] = []githubapi.Commit{commitAt("Finish recipe 4", "2024-03-14T19:00:00Z")}

	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Finish recipe 4", f.attendance.rows[visit{1, 10}].CommentText())
	assert.Equal(t, 7, f.source.orgCalls)
}

func TestGitHubImportMarksVisitsWithoutCommits(t *testing.T) {
	f := newGitHubFixture(t)

	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	e := f.attendance.rows[visit{1, 10}]
	require.NotNil(t, e.Comments)
	assert.Equal(t, "", *e.Comments)
}

func TestGitHubImportUsesRepoCache(t *testing.T) {
	cache := &fakeRepoCache{repos: map[string][]string{workshopOrg: {}}}
	f := newGitHubFixture(t, WithRepoCache(cache))

	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, f.source.orgCalls)
	assert.Len(t, cache.repos, 7)

	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(6), snap.CacheMisses)
}

func TestGitHubImportAbortsOnRateLimit(t *testing.T) {
	f := newGitHubFixture(t)
	f.source.userErr = appErrors.Clone(appErrors.ErrRateLimited, "rate limit exceeded")

	_, err := f.svc.Run(context.Background())

	require.Error(t, err)
	assert.True(t, appErrors.IsRateLimited(err))
	assert.Equal(t, []diagnostics.Code{diagnostics.GithubImportAborted}, f.diag.Codes())
	assert.Nil(t, f.attendance.rows[visit{1, 10}].Comments)
	assert.Equal(t, 0, f.source.orgCalls)
}

func TestGitHubImportCatchesUpNewHandles(t *testing.T) {
	f := newGitHubFixture(t)
	s := f.students.rows[1]
	s.NewGithub = true
	f.students.rows[1] = s
	f.attendance.rows[visit{1, 5}] = javaVisit(1, 5, "2024-01-20", models.AttendanceCompleted)
	f.source.userRepos["adal"] = []githubapi.Repo{{Owner: "adal", Name: "level2-module2-recipes"}}
	f.source.commits["adal/level2-module2-recipes"] = []githubapi.Commit{commitAt("Old work", "2024-01-20T18:00:00Z")}

	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Old work", f.attendance.rows[visit{1, 5}].CommentText())
	assert.False(t, f.students.rows[1].NewGithub)
}
