package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/githubapi"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/internal/repository"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

// Classroom organisations hold per-student copies of curriculum repositories named "<repo>-<handle>".
const (
	workshopOrg        = "League-Workshop"
	classroomOrgFormat = "League-Level%d-Student"
	maxClassroomLevel  = 5
)

type commitSource interface {
	UserRepos(ctx context.Context, user string, since time.Time) ([]githubapi.Repo, error)
	OrgRepos(ctx context.Context, org string) ([]string, error)
	Commits(ctx context.Context, owner, repo, author string, since time.Time) ([]githubapi.Commit, error)
}

type repoCache interface {
	GetRepos(ctx context.Context, org string) ([]string, error)
	SetRepos(ctx context.Context, org string, repos []string) error
}

type uncommentedStore interface {
	ListUncommented(ctx context.Context, since string) ([]models.AttendanceEvent, error)
	ListForClient(ctx context.Context, clientID int, since string) ([]models.AttendanceEvent, error)
	UpdateComments(ctx context.Context, clientID int, date, comments, repo string) error
	MarkEmptyComments(ctx context.Context, since, before string) (int64, error)
}

type flagStore interface {
	ListFlagged(ctx context.Context, flag repository.StudentFlag) ([]models.Student, error)
	ClearFlag(ctx context.Context, clientID int, flag repository.StudentFlag) error
}

// GitHubImportService fills attendance comments from commit messages.
type GitHubImportService struct {
	source        commitSource
	cache         repoCache
	attendance    uncommentedStore
	students      flagStore
	modules       moduleTracking
	diag          diagnostics.Recorder
	metrics       *MetricsService
	clock         Clock
	windowDays    int
	catchupMonths int
	logger        *zap.Logger
}

// GitHubImportOption configures the service.
type GitHubImportOption func(*GitHubImportService)

// WithRepoCache caches classroom organisation listings.
func WithRepoCache(cache repoCache) GitHubImportOption {
	return func(s *GitHubImportService) {
		s.cache = cache
	}
}

// WithGitHubMetrics records cache hits and misses.
func WithGitHubMetrics(metrics *MetricsService) GitHubImportOption {
	return func(s *GitHubImportService) {
		s.metrics = metrics
	}
}

// WithGitHubWindow sets the comment window in days and the catch-up depth in months.
func WithGitHubWindow(days, catchupMonths int) GitHubImportOption {
	return func(s *GitHubImportService) {
		s.windowDays = days
		s.catchupMonths = catchupMonths
	}
}

// NewGitHubImportService constructs the comment import.
func NewGitHubImportService(source commitSource, attendance uncommentedStore, students flagStore, modules moduleTracking,
	diag diagnostics.Recorder, clock Clock, logger *zap.Logger, opts ...GitHubImportOption) *GitHubImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if diag == nil {
		diag = diagnostics.Multi{}
	}
	svc := &GitHubImportService{
		source:        source,
		attendance:    attendance,
		students:      students,
		modules:       modules,
		diag:          diag,
		clock:         clock,
		windowDays:    7,
		catchupMonths: 3,
		logger:        logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Run catches up students with a new handle, then imports comments for the window and marks the
// window's remaining past visits processed. A rate limit aborts the remainder and is returned.
func (s *GitHubImportService) Run(ctx context.Context) (int, error) {
	updated, err := s.catchUp(ctx)
	if err != nil {
		return updated, s.abort(ctx, err)
	}

	since := s.clock.DaysFromToday(-s.windowDays)
	events, err := s.attendance.ListUncommented(ctx, since)
	if err != nil {
		return updated, err
	}
	n, err := s.importEvents(ctx, since, events)
	updated += n
	if err != nil {
		return updated, s.abort(ctx, err)
	}

	if marked, err := s.attendance.MarkEmptyComments(ctx, since, s.clock.Today()); err != nil {
		s.diag.Record(ctx, diagnostics.Diagnostic{Code: diagnostics.AttendanceDBError, Message: err.Error()})
	} else if marked > 0 {
		s.logger.Debug("visits without commits marked", zap.Int64("count", marked))
	}
	return updated, nil
}

func (s *GitHubImportService) abort(ctx context.Context, err error) error {
	if appErrors.IsRateLimited(err) {
		s.diag.Record(ctx, diagnostics.Diagnostic{Code: diagnostics.GithubImportAborted, Message: "rate limit exceeded"})
	}
	return err
}

// catchUp searches older visits of students whose handle is new, including visits already marked
// processed under a previous handle.
func (s *GitHubImportService) catchUp(ctx context.Context) (int, error) {
	flagged, err := s.students.ListFlagged(ctx, repository.FlagNewGithub)
	if err != nil {
		return 0, err
	}
	earliest := s.clock.MonthsAgo(s.catchupMonths)

	total := 0
	for _, st := range flagged {
		if st.StartDate == "" || st.GithubName == "" {
			continue
		}
		start := max(st.StartDate, earliest)

		all, err := s.attendance.ListForClient(ctx, st.ClientID, start)
		if err != nil {
			return total, err
		}
		var events []models.AttendanceEvent
		for _, e := range all {
			if e.IsCompleted() && e.CommentText() == "" {
				e.GithubName = st.GithubName
				events = append(events, e)
			}
		}

		n, err := s.importEvents(ctx, start, events)
		total += n
		if err != nil {
			return total, err
		}
		if err := s.students.ClearFlag(ctx, st.ClientID, repository.FlagNewGithub); err != nil {
			s.diag.Record(ctx, diagnostics.Diagnostic{Code: diagnostics.StudentDBError, ClientID: st.ClientID, Student: st.FullName(), Message: err.Error()})
		}
	}
	return total, nil
}

// visitKey identifies the completed visits of one client on one date.
type visitKey struct {
	clientID int
	date     string
}

type commentBatch struct {
	since   string
	byUser  map[string][]models.AttendanceEvent
	order   []string
	comment map[visitKey]string
}

func (b *commentBatch) pending(handle string) bool {
	for _, e := range b.byUser[handle] {
		if _, done := b.comment[visitKey{e.ClientID, e.ServiceDate}]; !done {
			return true
		}
	}
	return false
}

// importEvents looks for commits on the visit dates of events. Only rate limits are returned;
// other failures are recorded per handle.
func (s *GitHubImportService) importEvents(ctx context.Context, since string, events []models.AttendanceEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	batch := &commentBatch{since: since, byUser: make(map[string][]models.AttendanceEvent), comment: make(map[visitKey]string)}
	for _, e := range events {
		handle := strings.ToLower(strings.TrimSpace(e.GithubName))
		if handle == "" {
			continue
		}
		if _, ok := batch.byUser[handle]; !ok {
			batch.order = append(batch.order, handle)
		}
		batch.byUser[handle] = append(batch.byUser[handle], e)
	}
	sinceTime, err := time.ParseInLocation(time.DateOnly, since, s.clock.Location())
	if err != nil {
		return 0, fmt.Errorf("parse comment window %q: %w", since, err)
	}

	for _, handle := range batch.order {
		repos, err := s.source.UserRepos(ctx, handle, sinceTime)
		if err != nil {
			if appErrors.IsRateLimited(err) {
				return len(batch.comment), err
			}
			s.failure(ctx, batch.byUser[handle][0], handle, err)
			continue
		}
		for _, repo := range repos {
			if err := s.applyCommits(ctx, batch, handle, repo.Owner, repo.Name, sinceTime); err != nil {
				return len(batch.comment), err
			}
		}
	}

	for level := -1; level <= maxClassroomLevel; level++ {
		org := classroomOrg(level)
		repos, err := s.orgRepos(ctx, org)
		if err != nil {
			if appErrors.IsRateLimited(err) {
				return len(batch.comment), err
			}
			s.logger.Warn("classroom listing failed", zap.String("org", org), zap.Error(err))
			continue
		}
		for _, handle := range batch.order {
			if !batch.pending(handle) {
				continue
			}
			for _, name := range repos {
				if !strings.HasSuffix(strings.ToLower(name), "-"+handle) {
					continue
				}
				if err := s.applyCommits(ctx, batch, handle, org, name, sinceTime); err != nil {
					return len(batch.comment), err
				}
			}
		}
	}
	return len(batch.comment), nil
}

// applyCommits attaches commit messages to the handle's visits on matching dates.
func (s *GitHubImportService) applyCommits(ctx context.Context, batch *commentBatch, handle, owner, repo string, since time.Time) error {
	commits, err := s.source.Commits(ctx, owner, repo, "", since)
	if err != nil {
		if appErrors.IsRateLimited(err) {
			return err
		}
		if !errors.Is(err, appErrors.ErrNotFound) {
			s.failure(ctx, batch.byUser[handle][0], handle, err)
		}
		return nil
	}

	for _, c := range commits {
		date := s.clock.Date(c.When)
		if date < batch.since || c.Message == "" {
			continue
		}
		for _, e := range batch.byUser[handle] {
			if e.ServiceDate != date {
				continue
			}
			key := visitKey{e.ClientID, date}
			comments := appendComment(batch.comment[key], c.Message)
			if err := s.attendance.UpdateComments(ctx, e.ClientID, date, comments, truncate(repo, maxRepoLength)); err != nil {
				s.diag.Record(ctx, diagnostics.Diagnostic{Code: diagnostics.AttendanceDBError, ClientID: e.ClientID, Student: e.StudentName(), Message: err.Error()})
				continue
			}
			batch.comment[key] = comments
			if s.modules != nil {
				if err := s.modules.Track(ctx, e.ClientID, repo); err != nil {
					s.logger.Warn("module tracking failed", zap.Int("client_id", e.ClientID), zap.Error(err))
				}
			}
			break
		}
	}
	return nil
}

// orgRepos lists an organisation's repositories through the cache.
func (s *GitHubImportService) orgRepos(ctx context.Context, org string) ([]string, error) {
	if s.cache != nil {
		repos, err := s.cache.GetRepos(ctx, org)
		if err == nil {
			s.metrics.RecordCacheOperation(true)
			return repos, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("repository cache read failed", zap.String("org", org), zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	repos, err := s.source.OrgRepos(ctx, org)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetRepos(ctx, org, repos); err != nil {
			s.logger.Warn("repository cache write failed", zap.String("org", org), zap.Error(err))
		}
	}
	return repos, nil
}

func (s *GitHubImportService) failure(ctx context.Context, e models.AttendanceEvent, handle string, err error) {
	s.diag.Record(ctx, diagnostics.Diagnostic{
		Code:     diagnostics.GithubImportFailure,
		ClientID: e.ClientID,
		Student:  e.StudentName(),
		Message:  fmt.Sprintf("handle %q: %v", handle, err),
	})
}

func classroomOrg(level int) string {
	if level < 0 {
		return workshopOrg
	}
	return fmt.Sprintf(classroomOrgFormat, level)
}
