package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/lookup"
	"github.com/noah-isme/student-tracker-sync/internal/models"
)

const (
	maxCommentLength = 150
	maxRepoLength    = 50
	// StatusUnmatched tags a pending commit whose student has no booking on the commit date.
	StatusUnmatched = "unmatched"
)

type pendingStore interface {
	List(ctx context.Context) ([]models.PendingCommit, error)
	ClearTags(ctx context.Context) error
	Tag(ctx context.Context, id int64, gotGit, status string) error
	Delete(ctx context.Context, id int64) error
}

type commentStore interface {
	ListCompletedForHandle(ctx context.Context, handle, date string) ([]models.AttendanceEvent, error)
	StateOnDate(ctx context.Context, clientID int, date string) (string, error)
	UpdateComments(ctx context.Context, clientID int, date, comments, repo string) error
}

type handleLookup interface {
	FindByGithub(ctx context.Context, handle string) ([]models.Student, error)
}

type moduleTracking interface {
	Track(ctx context.Context, clientID int, repo string) error
}

// PendingStats counts the outcome of one matcher pass.
type PendingStats struct {
	Matched  int
	Rejected int
	Tagged   int
	Failed   int
}

// PendingMatcher drains the pending-commit queue into attendance comments.
type PendingMatcher struct {
	pending    pendingStore
	attendance commentStore
	students   handleLookup
	modules    moduleTracking
	tables     *lookup.Tables
	diag       diagnostics.Recorder
	clock      Clock
	windowDays int
	logger     *zap.Logger
}

// NewPendingMatcher constructs the matcher. Entries older than windowDays are discarded.
func NewPendingMatcher(pending pendingStore, attendance commentStore, students handleLookup, modules moduleTracking,
	tables *lookup.Tables, diag diagnostics.Recorder, clock Clock, windowDays int, logger *zap.Logger) *PendingMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if diag == nil {
		diag = diagnostics.Multi{}
	}
	return &PendingMatcher{
		pending:    pending,
		attendance: attendance,
		students:   students,
		modules:    modules,
		tables:     tables,
		diag:       diag,
		clock:      clock,
		windowDays: windowDays,
		logger:     logger,
	}
}

// Run makes one full pass over the queue. Tags are recomputed from scratch.
func (m *PendingMatcher) Run(ctx context.Context) (PendingStats, error) {
	var stats PendingStats
	entries, err := m.pending.List(ctx)
	if err != nil {
		return stats, err
	}
	if err := m.pending.ClearTags(ctx); err != nil {
		return stats, err
	}
	since := m.clock.DaysFromToday(-m.windowDays)

	for _, entry := range entries {
		if err := m.process(ctx, entry, since, &stats); err != nil {
			stats.Failed++
			m.diag.Record(ctx, diagnostics.Diagnostic{
				Code:    diagnostics.PendingGithubDBError,
				Student: entry.GitUser,
				Message: err.Error(),
			})
		}
	}
	if stats.Matched > 0 {
		m.logger.Info("pending commits processed", zap.Int("matched", stats.Matched))
	}
	return stats, nil
}

func (m *PendingMatcher) process(ctx context.Context, entry models.PendingCommit, since string, stats *PendingStats) error {
	handle := strings.ToLower(strings.TrimSpace(entry.GitUser))
	date := m.commitDate(entry.CommitDate)

	if date < since || (m.tables != nil && m.tables.IsExcludedHandle(handle)) {
		stats.Rejected++
		return m.pending.Delete(ctx, entry.PrimaryID)
	}

	events, err := m.attendance.ListCompletedForHandle(ctx, handle, date)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		comments := appendComment(events[0].CommentText(), entry.Comments)
		repo := truncate(strings.TrimSpace(entry.RepoName), maxRepoLength)

		seen := make(map[int]bool)
		for _, e := range events {
			if seen[e.ClientID] {
				continue
			}
			seen[e.ClientID] = true
			if err := m.attendance.UpdateComments(ctx, e.ClientID, date, comments, repo); err != nil {
				return err
			}
			if m.modules != nil {
				if err := m.modules.Track(ctx, e.ClientID, repo); err != nil {
					m.logger.Warn("module tracking failed", zap.Int("client_id", e.ClientID), zap.Error(err))
				}
			}
		}
		stats.Matched++
		return m.pending.Delete(ctx, entry.PrimaryID)
	}

	students, err := m.students.FindByGithub(ctx, handle)
	if err != nil {
		return err
	}
	stats.Tagged++
	if len(students) == 0 {
		return m.pending.Tag(ctx, entry.PrimaryID, models.PendingHandleNotFound, "")
	}
	state, err := m.attendance.StateOnDate(ctx, students[0].ClientID, date)
	if err != nil {
		return err
	}
	if state == "" {
		state = StatusUnmatched
	}
	return m.pending.Tag(ctx, entry.PrimaryID, "", state)
}

// commitDate takes the date of a queued timestamp. UTC timestamps ("...Z") are shifted into the
// sync time zone first.
func (m *PendingMatcher) commitDate(stamp string) string {
	stamp = strings.TrimSpace(stamp)
	if len(stamp) == len("2006-01-02T15:04:05Z") && strings.HasSuffix(stamp, "Z") {
		if t, err := time.Parse(time.RFC3339, stamp); err == nil {
			return m.clock.Date(t)
		}
	}
	if len(stamp) > len(time.DateOnly) {
		return stamp[:len(time.DateOnly)]
	}
	return stamp
}

// appendComment adds next on a new line unless it is already present, keeping the first 150 characters.
func appendComment(existing, next string) string {
	next = strings.TrimSpace(next)
	switch {
	case next == "":
		return truncate(existing, maxCommentLength)
	case existing == "":
		return truncate(next, maxCommentLength)
	case strings.Contains(existing, next):
		return truncate(existing, maxCommentLength)
	default:
		return truncate(existing+"\n"+next, maxCommentLength)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
