// Package diagnostics records data-quality findings raised during a sync run.
package diagnostics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/models"
)

// Code classifies a diagnostic.
type Code string

const (
	MissingBirthdate     Code = "MISSING_BIRTHDATE"
	MissingGradYear      Code = "MISSING_GRAD_YEAR"
	MissingHomeLocation  Code = "MISSING_HOME_LOCATION"
	UnknownHomeLocation  Code = "UNKNOWN_HOME_LOCATION"
	MissingGender        Code = "MISSING_GENDER"
	MissingCurrentLevel  Code = "MISSING_CURRENT_LEVEL"
	ClassLevelMismatch   Code = "CLASS_LEVEL_MISMATCH"
	ExamScoreInvalid     Code = "EXAM_SCORE_INVALID"
	UnknownRepoName      Code = "UNKNOWN_REPO_NAME"
	StudentNotFound      Code = "STUDENT_NOT_FOUND"
	StudentDBError       Code = "STUDENT_DB_ERROR"
	AttendanceDBError    Code = "ATTENDANCE_DB_ERROR"
	ScheduleDBError      Code = "SCHEDULE_DB_ERROR"
	GraduationDBError    Code = "GRADUATION_DB_ERROR"
	PendingGithubDBError Code = "PENDING_GITHUB_DB_ERROR"
	GithubImportAborted  Code = "GITHUB_IMPORT_ABORTED"
	GithubImportFailure  Code = "GITHUB_IMPORT_FAILURE"
	Pike13ImportError    Code = "PIKE13_IMPORT_ERROR"
)

// Diagnostic is one finding about a student or an import phase.
type Diagnostic struct {
	Code     Code
	ClientID int
	Student  string
	Message  string
}

// Recorder receives diagnostics. Implementations must not fail the caller.
type Recorder interface {
	Record(ctx context.Context, d Diagnostic)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, d Diagnostic)

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, d Diagnostic) { f(ctx, d) }

// LogRecorder writes diagnostics as structured warnings.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder constructs a zap-backed recorder.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *LogRecorder) Record(_ context.Context, d Diagnostic) {
	r.logger.Warn(d.Message,
		zap.String("code", string(d.Code)),
		zap.Int("client_id", d.ClientID),
		zap.String("student", d.Student),
	)
}

type logStore interface {
	InsertLog(ctx context.Context, entry models.LogEntry) error
}

// StoreRecorder persists diagnostics to the tracker log table.
type StoreRecorder struct {
	store  logStore
	logger *zap.Logger
	now    func() time.Time
}

// NewStoreRecorder constructs a recorder over the log repository.
func NewStoreRecorder(store logStore, logger *zap.Logger, now func() time.Time) *StoreRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &StoreRecorder{store: store, logger: logger, now: now}
}

// Record implements Recorder. Store failures are logged and dropped.
func (r *StoreRecorder) Record(ctx context.Context, d Diagnostic) {
	entry := models.LogEntry{
		Code:        string(d.Code),
		ClientID:    d.ClientID,
		StudentName: d.Student,
		Message:     d.Message,
		CreatedAt:   r.now().Format(time.DateOnly),
	}
	if err := r.store.InsertLog(ctx, entry); err != nil {
		r.logger.Error("persist diagnostic", zap.String("code", string(d.Code)), zap.Error(err))
	}
}

// Multi fans a diagnostic out to every recorder.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, d Diagnostic) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, d)
		}
	}
}

// Collector keeps diagnostics in memory.
type Collector struct {
	Items []Diagnostic
}

// Record implements Recorder.
func (c *Collector) Record(_ context.Context, d Diagnostic) {
	c.Items = append(c.Items, d)
}

// Codes returns the recorded codes in order.
func (c *Collector) Codes() []Code {
	out := make([]Code, 0, len(c.Items))
	for _, d := range c.Items {
		out = append(out, d.Code)
	}
	return out
}
