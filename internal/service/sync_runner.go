package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/reconcile"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
	"github.com/noah-isme/student-tracker-sync/pkg/logger"
)

// Phase names in run order.
const (
	PhaseStudents   = "students"
	PhaseAttendance = "attendance"
	PhaseSchedule   = "schedule"
	PhaseCourses    = "courses"
	PhasePending    = "pending"
	PhaseGitHub     = "github"
)

// PhaseResult summarises a completed phase.
type PhaseResult struct {
	Stats     reconcile.Stats
	Processed int
}

// Phase is one independent step of a sync run.
type Phase struct {
	Name string
	Run  func(ctx context.Context) (PhaseResult, error)
	// FailureCode, when set, is recorded as a diagnostic if the phase fails.
	FailureCode diagnostics.Code
}

// RunReport lists what happened to each selected phase.
type RunReport struct {
	RunID     string
	Completed []string
	Failed    map[string]error
}

// Runner executes phases in order. A failing phase never stops the next one.
type Runner struct {
	phases   []Phase
	metrics  *MetricsService
	diag     diagnostics.Recorder
	logger   *zap.Logger
	textfile string
	newID    func() string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithMetricsTextfile writes all metrics to path after each run.
func WithMetricsTextfile(path string) RunnerOption {
	return func(r *Runner) {
		r.textfile = path
	}
}

// WithRunIDGenerator overrides the run id source.
func WithRunIDGenerator(fn func() string) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRunner constructs a runner over phases.
func NewRunner(phases []Phase, metrics *MetricsService, diag diagnostics.Recorder, log *zap.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if diag == nil {
		diag = diagnostics.Multi{}
	}
	r := &Runner{
		phases:  phases,
		metrics: metrics,
		diag:    diag,
		logger:  log,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Names returns the phase names in run order.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.phases))
	for _, p := range r.phases {
		names = append(names, p.Name)
	}
	return names
}

// Run executes the selected phases, or all of them when selected is empty.
func (r *Runner) Run(ctx context.Context, selected []string) (RunReport, error) {
	want, err := r.selection(selected)
	if err != nil {
		return RunReport{}, err
	}

	report := RunReport{RunID: r.newID(), Failed: make(map[string]error)}
	log := logger.ForRun(r.logger, report.RunID)
	log.Info("sync run started", zap.Strings("phases", selectedNames(r.phases, want)))
	started := time.Now()

	for _, phase := range r.phases {
		if !want[phase.Name] {
			continue
		}
		plog := log.With(zap.String("phase", phase.Name))
		plog.Info("phase started")
		begin := time.Now()

		result, err := phase.Run(ctx)
		elapsed := time.Since(begin)
		if err != nil {
			reason := failureReason(err)
			r.metrics.ObservePhase(phase.Name, elapsed, reason)
			report.Failed[phase.Name] = err
			if reason == "rate_limited" {
				plog.Warn("phase aborted", zap.Error(err), zap.Duration("elapsed", elapsed))
			} else {
				plog.Error("phase failed", zap.String("reason", reason), zap.Error(err), zap.Duration("elapsed", elapsed))
			}
			if phase.FailureCode != "" {
				r.diag.Record(ctx, diagnostics.Diagnostic{Code: phase.FailureCode, Message: phase.Name + ": " + err.Error()})
			}
			continue
		}

		r.metrics.ObservePhase(phase.Name, elapsed, "")
		report.Completed = append(report.Completed, phase.Name)
		plog.Info("phase completed",
			zap.Int("inserted", result.Stats.Inserted),
			zap.Int("updated", result.Stats.Updated),
			zap.Int("extra", result.Stats.Extra),
			zap.Int("failed", result.Stats.Failed),
			zap.Int("processed", result.Processed),
			zap.Duration("elapsed", elapsed),
		)
	}

	log.Info("sync run finished",
		zap.Strings("completed", report.Completed),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("elapsed", time.Since(started)),
	)
	if err := r.metrics.WriteToTextfile(r.textfile); err != nil {
		log.Warn("metrics textfile not written", zap.Error(err))
	}
	return report, nil
}

func (r *Runner) selection(selected []string) (map[string]bool, error) {
	known := make(map[string]bool, len(r.phases))
	for _, p := range r.phases {
		known[p.Name] = true
	}
	if len(selected) == 0 {
		return known, nil
	}

	want := make(map[string]bool, len(selected))
	for _, name := range selected {
		name = strings.ToLower(strings.TrimSpace(name))
		if !known[name] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown phase %q", name))
		}
		want[name] = true
	}
	return want, nil
}

func selectedNames(phases []Phase, want map[string]bool) []string {
	var names []string
	for _, p := range phases {
		if want[p.Name] {
			names = append(names, p.Name)
		}
	}
	return names
}

func failureReason(err error) string {
	switch {
	case appErrors.IsRateLimited(err):
		return "rate_limited"
	case appErrors.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

// SyncServices groups the services that make up a full run.
type SyncServices struct {
	Students   *StudentImportService
	Attendance *AttendanceImportService
	Schedule   *ScheduleImportService
	Pending    *PendingMatcher
	GitHub     *GitHubImportService
}

// Phases returns the standard phase list. Nil services are left out.
func (s SyncServices) Phases() []Phase {
	var phases []Phase
	if s.Students != nil {
		phases = append(phases, Phase{Name: PhaseStudents, FailureCode: diagnostics.Pike13ImportError, Run: statsPhase(s.Students.Run)})
	}
	if s.Attendance != nil {
		phases = append(phases, Phase{Name: PhaseAttendance, FailureCode: diagnostics.Pike13ImportError, Run: statsPhase(s.Attendance.Run)})
	}
	if s.Schedule != nil {
		phases = append(phases,
			Phase{Name: PhaseSchedule, FailureCode: diagnostics.Pike13ImportError, Run: statsPhase(s.Schedule.RunSchedule)},
			Phase{Name: PhaseCourses, FailureCode: diagnostics.Pike13ImportError, Run: statsPhase(s.Schedule.RunCourses)},
		)
	}
	if s.Pending != nil {
		phases = append(phases, Phase{Name: PhasePending, FailureCode: diagnostics.PendingGithubDBError, Run: func(ctx context.Context) (PhaseResult, error) {
			stats, err := s.Pending.Run(ctx)
			return PhaseResult{Processed: stats.Matched}, err
		}})
	}
	if s.GitHub != nil {
		phases = append(phases, Phase{Name: PhaseGitHub, Run: func(ctx context.Context) (PhaseResult, error) {
			n, err := s.GitHub.Run(ctx)
			return PhaseResult{Processed: n}, err
		}})
	}
	return phases
}

func statsPhase(run func(ctx context.Context) (reconcile.Stats, error)) func(ctx context.Context) (PhaseResult, error) {
	return func(ctx context.Context) (PhaseResult, error) {
		stats, err := run(ctx)
		return PhaseResult{Stats: stats, Processed: stats.Inserted + stats.Updated + stats.Unchanged}, err
	}
}
