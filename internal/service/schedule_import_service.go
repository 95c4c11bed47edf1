package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/lookup"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/internal/reconcile"
)

const (
	maxClassNameLength = 40
	roomClassMarker    = "@CV"
	// scheduleLookahead is how many days ahead schedule occurrences are imported.
	scheduleLookahead = 6
)

type scheduleSource interface {
	Schedule(ctx context.Context, from, to string) ([]models.ScheduleEntry, error)
	Courses(ctx context.Context, from, to string) ([]models.Course, error)
	Room(ctx context.Context, scheduleID int) (string, error)
}

type scheduleStore interface {
	List(ctx context.Context) ([]models.ScheduleEntry, error)
	Insert(ctx context.Context, e models.ScheduleEntry) error
	Update(ctx context.Context, e models.ScheduleEntry) error
	Delete(ctx context.Context, scheduleID int) error
	ListCourses(ctx context.Context) ([]models.Course, error)
	InsertCourse(ctx context.Context, c models.Course) error
	UpdateCourse(ctx context.Context, c models.Course) error
	DeleteCourse(ctx context.Context, scheduleID int) error
}

type rosterReader interface {
	List(ctx context.Context) ([]models.Student, error)
}

// ScheduleWindow bounds the schedule and course imports in days around today.
type ScheduleWindow struct {
	ScheduleDays     int
	CoursePastDays   int
	CourseFutureDays int
}

// ScheduleImportService reconciles the class schedule and the course list.
type ScheduleImportService struct {
	source   scheduleSource
	store    scheduleStore
	students rosterReader
	tables   *lookup.Tables
	diag     diagnostics.Recorder
	metrics  *MetricsService
	clock    Clock
	window   ScheduleWindow
	logger   *zap.Logger
}

// NewScheduleImportService constructs the schedule and course import.
func NewScheduleImportService(source scheduleSource, store scheduleStore, students rosterReader, tables *lookup.Tables,
	diag diagnostics.Recorder, metrics *MetricsService, clock Clock, window ScheduleWindow, logger *zap.Logger) *ScheduleImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if diag == nil {
		diag = diagnostics.Multi{}
	}
	return &ScheduleImportService{
		source:   source,
		store:    store,
		students: students,
		tables:   tables,
		diag:     diag,
		metrics:  metrics,
		clock:    clock,
		window:   window,
		logger:   logger,
	}
}

// RunSchedule fetches the schedule, derives the roster snapshot for each class and merges it.
func (s *ScheduleImportService) RunSchedule(ctx context.Context) (reconcile.Stats, error) {
	imported, err := s.source.Schedule(ctx, s.clock.DaysFromToday(-s.window.ScheduleDays), s.clock.DaysFromToday(scheduleLookahead))
	if err != nil {
		return reconcile.Stats{}, err
	}
	roster, err := s.students.List(ctx)
	if err != nil {
		return reconcile.Stats{}, err
	}
	stored, err := s.store.List(ctx)
	if err != nil {
		return reconcile.Stats{}, err
	}

	imported = reconcile.Prepare(imported, scheduleLess)
	now := s.clock.Now()
	for i := range imported {
		s.derive(ctx, &imported[i], roster, now)
	}

	stats := reconcile.Merge(ctx, imported, reconcile.Prepare(stored, scheduleLess), reconcile.Policy[models.ScheduleEntry]{
		Name: "schedule",
		Compare: func(st, im models.ScheduleEntry) reconcile.Comparison {
			return reconcile.Classify(cmp.Compare(st.ScheduleID, im.ScheduleID), func() bool { return st == im })
		},
		Insert: s.store.Insert,
		Update: func(ctx context.Context, _, im models.ScheduleEntry) error {
			return s.store.Update(ctx, im)
		},
		Extra: func(ctx context.Context, st models.ScheduleEntry) error {
			return s.store.Delete(ctx, st.ScheduleID)
		},
		OnError: func(action string, err error) {
			s.diag.Record(ctx, diagnostics.Diagnostic{Code: diagnostics.ScheduleDBError, Message: action + ": " + err.Error()})
		},
	})
	s.metrics.RecordMerge("schedule", stats)
	return stats, nil
}

// RunCourses fetches courses in the configured window and merges them.
func (s *ScheduleImportService) RunCourses(ctx context.Context) (reconcile.Stats, error) {
	imported, err := s.source.Courses(ctx, s.clock.DaysFromToday(-s.window.CoursePastDays), s.clock.DaysFromToday(s.window.CourseFutureDays))
	if err != nil {
		return reconcile.Stats{}, err
	}
	stored, err := s.store.ListCourses(ctx)
	if err != nil {
		return reconcile.Stats{}, err
	}

	less := func(a, b models.Course) bool { return a.ScheduleID < b.ScheduleID }
	stats := reconcile.Merge(ctx, reconcile.Prepare(imported, less), reconcile.Prepare(stored, less), reconcile.Policy[models.Course]{
		Name: "courses",
		Compare: func(st, im models.Course) reconcile.Comparison {
			return reconcile.Classify(cmp.Compare(st.ScheduleID, im.ScheduleID), func() bool { return st == im })
		},
		Insert: s.store.InsertCourse,
		Update: func(ctx context.Context, _, im models.Course) error {
			return s.store.UpdateCourse(ctx, im)
		},
		Extra: func(ctx context.Context, st models.Course) error {
			return s.store.DeleteCourse(ctx, st.ScheduleID)
		},
		OnError: func(action string, err error) {
			s.diag.Record(ctx, diagnostics.Diagnostic{Code: diagnostics.ScheduleDBError, Message: "course " + action + ": " + err.Error()})
		},
	})
	s.metrics.RecordMerge("courses", stats)
	return stats, nil
}

// derive fills the roster snapshot of one class occurrence.
func (s *ScheduleImportService) derive(ctx context.Context, e *models.ScheduleEntry, roster []models.Student, now time.Time) {
	className := strings.TrimSpace(e.ClassName)
	if len(className) > maxClassNameLength {
		e.ClassName = className[:maxClassNameLength]
	} else {
		e.ClassName = className
	}

	var ages []float64
	modulesSeen := make(map[string]int)
	for _, st := range roster {
		if !st.IsInMasterDB || st.CurrentClass != className {
			continue
		}
		e.NumStudents++
		if age, ok := ageOn(st.Birthdate, now); ok {
			ages = append(ages, age)
		}
		module := st.Module()
		if module == "" {
			module = "-"
		}
		modulesSeen[module]++
	}

	if len(ages) > 0 {
		var total float64
		for _, a := range ages {
			total += a
		}
		e.Youngest = formatAge(slices.Min(ages))
		e.Oldest = formatAge(slices.Max(ages))
		e.AverageAge = formatAge(total / float64(len(ages)))
	}
	e.ModuleCount = moduleBreakdown(modulesSeen)

	if strings.Contains(className, roomClassMarker) {
		room, err := s.source.Room(ctx, e.ScheduleID)
		if err != nil {
			s.logger.Warn("room lookup failed", zap.Int("schedule_id", e.ScheduleID), zap.Error(err))
		}
		e.Room = room
	}
	e.RoomMismatch = s.roomMismatch(e.Room, className)
}

// roomMismatch is true when the room has assigned levels and the class level is not one of them.
func (s *ScheduleImportService) roomMismatch(room, className string) bool {
	if room == "" || s.tables == nil || len(className) < 2 || className[1] != '@' {
		return false
	}
	levels, ok := s.tables.RoomLevels(room)
	if !ok {
		return false
	}
	return !slices.Contains(levels, className[:1])
}

func scheduleLess(a, b models.ScheduleEntry) bool {
	return a.ScheduleID < b.ScheduleID
}

// ageOn returns the age in years on now for a YYYY-MM-DD birthdate.
func ageOn(birthdate string, now time.Time) (float64, bool) {
	born, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(birthdate), now.Location())
	if err != nil || born.After(now) {
		return 0, false
	}
	return now.Sub(born).Hours() / 24 / 365.25, true
}

func formatAge(age float64) string {
	return fmt.Sprintf("%.1f", age)
}

// moduleBreakdown renders "<module>:<count>" pairs sorted by module.
func moduleBreakdown(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+strconv.Itoa(counts[k]))
	}
	return strings.Join(parts, ",")
}
