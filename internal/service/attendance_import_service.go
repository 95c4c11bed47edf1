package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/lookup"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/internal/reconcile"
	"github.com/noah-isme/student-tracker-sync/internal/repository"
)

// LeaveOfAbsence replaces the current class of a student whose latest visit is a leave booking.
const LeaveOfAbsence = "LOA"

// registeredLookahead is how far ahead registrations are imported and scanned for the next class.
const registeredLookahead = 7

var errStudentNotFound = errors.New("student not found")

type attendanceSource interface {
	Attendance(ctx context.Context, from, to, registeredUntil string) ([]models.AttendanceEvent, error)
	StudentAttendance(ctx context.Context, fullName, from, to string) ([]models.AttendanceEvent, error)
}

type attendanceStore interface {
	ListSince(ctx context.Context, since string) ([]models.AttendanceEvent, error)
	ListForClient(ctx context.Context, clientID int, since string) ([]models.AttendanceEvent, error)
	ListRegisteredBetween(ctx context.Context, from, to string) ([]models.AttendanceEvent, error)
	Insert(ctx context.Context, e models.AttendanceEvent) error
	Update(ctx context.Context, e models.AttendanceEvent) error
	Delete(ctx context.Context, clientID, visitID int) error
	DeleteRegisteredBefore(ctx context.Context, date string) (int64, error)
}

type visitStore interface {
	List(ctx context.Context) ([]models.Student, error)
	ListFlagged(ctx context.Context, flag repository.StudentFlag) ([]models.Student, error)
	ClearFlag(ctx context.Context, clientID int, flag repository.StudentFlag) error
	UpdateClassVisit(ctx context.Context, clientID int, className, lastVisit string) error
	UpdateLastVisit(ctx context.Context, clientID int, lastVisit string) error
	UpdateCurrentClass(ctx context.Context, clientID int, className string) error
	ClearRegisteredClasses(ctx context.Context) error
	UpdateRegisteredClass(ctx context.Context, clientID int, className string) error
}

// AttendanceImportService reconciles attendance and keeps the roster's visit bookkeeping current.
type AttendanceImportService struct {
	source        attendanceSource
	store         attendanceStore
	students      visitStore
	tables        *lookup.Tables
	diag          diagnostics.Recorder
	metrics       *MetricsService
	clock         Clock
	windowDays    int
	catchupMonths int
	logger        *zap.Logger
}

// AttendanceImportOption configures the service.
type AttendanceImportOption func(*AttendanceImportService)

// WithAttendanceWindow sets the stored window in days and the catch-up depth in months.
func WithAttendanceWindow(days, catchupMonths int) AttendanceImportOption {
	return func(s *AttendanceImportService) {
		s.windowDays = days
		s.catchupMonths = catchupMonths
	}
}

// WithAttendanceMetrics records merge decisions.
func WithAttendanceMetrics(metrics *MetricsService) AttendanceImportOption {
	return func(s *AttendanceImportService) {
		s.metrics = metrics
	}
}

// NewAttendanceImportService constructs the attendance import with a seven-day window and three
// months of catch-up.
func NewAttendanceImportService(source attendanceSource, store attendanceStore, students visitStore, tables *lookup.Tables,
	diag diagnostics.Recorder, clock Clock, logger *zap.Logger, opts ...AttendanceImportOption) *AttendanceImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if diag == nil {
		diag = diagnostics.Multi{}
	}
	svc := &AttendanceImportService{
		source:        source,
		store:         store,
		students:      students,
		tables:        tables,
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

// Run imports the window, catches up new students, expires stale bookings and refreshes classes.
func (s *AttendanceImportService) Run(ctx context.Context) (reconcile.Stats, error) {
	today := s.clock.Today()
	since := s.clock.DaysFromToday(-s.windowDays)

	imported, err := s.source.Attendance(ctx, since, today, s.clock.DaysFromToday(registeredLookahead-1))
	if err != nil {
		return reconcile.Stats{}, err
	}
	roster, err := s.loadRoster(ctx)
	if err != nil {
		return reconcile.Stats{}, err
	}
	stored, err := s.store.ListSince(ctx, since)
	if err != nil {
		return reconcile.Stats{}, err
	}

	stats := s.Merge(ctx, imported, stored, roster, true)
	s.metrics.RecordMerge("attendance", stats)

	if err := s.catchUp(ctx, since, roster); err != nil {
		s.logger.Warn("attendance catch-up failed", zap.Error(err))
	}

	expired, err := s.store.DeleteRegisteredBefore(ctx, today)
	if err != nil {
		s.diag.Record(ctx, diagnostics.Diagnostic{Code: diagnostics.AttendanceDBError, Message: err.Error()})
	} else if expired > 0 {
		s.logger.Info("expired registrations removed", zap.Int64("count", expired))
	}

	if err := s.refreshClasses(ctx, roster); err != nil {
		s.diag.Record(ctx, diagnostics.Diagnostic{Code: diagnostics.StudentDBError, Message: err.Error()})
	}
	return stats, nil
}

func (s *AttendanceImportService) loadRoster(ctx context.Context) (map[int]*models.Student, error) {
	list, err := s.students.List(ctx)
	if err != nil {
		return nil, err
	}
	roster := make(map[int]*models.Student, len(list))
	for i := range list {
		roster[list[i].ClientID] = &list[i]
	}
	return roster, nil
}

// Merge reconciles imported events against stored ones. deleteCancelled enables the extra policy
// that drops future class registrations missing from the import.
func (s *AttendanceImportService) Merge(ctx context.Context, imported, stored []models.AttendanceEvent,
	roster map[int]*models.Student, deleteCancelled bool) reconcile.Stats {
	today := s.clock.Today()

	for i := range imported {
		imported[i].EventName = strings.TrimSpace(imported[i].EventName)
		imported[i].TeacherNames = s.teacherNames(imported[i].TeacherNames)
	}
	imported = reconcile.Prepare(imported, attendanceLess)
	stored = reconcile.Prepare(stored, attendanceLess)

	failed := func(action string, e models.AttendanceEvent, err error) {
		name := e.StudentName()
		if errors.Is(err, errStudentNotFound) {
			s.diag.Record(ctx, diagnostics.Diagnostic{
				Code:     diagnostics.StudentNotFound,
				ClientID: e.ClientID,
				Student:  name,
				Message:  fmt.Sprintf("%s on %s", e.EventName, e.ServiceDate),
			})
			return
		}
		s.diag.Record(ctx, diagnostics.Diagnostic{
			Code:     diagnostics.AttendanceDBError,
			ClientID: e.ClientID,
			Student:  name,
			Message:  action + ": " + err.Error(),
		})
	}

	policy := reconcile.Policy[models.AttendanceEvent]{
		Name: "attendance",
		Compare: func(st, im models.AttendanceEvent) reconcile.Comparison {
			return reconcile.Classify(compareAttendance(st, im), func() bool {
				return !attendanceChanged(st, im)
			})
		},
		Insert: func(ctx context.Context, im models.AttendanceEvent) error {
			student, ok := roster[im.ClientID]
			if !ok {
				failed("insert", im, errStudentNotFound)
				return errStudentNotFound
			}
			im.ClassLevel = s.classLevel(im, student, today, true)
			if err := s.store.Insert(ctx, im); err != nil {
				failed("insert", im, err)
				return err
			}
			s.recordVisit(ctx, im, student, today)
			return nil
		},
		Update: func(ctx context.Context, st, im models.AttendanceEvent) error {
			student, ok := roster[im.ClientID]
			if !ok {
				failed("update", im, errStudentNotFound)
				return errStudentNotFound
			}
			im.ClassLevel = s.classLevel(im, student, today, !st.IsCompleted())
			if err := s.store.Update(ctx, im); err != nil {
				failed("update", im, err)
				return err
			}
			s.recordVisit(ctx, im, student, today)
			return nil
		},
		Extra: func(ctx context.Context, st models.AttendanceEvent) error {
			if !deleteCancelled || st.State != models.AttendanceRegistered || !st.IsClass() || st.ServiceDate < today {
				return nil
			}
			if err := s.store.Delete(ctx, st.ClientID, st.VisitID); err != nil {
				failed("delete", st, err)
				return err
			}
			s.logger.Debug("cancelled registration removed",
				zap.Int("client_id", st.ClientID), zap.Int("visit_id", st.VisitID), zap.String("date", st.ServiceDate))
			return nil
		},
	}
	return reconcile.Merge(ctx, imported, stored, policy)
}

// classLevel snapshots the student's level onto completed class visits. transition is false for
// updates of events that were already completed.
func (s *AttendanceImportService) classLevel(e models.AttendanceEvent, student *models.Student, today string, transition bool) string {
	if !transition || !e.IsCompleted() || e.ServiceDate > today {
		return ""
	}
	if s.isJavaClass(e.EventName) {
		return student.CurrentLevel
	}
	if strings.HasPrefix(e.ServiceCategory, "class ") {
		if n, ok := student.LevelNumber(); ok && n <= models.MaxClassLevel {
			return student.CurrentLevel
		}
	}
	return ""
}

// recordVisit moves the student's last-visit bookkeeping forward for a completed visit.
func (s *AttendanceImportService) recordVisit(ctx context.Context, e models.AttendanceEvent, student *models.Student, today string) {
	if !e.IsCompleted() || e.ServiceDate > today {
		return
	}
	newer := student.LastVisitDate == "" || student.LastVisitDate < e.ServiceDate

	if strings.EqualFold(e.ServiceCategory, "class java") && !strings.HasPrefix(e.EventName, "EL@") {
		levelDigit := byte('0')
		if student.CurrentLevel == "" {
			s.diag.Record(ctx, diagnostics.Diagnostic{
				Code:     diagnostics.MissingCurrentLevel,
				ClientID: student.ClientID,
				Student:  student.FullName(),
				Message:  "assuming level 0",
			})
		} else {
			levelDigit = student.CurrentLevel[0]
		}

		if newer {
			if err := s.students.UpdateClassVisit(ctx, student.ClientID, e.EventName, e.ServiceDate); err != nil {
				s.visitFailed(ctx, student, err)
			} else {
				student.CurrentClass = e.EventName
				student.LastVisitDate = e.ServiceDate
			}
		}

		if strings.HasPrefix(e.EventName, "Java") && (levelDigit < '0' || levelDigit > '8') {
			s.diag.Record(ctx, diagnostics.Diagnostic{
				Code:     diagnostics.ClassLevelMismatch,
				ClientID: student.ClientID,
				Student:  student.FullName(),
				Message:  fmt.Sprintf("%s on %s, level %s", e.EventName, e.ServiceDate, student.CurrentLevel),
			})
		}
		return
	}

	if !newer {
		return
	}
	if strings.Contains(strings.ToLower(e.EventName), "leave") {
		if err := s.students.UpdateCurrentClass(ctx, student.ClientID, LeaveOfAbsence); err != nil {
			s.visitFailed(ctx, student, err)
			return
		}
		student.CurrentClass = LeaveOfAbsence
		s.logger.Info("student on leave", zap.Int("client_id", student.ClientID), zap.String("date", e.ServiceDate))
		return
	}
	if err := s.students.UpdateLastVisit(ctx, student.ClientID, e.ServiceDate); err != nil {
		s.visitFailed(ctx, student, err)
		return
	}
	student.LastVisitDate = e.ServiceDate
}

func (s *AttendanceImportService) visitFailed(ctx context.Context, student *models.Student, err error) {
	s.diag.Record(ctx, diagnostics.Diagnostic{
		Code:     diagnostics.StudentDBError,
		ClientID: student.ClientID,
		Student:  student.FullName(),
		Message:  err.Error(),
	})
}

// catchUp imports older attendance for students added since the last run.
func (s *AttendanceImportService) catchUp(ctx context.Context, until string, roster map[int]*models.Student) error {
	flagged, err := s.students.ListFlagged(ctx, repository.FlagNewStudent)
	if err != nil {
		return err
	}
	earliest := s.clock.MonthsAgo(s.catchupMonths)

	for _, st := range flagged {
		if st.StartDate == "" || st.StartDate >= until {
			continue
		}
		from := max(st.StartDate, earliest)

		events, err := s.source.StudentAttendance(ctx, st.FullName(), from, until)
		if err != nil {
			return err
		}
		stored, err := s.store.ListForClient(ctx, st.ClientID, from)
		if err != nil {
			return err
		}
		stats := s.Merge(ctx, events, stored, roster, false)
		s.metrics.RecordMerge("attendance_catchup", stats)

		if err := s.students.ClearFlag(ctx, st.ClientID, repository.FlagNewStudent); err != nil {
			s.visitFailed(ctx, &st, err)
			continue
		}
		s.logger.Info("attendance caught up",
			zap.Int("client_id", st.ClientID), zap.String("from", from), zap.Int("inserted", stats.Inserted))
	}
	return nil
}

// refreshClasses recomputes registered classes and fills empty current classes from upcoming bookings.
func (s *AttendanceImportService) refreshClasses(ctx context.Context, roster map[int]*models.Student) error {
	today := s.clock.Today()
	if err := s.students.ClearRegisteredClasses(ctx); err != nil {
		return err
	}
	upcoming, err := s.store.ListRegisteredBetween(ctx, today, s.clock.DaysFromToday(registeredLookahead))
	if err != nil {
		return err
	}
	slices.SortStableFunc(upcoming, func(a, b models.AttendanceEvent) int {
		if c := cmp.Compare(a.ClientID, b.ClientID); c != 0 {
			return c
		}
		return cmp.Compare(a.ServiceDate, b.ServiceDate)
	})

	registered := make(map[int]bool)
	filled := make(map[int]bool)
	for _, e := range upcoming {
		student, ok := roster[e.ClientID]
		if !ok {
			continue
		}
		name := strings.TrimSpace(e.EventName)

		if !registered[e.ClientID] && strings.HasPrefix(name, "Java") && name != student.CurrentClass {
			registered[e.ClientID] = true
			if err := s.students.UpdateRegisteredClass(ctx, e.ClientID, name); err != nil {
				s.visitFailed(ctx, student, err)
			} else {
				student.RegisterClass = name
			}
		}

		if !filled[e.ClientID] && student.CurrentClass == "" {
			filled[e.ClientID] = true
			if err := s.students.UpdateCurrentClass(ctx, e.ClientID, name); err != nil {
				s.visitFailed(ctx, student, err)
			} else {
				student.CurrentClass = name
			}
		}
	}
	return nil
}

// teacherNames drops administrative placeholders and falls back to the TA list when no teacher remains.
func (s *AttendanceImportService) teacherNames(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	parts := strings.Split(raw, ",")
	var teachers, tas []string
	for _, p := range parts {
		name := strings.TrimSpace(p)
		if name == "" {
			continue
		}
		if strings.HasPrefix(name, "TA-") {
			tas = append(tas, name)
			continue
		}
		if s.tables != nil && s.tables.IsPseudoTeacher(name) {
			continue
		}
		teachers = append(teachers, name)
	}
	if len(teachers) == 0 {
		teachers = tas
	}
	return strings.Join(teachers, ", ")
}

func (s *AttendanceImportService) isJavaClass(name string) bool {
	if s.tables == nil {
		return strings.HasPrefix(name, "Java@")
	}
	return s.tables.IsJavaClass(name)
}

// compareAttendance orders by client ascending, date descending, visit ascending.
func compareAttendance(a, b models.AttendanceEvent) int {
	if c := cmp.Compare(a.ClientID, b.ClientID); c != 0 {
		return c
	}
	if c := cmp.Compare(b.ServiceDate, a.ServiceDate); c != 0 {
		return c
	}
	return cmp.Compare(a.VisitID, b.VisitID)
}

func attendanceLess(a, b models.AttendanceEvent) bool {
	return compareAttendance(a, b) < 0
}

// attendanceChanged compares the tracked payload of a stored event with its normalised import.
func attendanceChanged(st, im models.AttendanceEvent) bool {
	renamed := !strings.Contains(im.EventName, "(") && strings.TrimSpace(st.EventName) != strings.TrimSpace(im.EventName)
	backfilled := st.ServiceTime == "" && im.ServiceTime != ""
	return st.State != im.State || st.TeacherNames != im.TeacherNames || renamed || backfilled
}
