package service

import (
	"cmp"
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/lookup"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/internal/pike13"
	"github.com/noah-isme/student-tracker-sync/internal/progression"
	"github.com/noah-isme/student-tracker-sync/internal/reconcile"
)

type rosterSource interface {
	Clients(ctx context.Context, since string) ([]models.Student, error)
	StudentTAs(ctx context.Context) ([]pike13.TA, error)
}

type studentStore interface {
	List(ctx context.Context) ([]models.Student, error)
	Insert(ctx context.Context, s models.Student) error
	Update(ctx context.Context, s models.Student) error
	SetMasterFlag(ctx context.Context, clientID int, inMaster bool) error
}

type progressionApplier interface {
	Apply(ctx context.Context, stored, imported models.Student) progression.Plan
}

// StudentImportService reconciles the roster against the scheduling service.
type StudentImportService struct {
	source      rosterSource
	store       studentStore
	progression progressionApplier
	tables      *lookup.Tables
	diag        diagnostics.Recorder
	metrics     *MetricsService
	clock       Clock
	windowDays  int
	logger      *zap.Logger
}

// NewStudentImportService constructs the roster import. windowDays bounds the "recent visit" filter.
func NewStudentImportService(source rosterSource, store studentStore, applier progressionApplier, tables *lookup.Tables,
	diag diagnostics.Recorder, metrics *MetricsService, clock Clock, windowDays int, logger *zap.Logger) *StudentImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if diag == nil {
		diag = diagnostics.Multi{}
	}
	return &StudentImportService{
		source:      source,
		store:       store,
		progression: applier,
		tables:      tables,
		diag:        diag,
		metrics:     metrics,
		clock:       clock,
		windowDays:  windowDays,
		logger:      logger,
	}
}

// Run fetches the roster and merges it into the store.
func (s *StudentImportService) Run(ctx context.Context) (reconcile.Stats, error) {
	imported, err := s.source.Clients(ctx, s.clock.DaysFromToday(-s.windowDays))
	if err != nil {
		return reconcile.Stats{}, err
	}
	tas, err := s.source.StudentTAs(ctx)
	if err != nil {
		return reconcile.Stats{}, err
	}
	stored, err := s.store.List(ctx)
	if err != nil {
		return reconcile.Stats{}, err
	}

	byClient := make(map[int]pike13.TA, len(tas))
	for _, ta := range tas {
		byClient[ta.ClientID] = ta
	}
	for i := range imported {
		if ta, ok := byClient[imported[i].ClientID]; ok {
			imported[i].TASinceDate = ta.SinceDate
			imported[i].TAPastEvents = ta.PastEvents
		}
		s.resolveLocation(&imported[i])
		s.checkProfile(ctx, imported[i])
	}

	stats := s.Merge(ctx, imported, stored)
	s.metrics.RecordMerge("students", stats)
	return stats, nil
}

// Merge reconciles an imported roster against the stored one.
func (s *StudentImportService) Merge(ctx context.Context, imported, stored []models.Student) reconcile.Stats {
	imported = reconcile.Prepare(imported, studentLess)
	stored = reconcile.Prepare(stored, studentLess)

	return reconcile.Merge(ctx, imported, stored, reconcile.Policy[models.Student]{
		Name: "students",
		Compare: func(st, im models.Student) reconcile.Comparison {
			return reconcile.Classify(cmp.Compare(st.ClientID, im.ClientID), func() bool {
				return len(changedStudentFields(st, im)) == 0
			})
		},
		Insert: s.insert,
		Update: s.update,
		Extra: func(ctx context.Context, st models.Student) error {
			if !st.IsInMasterDB {
				return nil
			}
			s.logger.Info("student removed from master roster", zap.Int("client_id", st.ClientID), zap.String("student", st.FullName()))
			return s.store.SetMasterFlag(ctx, st.ClientID, false)
		},
		Unchanged: func(ctx context.Context, st, im models.Student) error {
			s.checkMissingLevel(ctx, st, im)
			return nil
		},
		OnError: func(action string, err error) {
			s.diag.Record(ctx, diagnostics.Diagnostic{Code: diagnostics.StudentDBError, Message: action + ": " + err.Error()})
		},
	})
}

func (s *StudentImportService) insert(ctx context.Context, im models.Student) error {
	im.NewStudent = true
	im.IsInMasterDB = true
	im.NewGithub = im.GithubName != ""
	if err := s.store.Insert(ctx, im); err != nil {
		return err
	}
	s.logger.Info("student added", zap.Int("client_id", im.ClientID), zap.String("student", im.FullName()))
	return nil
}

func (s *StudentImportService) update(ctx context.Context, st, im models.Student) error {
	s.checkMissingLevel(ctx, st, im)

	changed := changedStudentFields(st, im)
	merged := im
	merged.CurrentModule = st.CurrentModule
	merged.CurrentClass = st.CurrentClass
	merged.RegisterClass = st.RegisterClass
	merged.LastVisitDate = st.LastVisitDate
	merged.NewStudent = st.NewStudent
	merged.NewGithub = st.NewGithub

	if !st.IsInMasterDB {
		merged.NewStudent = true
		changed = append(changed, "added back")
	}
	if im.GithubName != "" && !strings.EqualFold(im.GithubName, st.GithubName) {
		merged.NewGithub = true
	}

	if s.progression != nil {
		plan := s.progression.Apply(ctx, st, im)
		merged.CurrentLevel = plan.Level
		if plan.ClearsModule() {
			merged.CurrentModule = nil
		}
	}

	if err := s.store.Update(ctx, merged); err != nil {
		return err
	}
	s.logger.Info("student updated",
		zap.Int("client_id", im.ClientID),
		zap.String("student", im.FullName()),
		zap.Strings("fields", changed),
	)
	return nil
}

func (s *StudentImportService) resolveLocation(st *models.Student) {
	if s.tables == nil || st.HomeLocationName == "" {
		return
	}
	code, _ := s.tables.LocationCode(st.HomeLocationName)
	st.HomeLocation = code
}

func (s *StudentImportService) checkProfile(ctx context.Context, st models.Student) {
	record := func(code diagnostics.Code, message string) {
		s.diag.Record(ctx, diagnostics.Diagnostic{Code: code, ClientID: st.ClientID, Student: st.FullName(), Message: message})
	}

	if st.Birthdate == "" && st.IsInMasterDB {
		record(diagnostics.MissingBirthdate, "")
	}
	if st.GradYear == 0 {
		record(diagnostics.MissingGradYear, "")
	}
	switch {
	case strings.TrimSpace(st.HomeLocationName) == "":
		record(diagnostics.MissingHomeLocation, "")
	case st.HomeLocation == lookup.UnknownLocation:
		record(diagnostics.UnknownHomeLocation, st.HomeLocationName)
	}
	if st.Gender == models.GenderUnknown {
		record(diagnostics.MissingGender, "")
	}
}

func (s *StudentImportService) checkMissingLevel(ctx context.Context, st, im models.Student) {
	if im.CurrentLevel != "" || s.tables == nil {
		return
	}
	if s.tables.IsJavaClass(st.CurrentClass) || s.tables.IsJavaClass(st.RegisterClass) {
		s.diag.Record(ctx, diagnostics.Diagnostic{
			Code:     diagnostics.MissingCurrentLevel,
			ClientID: im.ClientID,
			Student:  im.FullName(),
			Message:  "enrolled in " + strings.TrimSpace(st.CurrentClass+" "+st.RegisterClass),
		})
	}
}

func studentLess(a, b models.Student) bool {
	return a.ClientID < b.ClientID
}

// changedStudentFields lists the imported fields that differ from the stored row.
func changedStudentFields(st, im models.Student) []string {
	var fields []string
	check := func(name string, differ bool) {
		if differ {
			fields = append(fields, name)
		}
	}

	check("first_name", st.FirstName != im.FirstName)
	check("last_name", st.LastName != im.LastName)
	check("github_name", st.GithubName != im.GithubName)
	check("gender", st.Gender != im.Gender)
	check("start_date", st.StartDate != im.StartDate)
	check("home_location", st.HomeLocation != im.HomeLocation)
	check("grad_year", st.GradYear != im.GradYear)
	check("is_in_master_db", st.IsInMasterDB != im.IsInMasterDB)
	check("email", st.Email != im.Email)
	check("acct_mgr_email", st.AcctMgrEmail != im.AcctMgrEmail)
	check("emergency_email", st.EmergencyEmail != im.EmergencyEmail)
	check("phone", st.Phone != im.Phone)
	check("acct_mgr_phone", st.AcctMgrPhone != im.AcctMgrPhone)
	check("home_phone", st.HomePhone != im.HomePhone)
	check("emergency_phone", st.EmergencyPhone != im.EmergencyPhone)
	check("birthdate", st.Birthdate != im.Birthdate)
	check("ta_since_date", st.TASinceDate != im.TASinceDate)
	check("ta_past_events", st.TAPastEvents != im.TAPastEvents)
	check("current_level", st.CurrentLevel != im.CurrentLevel)
	check("last_score", st.LastScore != im.LastScore)
	return fields
}
