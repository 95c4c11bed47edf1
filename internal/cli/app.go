package cli

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/githubapi"
	"github.com/noah-isme/student-tracker-sync/internal/lookup"
	"github.com/noah-isme/student-tracker-sync/internal/pike13"
	"github.com/noah-isme/student-tracker-sync/internal/repository"
	"github.com/noah-isme/student-tracker-sync/internal/service"
	"github.com/noah-isme/student-tracker-sync/pkg/cache"
	"github.com/noah-isme/student-tracker-sync/pkg/config"
	"github.com/noah-isme/student-tracker-sync/pkg/database"
	"github.com/noah-isme/student-tracker-sync/pkg/logger"
	"github.com/noah-isme/student-tracker-sync/pkg/storage"
)

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	gw      *database.Gateway
	metrics *service.MetricsService
	clock   service.Clock
	repos   *repository.CacheRepository

	students   *repository.StudentRepository
	attendance *repository.AttendanceRepository
	schedule   *repository.ScheduleRepository
	ledger     *repository.GraduationRepository
	pending    *repository.PendingRepository
	logs       *repository.LogRepository
}

func newApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	log, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	loc, err := cfg.Sync.Location()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	metrics := service.NewMetricsService()
	gw := database.NewGateway(db,
		database.WithLogger(log),
		database.WithObserver(metrics),
		database.WithReconnector(func(context.Context) (*sqlx.DB, error) {
			return database.Open(cfg.Database)
		}),
	)

	return &app{
		cfg:        cfg,
		log:        log,
		gw:         gw,
		metrics:    metrics,
		clock:      service.NewClock(loc, nil),
		students:   repository.NewStudentRepository(gw),
		attendance: repository.NewAttendanceRepository(gw),
		schedule:   repository.NewScheduleRepository(gw),
		ledger:     repository.NewGraduationRepository(gw),
		pending:    repository.NewPendingRepository(gw),
		logs:       repository.NewLogRepository(gw),
	}, nil
}

// diagnostics fans findings out to every sink.
func (a *app) diagnostics() diagnostics.Recorder {
	return diagnostics.Multi{
		diagnostics.NewLogRecorder(a.log.Named("diagnostics")),
		diagnostics.NewStoreRecorder(a.logs, a.log, nil),
		a.metrics.DiagnosticRecorder(),
	}
}

// syncServices builds every import phase over the shared store.
func (a *app) syncServices() (service.SyncServices, error) {
	tables, err := lookup.Load(a.cfg.Sync.LookupFile)
	if err != nil {
		return service.SyncServices{}, err
	}
	gh, err := githubapi.NewClient(a.cfg.GitHub)
	if err != nil {
		return service.SyncServices{}, err
	}
	client, err := cache.NewRedis(a.cfg.Redis)
	if err != nil {
		a.log.Warn("repository cache unavailable", zap.Error(err))
	}
	a.repos = repository.NewCacheRepository(client, a.cfg.Redis.RepoTTL, a.log)

	diag := a.diagnostics()
	win := a.cfg.Sync
	p13 := pike13.NewClient(a.cfg.Pike13, pike13.WithLogger(a.log.Named("pike13")))
	modules := service.NewModuleTracker(a.students, diag, a.log)
	progression := service.NewProgressionService(a.ledger, a.attendance, diag, a.clock, win.StartDateCutoff, a.log)

	return service.SyncServices{
		Students: service.NewStudentImportService(p13, a.students, progression, tables, diag, a.metrics, a.clock,
			win.AttendanceDays, a.log),
		Attendance: service.NewAttendanceImportService(p13, a.attendance, a.students, tables, diag, a.clock, a.log,
			service.WithAttendanceWindow(win.AttendanceDays, win.CatchupMonths),
			service.WithAttendanceMetrics(a.metrics),
		),
		Schedule: service.NewScheduleImportService(p13, a.schedule, a.students, tables, diag, a.metrics, a.clock,
			service.ScheduleWindow{
				ScheduleDays:     win.ScheduleDays,
				CoursePastDays:   win.CoursePastDays,
				CourseFutureDays: win.CourseFutureDays,
			}, a.log),
		Pending: service.NewPendingMatcher(a.pending, a.attendance, a.students, modules, tables, diag, a.clock,
			win.GitHubDays, a.log),
		GitHub: service.NewGitHubImportService(gh, a.attendance, a.students, modules, diag, a.clock, a.log,
			service.WithRepoCache(a.repos),
			service.WithGitHubMetrics(a.metrics),
			service.WithGitHubWindow(win.GitHubDays, win.CatchupMonths),
		),
	}, nil
}

func (a *app) exportStorage() (*storage.LocalStorage, error) {
	store, err := storage.NewLocalStorage(a.cfg.Export.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("open export storage: %w", err)
	}
	return store, nil
}

func (a *app) graduations() (*service.GraduationService, error) {
	store, err := a.exportStorage()
	if err != nil {
		return nil, err
	}
	return service.NewGraduationService(a.ledger, store, a.clock, a.log), nil
}

func (a *app) close() {
	if a.repos != nil {
		_ = a.repos.Close()
	}
	if err := a.gw.Close(); err != nil {
		a.log.Warn("close database", zap.Error(err))
	}
	_ = a.log.Sync()
}
