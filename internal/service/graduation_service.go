package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/models"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
	"github.com/noah-isme/student-tracker-sync/pkg/export"
)

type ledgerStore interface {
	ListUnacknowledged(ctx context.Context) ([]models.Graduation, error)
	Acknowledge(ctx context.Context, clientID, level int) (bool, error)
	PruneAcknowledged(ctx context.Context) (int64, error)
}

type datasetRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	Extension() string
}

type reportStorage interface {
	Save(filename string, data []byte) (string, error)
}

// GraduationService exports, acknowledges and prunes the graduation ledger.
type GraduationService struct {
	ledger    ledgerStore
	storage   reportStorage
	renderers map[string]datasetRenderer
	clock     Clock
	logger    *zap.Logger
}

// NewGraduationService constructs the service with the CSV and PDF renderers.
func NewGraduationService(ledger ledgerStore, storage reportStorage, clock Clock, logger *zap.Logger) *GraduationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraduationService{
		ledger:  ledger,
		storage: storage,
		renderers: map[string]datasetRenderer{
			"csv": export.NewCSVExporter(),
			"pdf": export.NewPDFExporter(),
		},
		clock:  clock,
		logger: logger,
	}
}

var graduationColumns = []export.Column{
	{Key: "client_id", Title: "Client ID", Weight: 0.8},
	{Key: "student", Title: "Student", Weight: 1.6},
	{Key: "level", Title: "Level", Weight: 0.8},
	{Key: "score", Title: "Score", Weight: 0.8},
	{Key: "class", Title: "Class", Weight: 1.6},
	{Key: "start_date", Title: "Start"},
	{Key: "end_date", Title: "End"},
	{Key: "skip", Title: "Skip", Weight: 0.6},
	{Key: "promoted", Title: "Promoted", Weight: 0.8},
}

// Dataset builds the export rows for unacknowledged ledger entries.
func (s *GraduationService) Dataset(ctx context.Context) (export.Dataset, error) {
	entries, err := s.ledger.ListUnacknowledged(ctx)
	if err != nil {
		return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load graduations")
	}
	return graduationDataset(entries), nil
}

func graduationDataset(entries []models.Graduation) export.Dataset {
	rows := make([]map[string]string, 0, len(entries))
	for _, g := range entries {
		rows = append(rows, map[string]string{
			"client_id":  strconv.Itoa(g.ClientID),
			"student":    strings.TrimSpace(g.FirstName + " " + g.LastName),
			"level":      models.LevelName(g.GradLevel),
			"score":      g.Score,
			"class":      g.CurrentClass,
			"start_date": g.StartDate,
			"end_date":   g.EndDate,
			"skip":       yesNo(g.SkipLevel),
			"promoted":   yesNo(g.Promoted),
		})
	}
	return export.Dataset{Columns: graduationColumns, Rows: rows}
}

// Export renders the unacknowledged ledger in format ("csv" or "pdf") and stores it. It returns the
// stored path and the number of rows.
func (s *GraduationService) Export(ctx context.Context, format string) (string, int, error) {
	renderer, ok := s.renderers[strings.ToLower(format)]
	if !ok {
		return "", 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	data, err := s.Dataset(ctx)
	if err != nil {
		return "", 0, err
	}

	today := s.clock.Today()
	body, err := renderer.Render(data, "Graduations as of "+today)
	if err != nil {
		return "", 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render graduations")
	}
	name := fmt.Sprintf("graduations-%s.%s", today, renderer.Extension())
	path, err := s.storage.Save(name, body)
	if err != nil {
		return "", 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store graduations export")
	}
	s.logger.Info("graduations exported", zap.String("path", path), zap.Int("rows", len(data.Rows)))
	return path, len(data.Rows), nil
}

// Acknowledge marks one ledger entry as consumed downstream.
func (s *GraduationService) Acknowledge(ctx context.Context, clientID int, level string) error {
	lvl, ok := models.ParseLevelName(level)
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid level %q", level))
	}
	found, err := s.ledger.Acknowledge(ctx, clientID, lvl)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acknowledge graduation")
	}
	if !found {
		return appErrors.ErrNotFound
	}
	return nil
}

// Prune deletes acknowledged ledger entries.
func (s *GraduationService) Prune(ctx context.Context) (int64, error) {
	n, err := s.ledger.PruneAcknowledged(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prune graduations")
	}
	return n, nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
