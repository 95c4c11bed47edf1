package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/internal/progression"
)

type graduationWriter interface {
	Record(ctx context.Context, g models.Graduation) (bool, error)
}

type levelHistory interface {
	EarliestCompletedForLevel(ctx context.Context, clientID, level int) (string, error)
}

// ProgressionService turns roster changes into graduation ledger writes.
type ProgressionService struct {
	ledger  graduationWriter
	history levelHistory
	diag    diagnostics.Recorder
	clock   Clock
	cutoff  string
	logger  *zap.Logger
}

// NewProgressionService constructs the applier. cutoff discards looked-up start dates older than it.
func NewProgressionService(ledger graduationWriter, history levelHistory, diag diagnostics.Recorder, clock Clock, cutoff string, logger *zap.Logger) *ProgressionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if diag == nil {
		diag = diagnostics.Multi{}
	}
	return &ProgressionService{ledger: ledger, history: history, diag: diag, clock: clock, cutoff: cutoff, logger: logger}
}

// Apply plans and writes the ledger entries implied by stored -> imported. The returned plan tells
// the caller which level to persist and whether to clear the module.
func (s *ProgressionService) Apply(ctx context.Context, stored, imported models.Student) progression.Plan {
	plan := progression.Build(stored, imported, s.clock.Today())
	if !plan.Triggered {
		return plan
	}

	if plan.Invalid {
		s.diag.Record(ctx, diagnostics.Diagnostic{
			Code:     diagnostics.ExamScoreInvalid,
			ClientID: imported.ClientID,
			Student:  imported.FullName(),
			Message:  fmt.Sprintf("score %q with level %s -> %s", imported.LastScore, stored.CurrentLevel, imported.CurrentLevel),
		})
		return plan
	}

	for _, entry := range plan.Entries {
		g := entry.Graduation
		if entry.LookupStartDate {
			g.StartDate = s.startDate(ctx, g.ClientID, g.GradLevel)
		}

		amended, err := s.ledger.Record(ctx, g)
		if err != nil {
			s.diag.Record(ctx, diagnostics.Diagnostic{
				Code:     diagnostics.GraduationDBError,
				ClientID: g.ClientID,
				Student:  imported.FullName(),
				Message:  err.Error(),
			})
			continue
		}
		s.logger.Info("graduation recorded",
			zap.Int("client_id", g.ClientID),
			zap.String("level", models.LevelName(g.GradLevel)),
			zap.String("score", g.Score),
			zap.Bool("skip", g.SkipLevel),
			zap.Bool("amended", amended),
		)
	}
	return plan
}

func (s *ProgressionService) startDate(ctx context.Context, clientID, level int) string {
	if level > models.MaxClassLevel {
		return ""
	}
	found, err := s.history.EarliestCompletedForLevel(ctx, clientID, level)
	if err != nil {
		s.logger.Warn("start date lookup failed", zap.Int("client_id", clientID), zap.Int("level", level), zap.Error(err))
		return ""
	}
	return progression.ResolveStartDate(level, found, s.cutoff)
}
