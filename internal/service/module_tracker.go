package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/internal/modules"
)

type moduleStore interface {
	FindByID(ctx context.Context, clientID int) (*models.Student, error)
	UpdateModule(ctx context.Context, clientID int, module string) error
}

// ModuleTracker advances a student's current module from repository names attached to attendance.
type ModuleTracker struct {
	store  moduleStore
	diag   diagnostics.Recorder
	logger *zap.Logger
}

// NewModuleTracker constructs a tracker.
func NewModuleTracker(store moduleStore, diag diagnostics.Recorder, logger *zap.Logger) *ModuleTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if diag == nil {
		diag = diagnostics.Multi{}
	}
	return &ModuleTracker{store: store, diag: diag, logger: logger}
}

// Track infers the module for repo and stores it when it moves the student forward. Students above
// level 5 or without a level are not tracked.
func (t *ModuleTracker) Track(ctx context.Context, clientID int, repo string) error {
	if strings.TrimSpace(repo) == "" {
		return nil
	}
	student, err := t.store.FindByID(ctx, clientID)
	if err != nil {
		return fmt.Errorf("load student for module tracking: %w", err)
	}
	level, ok := student.LevelNumber()
	if !ok || level > 5 {
		return nil
	}

	module, ok := modules.Infer(student.CurrentLevel, repo)
	if !ok {
		t.diag.Record(ctx, diagnostics.Diagnostic{
			Code:     diagnostics.UnknownRepoName,
			ClientID: clientID,
			Student:  student.FullName(),
			Message:  repo,
		})
		return nil
	}
	if !modules.ShouldApply(student.CurrentModule, module) {
		return nil
	}

	if err := t.store.UpdateModule(ctx, clientID, module); err != nil {
		return err
	}
	t.logger.Debug("module advanced",
		zap.Int("client_id", clientID),
		zap.String("from", student.Module()),
		zap.String("to", module),
		zap.String("repo", repo),
	)
	return nil
}
