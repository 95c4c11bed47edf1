package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/pkg/database"
)

// GraduationRepository manages the level-completion ledger.
type GraduationRepository struct {
	store
}

// NewGraduationRepository constructs a GraduationRepository.
func NewGraduationRepository(gw *database.Gateway) *GraduationRepository {
	return &GraduationRepository{store{gw: gw}}
}

// Record inserts a ledger row. When (client, level) already exists the row is amended
// instead. amended reports which path was taken.
func (r *GraduationRepository) Record(ctx context.Context, g models.Graduation) (amended bool, err error) {
	err = r.insert(ctx, g)
	if err == nil {
		return false, nil
	}
	if !database.IsUniqueViolation(err) {
		return false, fmt.Errorf("insert graduation %d/%d: %w", g.ClientID, g.GradLevel, err)
	}
	if err := r.amend(ctx, g); err != nil {
		return false, fmt.Errorf("amend graduation %d/%d: %w", g.ClientID, g.GradLevel, err)
	}
	return true, nil
}

func (r *GraduationRepository) insert(ctx context.Context, g models.Graduation) error {
	query := `INSERT INTO graduations (client_id, grad_level, score, current_class, start_date, end_date, skip_level, promoted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.exec(ctx, "graduations.insert", query, g.ClientID, g.GradLevel, g.Score, g.CurrentClass,
		g.StartDate, g.EndDate, g.SkipLevel, g.Promoted)
	return err
}

func (r *GraduationRepository) amend(ctx context.Context, g models.Graduation) error {
	set := "end_date = ?, acknowledged = ?"
	args := []interface{}{g.EndDate, false}
	if g.Score != "" {
		set += ", score = ?"
		args = append(args, g.Score)
	}
	if g.SkipLevel {
		set += ", skip_level = ?"
		args = append(args, true)
	}
	if g.Promoted {
		set += ", promoted = ?"
		args = append(args, true)
	}
	args = append(args, g.ClientID, g.GradLevel)
	_, err := r.exec(ctx, "graduations.amend", "UPDATE graduations SET "+set+" WHERE client_id = ? AND grad_level = ?", args...)
	return err
}

// ListUnacknowledged returns ledger rows not yet reviewed, with student names.
func (r *GraduationRepository) ListUnacknowledged(ctx context.Context) ([]models.Graduation, error) {
	var rows []models.Graduation
	query := `SELECT g.client_id, g.grad_level, g.score, g.current_class, g.start_date, g.end_date, g.skip_level,
		g.promoted, g.acknowledged, COALESCE(s.first_name, '') AS first_name, COALESCE(s.last_name, '') AS last_name
		FROM graduations g LEFT JOIN students s ON s.client_id = g.client_id
		WHERE g.acknowledged = ? ORDER BY g.end_date, g.client_id, g.grad_level`
	err := r.selectAll(ctx, "graduations.list", func() interface{} {
		rows = nil
		return &rows
	}, query, false)
	if err != nil {
		return nil, fmt.Errorf("list graduations: %w", err)
	}
	return rows, nil
}

// Acknowledge flags a ledger row as reviewed. found is false when no row matched.
func (r *GraduationRepository) Acknowledge(ctx context.Context, clientID, level int) (found bool, err error) {
	n, err := r.exec(ctx, "graduations.ack", "UPDATE graduations SET acknowledged = ? WHERE client_id = ? AND grad_level = ?", true, clientID, level)
	if err != nil {
		return false, fmt.Errorf("acknowledge graduation %d/%d: %w", clientID, level, err)
	}
	return n > 0, nil
}

// PruneAcknowledged deletes reviewed rows and returns the count.
func (r *GraduationRepository) PruneAcknowledged(ctx context.Context) (int64, error) {
	n, err := r.exec(ctx, "graduations.prune", "DELETE FROM graduations WHERE acknowledged = ?", true)
	if err != nil {
		return 0, fmt.Errorf("prune graduations: %w", err)
	}
	return n, nil
}
