package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/pkg/database"
)

// PendingRepository manages the queue of unmatched commit notifications.
type PendingRepository struct {
	store
}

// NewPendingRepository constructs a PendingRepository.
func NewPendingRepository(gw *database.Gateway) *PendingRepository {
	return &PendingRepository{store{gw: gw}}
}

// List returns queued entries in arrival order.
func (r *PendingRepository) List(ctx context.Context) ([]models.PendingCommit, error) {
	var entries []models.PendingCommit
	query := "SELECT primary_id, git_user, repo_name, commit_date, comments, got_git, status FROM pending_github ORDER BY primary_id"
	err := r.selectAll(ctx, "pending.list", func() interface{} {
		entries = nil
		return &entries
	}, query)
	if err != nil {
		return nil, fmt.Errorf("list pending commits: %w", err)
	}
	return entries, nil
}

// Insert appends an entry to the queue.
func (r *PendingRepository) Insert(ctx context.Context, p models.PendingCommit) error {
	query := "INSERT INTO pending_github (git_user, repo_name, commit_date, comments) VALUES (?, ?, ?, ?)"
	if _, err := r.exec(ctx, "pending.insert", query, p.GitUser, p.RepoName, p.CommitDate, p.Comments); err != nil {
		return fmt.Errorf("insert pending commit for %s: %w", p.GitUser, err)
	}
	return nil
}

// ClearTags resets the diagnostic tags on every entry.
func (r *PendingRepository) ClearTags(ctx context.Context) error {
	if _, err := r.exec(ctx, "pending.clear_tags", "UPDATE pending_github SET got_git = ?, status = ?", "", ""); err != nil {
		return fmt.Errorf("clear pending tags: %w", err)
	}
	return nil
}

// Tag stores the diagnostic tags of one entry.
func (r *PendingRepository) Tag(ctx context.Context, id int64, gotGit, status string) error {
	query := "UPDATE pending_github SET got_git = ?, status = ? WHERE primary_id = ?"
	if _, err := r.exec(ctx, "pending.tag", query, gotGit, status, id); err != nil {
		return fmt.Errorf("tag pending commit %d: %w", id, err)
	}
	return nil
}

// Delete removes an entry.
func (r *PendingRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.exec(ctx, "pending.delete", "DELETE FROM pending_github WHERE primary_id = ?", id); err != nil {
		return fmt.Errorf("delete pending commit %d: %w", id, err)
	}
	return nil
}
