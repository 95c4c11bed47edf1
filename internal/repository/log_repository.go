package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/pkg/database"
)

// LogRepository persists diagnostics for operator review.
type LogRepository struct {
	store
}

// NewLogRepository constructs a LogRepository.
func NewLogRepository(gw *database.Gateway) *LogRepository {
	return &LogRepository{store{gw: gw}}
}

// InsertLog appends a diagnostic.
func (r *LogRepository) InsertLog(ctx context.Context, e models.LogEntry) error {
	query := "INSERT INTO tracker_logs (code, client_id, student_name, message, created_at) VALUES (?, ?, ?, ?, ?)"
	if _, err := r.exec(ctx, "logs.insert", query, e.Code, e.ClientID, e.StudentName, e.Message, e.CreatedAt); err != nil {
		return fmt.Errorf("insert tracker log %s: %w", e.Code, err)
	}
	return nil
}

// ListSince returns diagnostics created on or after date, newest first.
func (r *LogRepository) ListSince(ctx context.Context, date string) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	query := "SELECT id, code, client_id, student_name, message, created_at FROM tracker_logs WHERE created_at >= ? ORDER BY id DESC"
	err := r.selectAll(ctx, "logs.list", func() interface{} {
		entries = nil
		return &entries
	}, query, date)
	if err != nil {
		return nil, fmt.Errorf("list tracker logs: %w", err)
	}
	return entries, nil
}
