package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/pkg/database"
)

const attendanceColumns = `a.client_id, a.visit_id, a.service_date, a.service_time, a.event_name, a.teacher_names,
	a.service_category, a.state, a.class_level, a.comments, a.repo_name, a.git_description`

const attendanceJoin = " FROM attendance a LEFT JOIN students s ON s.client_id = a.client_id"

const attendanceOrder = " ORDER BY a.client_id ASC, a.service_date DESC, a.visit_id ASC"

// AttendanceRepository manages persistence for attendance events.
type AttendanceRepository struct {
	store
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(gw *database.Gateway) *AttendanceRepository {
	return &AttendanceRepository{store{gw: gw}}
}

func (r *AttendanceRepository) list(ctx context.Context, label, where string, args ...interface{}) ([]models.AttendanceEvent, error) {
	var events []models.AttendanceEvent
	query := "SELECT " + attendanceColumns + `, COALESCE(s.github_name, '') AS github_name,
		COALESCE(s.first_name, '') AS first_name, COALESCE(s.last_name, '') AS last_name` +
		attendanceJoin + " WHERE " + where + attendanceOrder
	err := r.selectAll(ctx, label, func() interface{} {
		events = nil
		return &events
	}, query, args...)
	return events, err
}

// ListSince returns events dated on or after since, in merge order.
func (r *AttendanceRepository) ListSince(ctx context.Context, since string) ([]models.AttendanceEvent, error) {
	events, err := r.list(ctx, "attendance.list_since", "a.service_date >= ?", since)
	if err != nil {
		return nil, fmt.Errorf("list attendance since %s: %w", since, err)
	}
	return events, nil
}

// ListForClient returns one client's events dated on or after since, in merge order.
func (r *AttendanceRepository) ListForClient(ctx context.Context, clientID int, since string) ([]models.AttendanceEvent, error) {
	events, err := r.list(ctx, "attendance.list_client", "a.client_id = ? AND a.service_date >= ?", clientID, since)
	if err != nil {
		return nil, fmt.Errorf("list attendance for %d: %w", clientID, err)
	}
	return events, nil
}

// ListCompletedForHandle returns completed events on date for students with the given handle.
func (r *AttendanceRepository) ListCompletedForHandle(ctx context.Context, handle, date string) ([]models.AttendanceEvent, error) {
	events, err := r.list(ctx, "attendance.list_handle",
		"LOWER(s.github_name) = ? AND a.service_date = ? AND a.state = ?",
		strings.ToLower(handle), date, models.AttendanceCompleted)
	if err != nil {
		return nil, fmt.Errorf("list attendance for handle %s: %w", handle, err)
	}
	return events, nil
}

// ListUncommented returns completed events since the date that have no comments yet and whose
// student has a handle.
func (r *AttendanceRepository) ListUncommented(ctx context.Context, since string) ([]models.AttendanceEvent, error) {
	events, err := r.list(ctx, "attendance.list_uncommented",
		"a.service_date >= ? AND a.state = ? AND a.comments IS NULL AND COALESCE(s.github_name, '') <> ''",
		since, models.AttendanceCompleted)
	if err != nil {
		return nil, fmt.Errorf("list uncommented attendance: %w", err)
	}
	return events, nil
}

// ListRegisteredBetween returns registered events in [from, to].
func (r *AttendanceRepository) ListRegisteredBetween(ctx context.Context, from, to string) ([]models.AttendanceEvent, error) {
	events, err := r.list(ctx, "attendance.list_registered",
		"a.state = ? AND a.service_date >= ? AND a.service_date <= ?",
		models.AttendanceRegistered, from, to)
	if err != nil {
		return nil, fmt.Errorf("list registered attendance: %w", err)
	}
	return events, nil
}

// Insert adds an event.
func (r *AttendanceRepository) Insert(ctx context.Context, e models.AttendanceEvent) error {
	query := `INSERT INTO attendance (client_id, visit_id, service_date, service_time, event_name, teacher_names,
		service_category, state, class_level) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.exec(ctx, "attendance.insert", query,
		e.ClientID, e.VisitID, e.ServiceDate, e.ServiceTime, e.EventName, e.TeacherNames,
		e.ServiceCategory, e.State, e.ClassLevel)
	if err != nil {
		return fmt.Errorf("insert attendance %d/%d: %w", e.ClientID, e.VisitID, err)
	}
	return nil
}

// Update rewrites the imported fields of an event. An empty class level keeps the stored one.
func (r *AttendanceRepository) Update(ctx context.Context, e models.AttendanceEvent) error {
	query := `UPDATE attendance SET service_date = ?, service_time = ?, event_name = ?, teacher_names = ?,
		service_category = ?, state = ?, class_level = CASE WHEN CAST(? AS TEXT) = '' THEN class_level ELSE CAST(? AS TEXT) END
		WHERE client_id = ? AND visit_id = ?`
	_, err := r.exec(ctx, "attendance.update", query,
		e.ServiceDate, e.ServiceTime, e.EventName, e.TeacherNames,
		e.ServiceCategory, e.State, e.ClassLevel, e.ClassLevel,
		e.ClientID, e.VisitID)
	if err != nil {
		return fmt.Errorf("update attendance %d/%d: %w", e.ClientID, e.VisitID, err)
	}
	return nil
}

// Delete removes an event.
func (r *AttendanceRepository) Delete(ctx context.Context, clientID, visitID int) error {
	if _, err := r.exec(ctx, "attendance.delete", "DELETE FROM attendance WHERE client_id = ? AND visit_id = ?", clientID, visitID); err != nil {
		return fmt.Errorf("delete attendance %d/%d: %w", clientID, visitID, err)
	}
	return nil
}

// DeleteRegisteredBefore removes bookings that never happened and returns the count.
func (r *AttendanceRepository) DeleteRegisteredBefore(ctx context.Context, date string) (int64, error) {
	n, err := r.exec(ctx, "attendance.expire", "DELETE FROM attendance WHERE state = ? AND service_date < ?", models.AttendanceRegistered, date)
	if err != nil {
		return 0, fmt.Errorf("delete expired registrations: %w", err)
	}
	return n, nil
}

// EarliestCompletedForLevel returns the first completed service date at level, or "".
func (r *AttendanceRepository) EarliestCompletedForLevel(ctx context.Context, clientID, level int) (string, error) {
	digit := strconv.Itoa(level)
	query := `SELECT MIN(service_date) FROM attendance WHERE client_id = ? AND state = ?
		AND ((SUBSTR(event_name, 2, 1) = '@' AND SUBSTR(event_name, 1, 1) = ?) OR class_level = ?)`
	var first sql.NullString
	if err := r.get(ctx, "attendance.earliest_level", &first, query, clientID, models.AttendanceCompleted, digit, digit); err != nil {
		return "", fmt.Errorf("earliest attendance for %d at level %d: %w", clientID, level, err)
	}
	return first.String, nil
}

// StateOnDate returns the state of a non-completed event for the client on date, or "".
func (r *AttendanceRepository) StateOnDate(ctx context.Context, clientID int, date string) (string, error) {
	var states []string
	query := "SELECT state FROM attendance WHERE client_id = ? AND service_date = ? AND state <> ? ORDER BY visit_id"
	err := r.selectAll(ctx, "attendance.state_on_date", func() interface{} {
		states = nil
		return &states
	}, query, clientID, date, models.AttendanceCompleted)
	if err != nil {
		return "", fmt.Errorf("attendance state for %d on %s: %w", clientID, date, err)
	}
	if len(states) == 0 {
		return "", nil
	}
	return states[0], nil
}

// UpdateComments attaches commit comments to every completed event of the client on date.
func (r *AttendanceRepository) UpdateComments(ctx context.Context, clientID int, date, comments, repo string) error {
	query := "UPDATE attendance SET comments = ?, repo_name = ? WHERE client_id = ? AND service_date = ? AND state = ?"
	if _, err := r.exec(ctx, "attendance.update_comments", query, comments, repo, clientID, date, models.AttendanceCompleted); err != nil {
		return fmt.Errorf("update comments for %d on %s: %w", clientID, date, err)
	}
	return nil
}

// MarkEmptyComments marks completed events in [since, before) with no comments as processed.
func (r *AttendanceRepository) MarkEmptyComments(ctx context.Context, since, before string) (int64, error) {
	query := "UPDATE attendance SET comments = ? WHERE comments IS NULL AND state = ? AND service_date >= ? AND service_date < ?"
	n, err := r.exec(ctx, "attendance.mark_empty", query, "", models.AttendanceCompleted, since, before)
	if err != nil {
		return 0, fmt.Errorf("mark empty comments: %w", err)
	}
	return n, nil
}
