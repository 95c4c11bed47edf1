package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/pkg/database"
)

// ScheduleRepository manages persistence for the weekly class schedule and courses.
type ScheduleRepository struct {
	store
}

// NewScheduleRepository constructs a ScheduleRepository.
func NewScheduleRepository(gw *database.Gateway) *ScheduleRepository {
	return &ScheduleRepository{store{gw: gw}}
}

// List returns schedule entries ordered by schedule id.
func (r *ScheduleRepository) List(ctx context.Context) ([]models.ScheduleEntry, error) {
	var entries []models.ScheduleEntry
	query := `SELECT schedule_id, day_of_week, start_time, duration, class_name, num_students, youngest, oldest,
		average_age, module_count, room, room_mismatch FROM schedule ORDER BY schedule_id`
	err := r.selectAll(ctx, "schedule.list", func() interface{} {
		entries = nil
		return &entries
	}, query)
	if err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	return entries, nil
}

// Insert adds a schedule entry.
func (r *ScheduleRepository) Insert(ctx context.Context, e models.ScheduleEntry) error {
	query := `INSERT INTO schedule (schedule_id, day_of_week, start_time, duration, class_name, num_students, youngest,
		oldest, average_age, module_count, room, room_mismatch) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.exec(ctx, "schedule.insert", query, e.ScheduleID, e.DayOfWeek, e.StartTime, e.Duration, e.ClassName,
		e.NumStudents, e.Youngest, e.Oldest, e.AverageAge, e.ModuleCount, e.Room, e.RoomMismatch)
	if err != nil {
		return fmt.Errorf("insert schedule %d: %w", e.ScheduleID, err)
	}
	return nil
}

// Update rewrites a schedule entry.
func (r *ScheduleRepository) Update(ctx context.Context, e models.ScheduleEntry) error {
	query := `UPDATE schedule SET day_of_week = ?, start_time = ?, duration = ?, class_name = ?, num_students = ?,
		youngest = ?, oldest = ?, average_age = ?, module_count = ?, room = ?, room_mismatch = ? WHERE schedule_id = ?`
	_, err := r.exec(ctx, "schedule.update", query, e.DayOfWeek, e.StartTime, e.Duration, e.ClassName, e.NumStudents,
		e.Youngest, e.Oldest, e.AverageAge, e.ModuleCount, e.Room, e.RoomMismatch, e.ScheduleID)
	if err != nil {
		return fmt.Errorf("update schedule %d: %w", e.ScheduleID, err)
	}
	return nil
}

// Delete removes a schedule entry.
func (r *ScheduleRepository) Delete(ctx context.Context, scheduleID int) error {
	if _, err := r.exec(ctx, "schedule.delete", "DELETE FROM schedule WHERE schedule_id = ?", scheduleID); err != nil {
		return fmt.Errorf("delete schedule %d: %w", scheduleID, err)
	}
	return nil
}

// ListCourses returns courses ordered by schedule id.
func (r *ScheduleRepository) ListCourses(ctx context.Context) ([]models.Course, error) {
	var courses []models.Course
	err := r.selectAll(ctx, "courses.list", func() interface{} {
		courses = nil
		return &courses
	}, "SELECT schedule_id, event_name, enrolled FROM courses ORDER BY schedule_id")
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// InsertCourse adds a course.
func (r *ScheduleRepository) InsertCourse(ctx context.Context, c models.Course) error {
	query := "INSERT INTO courses (schedule_id, event_name, enrolled) VALUES (?, ?, ?)"
	if _, err := r.exec(ctx, "courses.insert", query, c.ScheduleID, c.EventName, c.Enrolled); err != nil {
		return fmt.Errorf("insert course %d: %w", c.ScheduleID, err)
	}
	return nil
}

// UpdateCourse rewrites a course name and enrollment.
func (r *ScheduleRepository) UpdateCourse(ctx context.Context, c models.Course) error {
	query := "UPDATE courses SET event_name = ?, enrolled = ? WHERE schedule_id = ?"
	if _, err := r.exec(ctx, "courses.update", query, c.EventName, c.Enrolled, c.ScheduleID); err != nil {
		return fmt.Errorf("update course %d: %w", c.ScheduleID, err)
	}
	return nil
}

// DeleteCourse removes a course.
func (r *ScheduleRepository) DeleteCourse(ctx context.Context, scheduleID int) error {
	if _, err := r.exec(ctx, "courses.delete", "DELETE FROM courses WHERE schedule_id = ?", scheduleID); err != nil {
		return fmt.Errorf("delete course %d: %w", scheduleID, err)
	}
	return nil
}
