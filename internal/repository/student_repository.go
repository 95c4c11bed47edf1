package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/student-tracker-sync/internal/models"
	"github.com/noah-isme/student-tracker-sync/pkg/database"
)

const studentColumns = `client_id, first_name, last_name, github_name, new_student, new_github, gender, start_date,
	home_location, grad_year, is_in_master_db, email, acct_mgr_email, emergency_email, phone, acct_mgr_phone,
	home_phone, emergency_phone, birthdate, ta_since_date, ta_past_events, current_level, current_module,
	current_class, register_class, last_score, last_visit_date`

// StudentRepository manages persistence for the roster.
type StudentRepository struct {
	store
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(gw *database.Gateway) *StudentRepository {
	return &StudentRepository{store{gw: gw}}
}

// List returns the whole roster ordered by client id.
func (r *StudentRepository) List(ctx context.Context) ([]models.Student, error) {
	var students []models.Student
	query := "SELECT " + studentColumns + " FROM students ORDER BY client_id"
	err := r.selectAll(ctx, "students.list", func() interface{} {
		students = nil
		return &students
	}, query)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// FindByID returns one student. A missing row yields sql.ErrNoRows.
func (r *StudentRepository) FindByID(ctx context.Context, clientID int) (*models.Student, error) {
	var s models.Student
	query := "SELECT " + studentColumns + " FROM students WHERE client_id = ?"
	if err := r.get(ctx, "students.find", &s, query, clientID); err != nil {
		return nil, fmt.Errorf("find student %d: %w", clientID, err)
	}
	return &s, nil
}

// FindByGithub returns students whose handle matches case-insensitively.
func (r *StudentRepository) FindByGithub(ctx context.Context, handle string) ([]models.Student, error) {
	var students []models.Student
	query := "SELECT " + studentColumns + " FROM students WHERE LOWER(github_name) = ? ORDER BY client_id"
	err := r.selectAll(ctx, "students.find_github", func() interface{} {
		students = nil
		return &students
	}, query, strings.ToLower(handle))
	if err != nil {
		return nil, fmt.Errorf("find students by github %s: %w", handle, err)
	}
	return students, nil
}

// ListFlagged returns students with new_student or new_github set.
func (r *StudentRepository) ListFlagged(ctx context.Context, flag StudentFlag) ([]models.Student, error) {
	var students []models.Student
	query := "SELECT " + studentColumns + " FROM students WHERE " + string(flag) + " = ? ORDER BY client_id"
	err := r.selectAll(ctx, "students.list_flagged", func() interface{} {
		students = nil
		return &students
	}, query, true)
	if err != nil {
		return nil, fmt.Errorf("list students flagged %s: %w", flag, err)
	}
	return students, nil
}

// StudentFlag names a boolean catch-up flag on the roster.
type StudentFlag string

const (
	FlagNewStudent StudentFlag = "new_student"
	FlagNewGithub  StudentFlag = "new_github"
)

// ClearFlag resets a catch-up flag.
func (r *StudentRepository) ClearFlag(ctx context.Context, clientID int, flag StudentFlag) error {
	query := "UPDATE students SET " + string(flag) + " = ? WHERE client_id = ?"
	if _, err := r.exec(ctx, "students.clear_flag", query, false, clientID); err != nil {
		return fmt.Errorf("clear %s for %d: %w", flag, clientID, err)
	}
	return nil
}

// Insert adds a student row.
func (r *StudentRepository) Insert(ctx context.Context, s models.Student) error {
	query := "INSERT INTO students (" + studentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.exec(ctx, "students.insert", query,
		s.ClientID, s.FirstName, s.LastName, s.GithubName, s.NewStudent, s.NewGithub, s.Gender, s.StartDate,
		s.HomeLocation, s.GradYear, s.IsInMasterDB, s.Email, s.AcctMgrEmail, s.EmergencyEmail, s.Phone, s.AcctMgrPhone,
		s.HomePhone, s.EmergencyPhone, s.Birthdate, s.TASinceDate, s.TAPastEvents, s.CurrentLevel, s.CurrentModule,
		s.CurrentClass, s.RegisterClass, s.LastScore, s.LastVisitDate)
	if err != nil {
		return fmt.Errorf("insert student %d: %w", s.ClientID, err)
	}
	return nil
}

// Update rewrites every imported field of a student row.
func (r *StudentRepository) Update(ctx context.Context, s models.Student) error {
	query := `UPDATE students SET first_name = ?, last_name = ?, github_name = ?, new_student = ?, new_github = ?,
		gender = ?, start_date = ?, home_location = ?, grad_year = ?, is_in_master_db = ?, email = ?, acct_mgr_email = ?,
		emergency_email = ?, phone = ?, acct_mgr_phone = ?, home_phone = ?, emergency_phone = ?, birthdate = ?,
		ta_since_date = ?, ta_past_events = ?, current_level = ?, current_module = ?, last_score = ?
		WHERE client_id = ?`
	_, err := r.exec(ctx, "students.update", query,
		s.FirstName, s.LastName, s.GithubName, s.NewStudent, s.NewGithub,
		s.Gender, s.StartDate, s.HomeLocation, s.GradYear, s.IsInMasterDB, s.Email, s.AcctMgrEmail,
		s.EmergencyEmail, s.Phone, s.AcctMgrPhone, s.HomePhone, s.EmergencyPhone, s.Birthdate,
		s.TASinceDate, s.TAPastEvents, s.CurrentLevel, s.CurrentModule, s.LastScore,
		s.ClientID)
	if err != nil {
		return fmt.Errorf("update student %d: %w", s.ClientID, err)
	}
	return nil
}

// SetMasterFlag records whether the student is still present in the master roster.
func (r *StudentRepository) SetMasterFlag(ctx context.Context, clientID int, inMaster bool) error {
	if _, err := r.exec(ctx, "students.set_master", "UPDATE students SET is_in_master_db = ? WHERE client_id = ?", inMaster, clientID); err != nil {
		return fmt.Errorf("set master flag for %d: %w", clientID, err)
	}
	return nil
}

// UpdateModule stores the current module.
func (r *StudentRepository) UpdateModule(ctx context.Context, clientID int, module string) error {
	if _, err := r.exec(ctx, "students.update_module", "UPDATE students SET current_module = ? WHERE client_id = ?", module, clientID); err != nil {
		return fmt.Errorf("update module for %d: %w", clientID, err)
	}
	return nil
}

// UpdateClassVisit stores the current class and last visit date.
func (r *StudentRepository) UpdateClassVisit(ctx context.Context, clientID int, className, lastVisit string) error {
	query := "UPDATE students SET current_class = ?, last_visit_date = ? WHERE client_id = ?"
	if _, err := r.exec(ctx, "students.update_class", query, className, lastVisit, clientID); err != nil {
		return fmt.Errorf("update class for %d: %w", clientID, err)
	}
	return nil
}

// UpdateLastVisit stores the last visit date.
func (r *StudentRepository) UpdateLastVisit(ctx context.Context, clientID int, lastVisit string) error {
	if _, err := r.exec(ctx, "students.update_visit", "UPDATE students SET last_visit_date = ? WHERE client_id = ?", lastVisit, clientID); err != nil {
		return fmt.Errorf("update last visit for %d: %w", clientID, err)
	}
	return nil
}

// UpdateCurrentClass stores the current class only.
func (r *StudentRepository) UpdateCurrentClass(ctx context.Context, clientID int, className string) error {
	if _, err := r.exec(ctx, "students.update_current_class", "UPDATE students SET current_class = ? WHERE client_id = ?", className, clientID); err != nil {
		return fmt.Errorf("update current class for %d: %w", clientID, err)
	}
	return nil
}

// ClearRegisteredClasses empties register_class on every row.
func (r *StudentRepository) ClearRegisteredClasses(ctx context.Context) error {
	if _, err := r.exec(ctx, "students.clear_registered", "UPDATE students SET register_class = ? WHERE register_class <> ?", "", ""); err != nil {
		return fmt.Errorf("clear registered classes: %w", err)
	}
	return nil
}

// UpdateRegisteredClass stores the next registered class.
func (r *StudentRepository) UpdateRegisteredClass(ctx context.Context, clientID int, className string) error {
	if _, err := r.exec(ctx, "students.update_registered", "UPDATE students SET register_class = ? WHERE client_id = ?", className, clientID); err != nil {
		return fmt.Errorf("update registered class for %d: %w", clientID, err)
	}
	return nil
}
