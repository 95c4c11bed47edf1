package models

import "strings"

// Gender codes stored on the roster.
const (
	GenderUnknown = 0
	GenderMale    = 1
	GenderFemale  = 2
	GenderOther   = 3
)

// Student is one roster row keyed by the external client id.
type Student struct {
	ClientID       int     `db:"client_id" json:"client_id"`
	FirstName      string  `db:"first_name" json:"first_name"`
	LastName       string  `db:"last_name" json:"last_name"`
	GithubName     string  `db:"github_name" json:"github_name"`
	NewStudent     bool    `db:"new_student" json:"new_student"`
	NewGithub      bool    `db:"new_github" json:"new_github"`
	Gender         int     `db:"gender" json:"gender"`
	StartDate      string  `db:"start_date" json:"start_date"`
	HomeLocation   int     `db:"home_location" json:"home_location"`
	GradYear       int     `db:"grad_year" json:"grad_year"`
	IsInMasterDB   bool    `db:"is_in_master_db" json:"is_in_master_db"`
	Email          string  `db:"email" json:"email"`
	AcctMgrEmail   string  `db:"acct_mgr_email" json:"acct_mgr_email"`
	EmergencyEmail string  `db:"emergency_email" json:"emergency_email"`
	Phone          string  `db:"phone" json:"phone"`
	AcctMgrPhone   string  `db:"acct_mgr_phone" json:"acct_mgr_phone"`
	HomePhone      string  `db:"home_phone" json:"home_phone"`
	EmergencyPhone string  `db:"emergency_phone" json:"emergency_phone"`
	Birthdate      string  `db:"birthdate" json:"birthdate"`
	TASinceDate    string  `db:"ta_since_date" json:"ta_since_date"`
	TAPastEvents   int     `db:"ta_past_events" json:"ta_past_events"`
	CurrentLevel   string  `db:"current_level" json:"current_level"`
	CurrentModule  *string `db:"current_module" json:"current_module,omitempty"`
	CurrentClass   string  `db:"current_class" json:"current_class"`
	RegisterClass  string  `db:"register_class" json:"register_class"`
	LastScore      string  `db:"last_score" json:"last_score"`
	LastVisitDate  string  `db:"last_visit_date" json:"last_visit_date"`

	// Import-only fields, never persisted.
	HomeLocationName string `db:"-" json:"-"`
	FutureVisits     int    `db:"-" json:"-"`
}

// FullName joins first and last name.
func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Module returns the current module or "" when unset.
func (s Student) Module() string {
	if s.CurrentModule == nil {
		return ""
	}
	return *s.CurrentModule
}

// LevelNumber parses the current level digit. ok is false for an empty or non-numeric level.
func (s Student) LevelNumber() (int, bool) {
	return ParseLevel(s.CurrentLevel)
}

// ParseLevel parses a single level token "0".."9".
func ParseLevel(level string) (int, bool) {
	if len(level) != 1 || level[0] < '0' || level[0] > '9' {
		return 0, false
	}
	return int(level[0] - '0'), true
}
