package models

import "strings"

// AttendanceState is the booking state reported by the scheduling service.
type AttendanceState string

const (
	AttendanceRegistered AttendanceState = "registered"
	AttendanceCompleted  AttendanceState = "completed"
)

// Valid returns true when the state is a supported value.
func (s AttendanceState) Valid() bool {
	switch s {
	case AttendanceRegistered, AttendanceCompleted:
		return true
	default:
		return false
	}
}

// AttendanceEvent is one visit keyed by (client id, visit id).
type AttendanceEvent struct {
	ClientID        int             `db:"client_id" json:"client_id"`
	VisitID         int             `db:"visit_id" json:"visit_id"`
	ServiceDate     string          `db:"service_date" json:"service_date"`
	ServiceTime     string          `db:"service_time" json:"service_time"`
	EventName       string          `db:"event_name" json:"event_name"`
	TeacherNames    string          `db:"teacher_names" json:"teacher_names"`
	ServiceCategory string          `db:"service_category" json:"service_category"`
	State           AttendanceState `db:"state" json:"state"`
	ClassLevel      string          `db:"class_level" json:"class_level"`
	Comments        *string         `db:"comments" json:"comments,omitempty"`
	RepoName        *string         `db:"repo_name" json:"repo_name,omitempty"`
	GitDescription  *string         `db:"git_description" json:"git_description,omitempty"`

	// Joined from the roster on reads that need it.
	GithubName string `db:"github_name" json:"github_name,omitempty"`
	FirstName  string `db:"first_name" json:"first_name,omitempty"`
	LastName   string `db:"last_name" json:"last_name,omitempty"`

	// Import-only full name as reported by the scheduling service.
	FullName string `db:"-" json:"-"`
}

// CommentText returns the stored comments or "".
func (e AttendanceEvent) CommentText() string {
	if e.Comments == nil {
		return ""
	}
	return *e.Comments
}

// IsCompleted reports whether the visit happened.
func (e AttendanceEvent) IsCompleted() bool {
	return e.State == AttendanceCompleted
}

// IsClass reports whether the service category is a class booking.
func (e AttendanceEvent) IsClass() bool {
	return strings.HasPrefix(strings.ToLower(e.ServiceCategory), "class")
}

// StudentName returns the joined roster name, falling back to the imported full name.
func (e AttendanceEvent) StudentName() string {
	if name := strings.TrimSpace(e.FirstName + " " + e.LastName); name != "" {
		return name
	}
	return e.FullName
}
