package pike13

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/noah-isme/student-tracker-sync/internal/models"
)

// Custom field identifiers on client and staff records.
const (
	FieldGender         = "custom_field_106320"
	FieldGithub         = "custom_field_127885"
	FieldGradYear       = "custom_field_145902"
	FieldEmergencyPhone = "custom_field_106322"
	FieldEmergencyEmail = "custom_field_149434"
	FieldHomePhone      = "custom_field_106498"
	FieldCurrentLevel   = "custom_field_157737"
	FieldLastExamScore  = "custom_field_158633"
	FieldStaffClientID  = "custom_field_152501"
	FieldStaffCategory  = "custom_field_106325"
)

var clientFields = []string{
	"person_id", "first_name", "last_name", FieldGithub, FieldGradYear,
	FieldGender, "home_location_name", "first_visit_date",
	"future_visits", "completed_visits", "email", "account_manager_emails",
	FieldEmergencyEmail, "phone", "account_manager_phones",
	FieldHomePhone, FieldEmergencyPhone, "birthdate",
	FieldCurrentLevel, FieldLastExamScore,
}

const (
	clientIDIdx = iota
	clientFirstNameIdx
	clientLastNameIdx
	clientGithubIdx
	clientGradYearIdx
	clientGenderIdx
	clientHomeLocIdx
	clientFirstVisitIdx
	clientFutureVisitsIdx
	clientCompletedVisitsIdx
	clientEmailIdx
	clientAcctMgrEmailIdx
	clientEmergEmailIdx
	clientPhoneIdx
	clientAcctMgrPhoneIdx
	clientHomePhoneIdx
	clientEmergPhoneIdx
	clientBirthdateIdx
	clientLevelIdx
	clientScoreIdx
)

var enrollmentFields = []string{
	"person_id", "full_name", "service_date", "event_name", "visit_id", "instructor_names",
	"service_category", "state", "service_time",
}

const (
	enrollClientIDIdx = iota
	enrollFullNameIdx
	enrollDateIdx
	enrollEventIdx
	enrollVisitIdx
	enrollTeachersIdx
	enrollCategoryIdx
	enrollStateIdx
	enrollTimeIdx
)

var scheduleFields = []string{"service_day", "service_time", "duration_in_minutes", "event_name", "event_occurrence_id"}

var courseFields = []string{"event_id", "event_name", "enrollment_count"}

var staffFields = []string{FieldStaffClientID, "staff_since_date", "past_events"}

// TA is staff data for a student teaching assistant.
type TA struct {
	ClientID   int
	SinceDate  string
	PastEvents int
}

func and(filters ...interface{}) []interface{} { return []interface{}{"and", filters} }
func or(filters ...interface{}) []interface{}  { return []interface{}{"or", filters} }
func op(name, field string, value ...interface{}) []interface{} {
	f := []interface{}{name, field}
	return append(f, value...)
}
func between(field, from, to string) []interface{} {
	return []interface{}{"btw", field, []string{from, to}}
}

// Clients returns active, non-dependent clients with future visits or a visit after since.
// Guest and test accounts are dropped.
func (c *Client) Clients(ctx context.Context, since string) ([]models.Student, error) {
	filter := and(
		op("eq", "person_state", "active"),
		op("emp", "dependent_names"),
		or(op("gt", "future_visits", 0), op("gt", "last_visit_date", since)),
	)
	rows, err := c.report(ctx, "clients", clientFields, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch clients: %w", err)
	}

	students := make([]models.Student, 0, len(rows))
	for _, row := range rows {
		first := text(row, clientFirstNameIdx)
		if isTestAccount(first) {
			continue
		}
		students = append(students, models.Student{
			ClientID:         integer(row, clientIDIdx),
			FirstName:        first,
			LastName:         text(row, clientLastNameIdx),
			GithubName:       NormalizeGithub(text(row, clientGithubIdx)),
			GradYear:         parseGradYear(text(row, clientGradYearIdx)),
			Gender:           ParseGender(text(row, clientGenderIdx)),
			HomeLocationName: text(row, clientHomeLocIdx),
			StartDate:        text(row, clientFirstVisitIdx),
			FutureVisits:     integer(row, clientFutureVisitsIdx),
			Email:            NormalizeEmail(text(row, clientEmailIdx)),
			AcctMgrEmail:     NormalizeEmail(text(row, clientAcctMgrEmailIdx)),
			EmergencyEmail:   NormalizeEmail(text(row, clientEmergEmailIdx)),
			Phone:            NormalizePhones(text(row, clientPhoneIdx)),
			AcctMgrPhone:     NormalizePhones(text(row, clientAcctMgrPhoneIdx)),
			HomePhone:        NormalizePhones(text(row, clientHomePhoneIdx)),
			EmergencyPhone:   NormalizePhones(text(row, clientEmergPhoneIdx)),
			Birthdate:        text(row, clientBirthdateIdx),
			CurrentLevel:     strings.TrimSpace(text(row, clientLevelIdx)),
			LastScore:        text(row, clientScoreIdx),
			IsInMasterDB:     true,
		})
	}
	return students, nil
}

// StudentTAs returns active student teaching assistants with a numeric client id.
func (c *Client) StudentTAs(ctx context.Context) ([]TA, error) {
	filter := and(
		op("eq", "person_state", "active"),
		op("eq", FieldStaffCategory, "Student TA"),
		op("starts", "full_name", "TA-"),
	)
	rows, err := c.report(ctx, "staff_members", staffFields, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch student TAs: %w", err)
	}

	tas := make([]TA, 0, len(rows))
	for _, row := range rows {
		id, err := strconv.Atoi(strings.TrimSpace(text(row, 0)))
		if err != nil {
			continue
		}
		tas = append(tas, TA{ClientID: id, SinceDate: text(row, 1), PastEvents: integer(row, 2)})
	}
	return tas, nil
}

// Attendance returns completed visits in [from, to] and class registrations in [to, registeredUntil].
func (c *Client) Attendance(ctx context.Context, from, to, registeredUntil string) ([]models.AttendanceEvent, error) {
	filter := or(
		and(op("eq", "state", "completed"), between("service_date", from, to)),
		and(op("eq", "state", "registered"), between("service_date", to, registeredUntil),
			op("starts", "service_category", "class")),
	)
	return c.enrollments(ctx, filter)
}

// StudentAttendance returns one student's completed class visits in [from, to].
func (c *Client) StudentAttendance(ctx context.Context, fullName, from, to string) ([]models.AttendanceEvent, error) {
	filter := and(
		op("eq", "state", "completed"),
		between("service_date", from, to),
		op("starts", "service_category", "Class"),
		op("eq", "full_name", fullName),
	)
	return c.enrollments(ctx, filter)
}

func (c *Client) enrollments(ctx context.Context, filter interface{}) ([]models.AttendanceEvent, error) {
	rows, err := c.report(ctx, "enrollments", enrollmentFields, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch enrollments: %w", err)
	}

	events := make([]models.AttendanceEvent, 0, len(rows))
	for _, row := range rows {
		name := text(row, enrollEventIdx)
		date := text(row, enrollDateIdx)
		if name == "" || date == "" {
			continue
		}
		events = append(events, models.AttendanceEvent{
			ClientID:        integer(row, enrollClientIDIdx),
			VisitID:         integer(row, enrollVisitIdx),
			FullName:        text(row, enrollFullNameIdx),
			ServiceDate:     date,
			ServiceTime:     text(row, enrollTimeIdx),
			EventName:       name,
			TeacherNames:    text(row, enrollTeachersIdx),
			ServiceCategory: text(row, enrollCategoryIdx),
			State:           models.AttendanceState(text(row, enrollStateIdx)),
		})
	}
	return events, nil
}

// Schedule returns class occurrences in [from, to].
func (c *Client) Schedule(ctx context.Context, from, to string) ([]models.ScheduleEntry, error) {
	filter := and(
		between("service_date", from, to),
		op("starts", "service_category", "Class"),
		op("ne", "service_category", "class jslam"),
		op("nemp", "event_name"),
	)
	rows, err := c.report(ctx, "event_occurrences", scheduleFields, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}

	entries := make([]models.ScheduleEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, models.ScheduleEntry{
			DayOfWeek:  integer(row, 0),
			StartTime:  text(row, 1),
			Duration:   integer(row, 2),
			ClassName:  text(row, 3),
			ScheduleID: integer(row, 4),
		})
	}
	return entries, nil
}

// Courses returns course occurrences in [from, to] with enrollment counts.
func (c *Client) Courses(ctx context.Context, from, to string) ([]models.Course, error) {
	filter := and(between("service_date", from, to), op("starts", "service_type", "course"))
	rows, err := c.report(ctx, "event_occurrences", courseFields, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch courses: %w", err)
	}

	courses := make([]models.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, models.Course{
			ScheduleID: integer(row, 0),
			EventName:  text(row, 1),
			Enrolled:   integer(row, 2),
		})
	}
	return courses, nil
}

type occurrenceResponse struct {
	EventOccurrences []struct {
		Name      string `json:"name"`
		Resources []struct {
			Name string `json:"name"`
		} `json:"resources"`
	} `json:"event_occurrences"`
}

// Room returns the comma-joined resource names of a Java@CV occurrence, or "".
func (c *Client) Room(ctx context.Context, scheduleID int) (string, error) {
	var resp occurrenceResponse
	url := c.baseURL + fmt.Sprintf(corePath, "event_occurrences") + "?ids=" + strconv.Itoa(scheduleID)
	if err := c.do(ctx, http.MethodGet, url, "event_occurrences", nil, &resp); err != nil {
		return "", fmt.Errorf("fetch room for %d: %w", scheduleID, err)
	}
	if len(resp.EventOccurrences) == 0 {
		return "", nil
	}

	event := resp.EventOccurrences[0]
	if !strings.Contains(event.Name, "Java@CV") {
		return "", nil
	}
	names := make([]string, 0, len(event.Resources))
	for _, r := range event.Resources {
		names = append(names, r.Name)
	}
	return strings.Join(names, ", "), nil
}
