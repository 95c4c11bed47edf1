package models

// ScheduleEntry is one weekly class occurrence plus its derived roster snapshot.
type ScheduleEntry struct {
	ScheduleID   int    `db:"schedule_id" json:"schedule_id"`
	DayOfWeek    int    `db:"day_of_week" json:"day_of_week"`
	StartTime    string `db:"start_time" json:"start_time"`
	Duration     int    `db:"duration" json:"duration"`
	ClassName    string `db:"class_name" json:"class_name"`
	NumStudents  int    `db:"num_students" json:"num_students"`
	Youngest     string `db:"youngest" json:"youngest"`
	Oldest       string `db:"oldest" json:"oldest"`
	AverageAge   string `db:"average_age" json:"average_age"`
	ModuleCount  string `db:"module_count" json:"module_count"`
	Room         string `db:"room" json:"room"`
	RoomMismatch bool   `db:"room_mismatch" json:"room_mismatch"`
}

// Course is a workshop or camp occurrence with its enrollment count.
type Course struct {
	ScheduleID int    `db:"schedule_id" json:"schedule_id"`
	EventName  string `db:"event_name" json:"event_name"`
	Enrolled   int    `db:"enrolled" json:"enrolled"`
}
