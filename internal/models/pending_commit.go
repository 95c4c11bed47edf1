package models

// Diagnostic tag written onto pending commits whose handle matches no student.
const PendingHandleNotFound = "?"

// PendingCommit is one inbound commit notification awaiting a match.
type PendingCommit struct {
	PrimaryID  int64  `db:"primary_id" json:"primary_id"`
	GitUser    string `db:"git_user" json:"git_user"`
	RepoName   string `db:"repo_name" json:"repo_name"`
	CommitDate string `db:"commit_date" json:"commit_date"`
	Comments   string `db:"comments" json:"comments"`
	GotGit     string `db:"got_git" json:"got_git"`
	Status     string `db:"status" json:"status"`
}

// LogEntry is a persisted diagnostic record.
type LogEntry struct {
	ID          int64  `db:"id" json:"id"`
	Code        string `db:"code" json:"code"`
	ClientID    int    `db:"client_id" json:"client_id"`
	StudentName string `db:"student_name" json:"student_name"`
	Message     string `db:"message" json:"message"`
	CreatedAt   string `db:"created_at" json:"created_at"`
}
