package models

import (
	"strconv"
	"strings"
)

// Pseudo-levels for terminal exams recorded in the ledger.
const (
	MaxClassLevel = 8

	LevelAPCompA = 10
	LevelAPPrinc = 11
	LevelOracle  = 12
)

// Graduation is one ledger entry keyed by (client id, level).
type Graduation struct {
	ClientID     int    `db:"client_id" json:"client_id"`
	GradLevel    int    `db:"grad_level" json:"grad_level"`
	Score        string `db:"score" json:"score"`
	CurrentClass string `db:"current_class" json:"current_class"`
	StartDate    string `db:"start_date" json:"start_date"`
	EndDate      string `db:"end_date" json:"end_date"`
	SkipLevel    bool   `db:"skip_level" json:"skip_level"`
	Promoted     bool   `db:"promoted" json:"promoted"`
	Acknowledged bool   `db:"acknowledged" json:"acknowledged"`

	FirstName string `db:"first_name" json:"first_name,omitempty"`
	LastName  string `db:"last_name" json:"last_name,omitempty"`
}

// LevelName renders the ledger level for reports.
func LevelName(level int) string {
	switch level {
	case LevelAPCompA:
		return "AP_COMPA"
	case LevelAPPrinc:
		return "AP_PRINC"
	case LevelOracle:
		return "ORACLE"
	default:
		return strconv.Itoa(level)
	}
}

// ParseLevelName is the inverse of LevelName.
func ParseLevelName(name string) (int, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "AP_COMPA":
		return LevelAPCompA, true
	case "AP_PRINC":
		return LevelAPPrinc, true
	case "ORACLE":
		return LevelOracle, true
	}
	level, err := strconv.Atoi(strings.TrimSpace(name))
	if err != nil || level < 0 || level > MaxClassLevel {
		return 0, false
	}
	return level, true
}
