// Package modules infers the curriculum module a student is working on from a repository name.
package modules

import "strings"

// Module values that are not a plain digit.
const (
	Exam         = "E"
	PracticeExam = "P"
)

type indexed struct {
	prefix string
	idx    int
}

// Infer returns the module implied by repo for a student at level. ok is false when the name
// matches no known pattern or the level is outside the tracked range.
func Infer(level, repo string) (module string, ok bool) {
	if len(level) != 1 || level[0] > '5' || level[0] < '0' {
		return "", false
	}
	name := strings.ToLower(strings.TrimSpace(repo))
	l := level

	for _, p := range []indexed{
		{"level" + l + "-module", 13},
		{"level-" + l + "-module", 14},
		{"old-level" + l + "-module", 17},
		{"level" + l + "-checkpoint", 17},
	} {
		if strings.HasPrefix(name, p.prefix) {
			return digitAt(name, p.idx)
		}
	}

	if l == "5" && strings.HasPrefix(name, "level5-0") && len(name) > 10 && name[9] == '-' {
		return digitAt(name, 8)
	}

	if l == "2" {
		switch {
		case strings.HasPrefix(name, "processingsnake-"):
			return "2", true
		case strings.HasPrefix(name, "league-invaders-"):
			return "3", true
		case strings.HasPrefix(name, "league-level2-game-"):
			return "4", true
		}
	}

	if strings.HasPrefix(name, "level-"+l+"-practice-coding-exam") {
		return PracticeExam, true
	}
	for _, prefix := range []string{
		"level" + l + "-exam",
		"level" + l + "-coding-exam",
		"level" + l + "-codingexam",
		"level-" + l + "-coding-exam",
		"level-" + l + "-codingexam",
	} {
		if strings.HasPrefix(name, prefix) {
			return Exam, true
		}
	}
	return "", false
}

// digitAt reads a module digit at idx, skipping one leading '-'. The digit must end the string
// or be followed by '-'.
func digitAt(name string, idx int) (string, bool) {
	if idx < len(name) && name[idx] == '-' {
		idx++
	}
	if idx >= len(name) || name[idx] < '0' || name[idx] > '9' {
		return "", false
	}
	if idx+1 < len(name) && name[idx+1] != '-' {
		return "", false
	}
	return name[idx : idx+1], true
}

// ShouldApply reports whether an inferred module replaces the stored one. Modules only move
// forward, except that an exam always applies.
func ShouldApply(current *string, inferred string) bool {
	if inferred == Exam {
		return true
	}
	if current == nil || *current == "" {
		return true
	}
	return inferred > *current
}
