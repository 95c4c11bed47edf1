// Package progression decides which level-completion ledger entries a roster change implies.
package progression

import (
	"github.com/noah-isme/student-tracker-sync/internal/models"
)

// Entry is a ledger row to write. LookupStartDate is set when the start date must be
// resolved from the student's attendance at that level.
type Entry struct {
	models.Graduation
	LookupStartDate bool
	// Amend marks a re-score of an already completed level: a unique violation on insert
	// becomes an update of the existing row.
	Amend bool
}

// Plan is the outcome of comparing a stored student with its imported version.
type Plan struct {
	Entries []Entry
	// Level is the level to persist on the student row.
	Level string
	// Triggered is true when the level or score change ran the progression rules.
	Triggered bool
	// Invalid is true when a triggered change carried an unrecognised score.
	Invalid bool
	Score   Score
}

// ClearsModule reports whether persisting the plan resets the student's current module.
func (p Plan) ClearsModule() bool {
	return len(p.Entries) > 0
}

// Build applies the progression rules to one student. today is "YYYY-MM-DD".
func Build(stored, imported models.Student, today string) Plan {
	plan := Plan{Level: imported.CurrentLevel, Score: ParseScore(imported.LastScore)}
	score := plan.Score

	if stored.CurrentLevel == "" {
		newN, ok := models.ParseLevel(imported.CurrentLevel)
		if ok && score.Skip && score.Kind == ScoreLevel {
			plan.Triggered = true
			plan.Entries = skipped(stored, 0, newN, today)
		}
		return plan
	}

	oldN, okOld := models.ParseLevel(stored.CurrentLevel)
	newN, okNew := models.ParseLevel(imported.CurrentLevel)
	if !okOld || !okNew {
		return plan
	}

	levelUp := newN > oldN
	rescore := newN == oldN && len(imported.LastScore) > 3 && imported.LastScore != stored.LastScore
	if !levelUp && !rescore {
		return plan
	}
	plan.Triggered = true

	switch {
	case score.Kind == ScoreLevel && score.Skip && newN-oldN > 1:
		plan.Entries = skipped(stored, oldN, newN, today)

	case newN == oldN+1 && oldN <= models.MaxClassLevel && score.StartsWithLevel(oldN):
		plan.Entries = []Entry{completed(stored, oldN, score, today, false)}

	case newN == oldN && oldN > 0 && score.StartsWithLevel(oldN-1):
		plan.Entries = []Entry{completed(stored, oldN-1, score, today, true)}

	case score.Kind == ScoreAPCompA, score.Kind == ScoreAPPrinc, score.Kind == ScoreOracle:
		plan.Level = stored.CurrentLevel
		plan.Entries = []Entry{completed(stored, pseudoLevel(score.Kind), score, today, false)}

	default:
		plan.Level = stored.CurrentLevel
		plan.Invalid = true
	}
	return plan
}

// completed and skipped take the stored student: the roster snapshot carries no class, which the
// attendance phase maintains.
func completed(s models.Student, level int, score Score, today string, amend bool) Entry {
	return Entry{
		Graduation: models.Graduation{
			ClientID:     s.ClientID,
			GradLevel:    level,
			Score:        score.Value,
			CurrentClass: s.CurrentClass,
			EndDate:      today,
			SkipLevel:    score.Skip,
			Promoted:     score.Promoted,
		},
		LookupStartDate: true,
		Amend:           amend,
	}
}

// skipped produces one entry per level in [from, to).
func skipped(s models.Student, from, to int, today string) []Entry {
	entries := make([]Entry, 0, to-from)
	for level := from; level < to; level++ {
		entries = append(entries, Entry{Graduation: models.Graduation{
			ClientID:     s.ClientID,
			GradLevel:    level,
			CurrentClass: s.CurrentClass,
			StartDate:    today,
			EndDate:      today,
			SkipLevel:    true,
		}})
	}
	return entries
}

func pseudoLevel(kind ScoreKind) int {
	switch kind {
	case ScoreAPCompA:
		return models.LevelAPCompA
	case ScoreAPPrinc:
		return models.LevelAPPrinc
	default:
		return models.LevelOracle
	}
}

// ResolveStartDate filters a looked-up start date: levels above the class range and dates
// before cutoff yield "".
func ResolveStartDate(level int, found, cutoff string) string {
	if level > models.MaxClassLevel || found == "" || found < cutoff {
		return ""
	}
	return found
}
