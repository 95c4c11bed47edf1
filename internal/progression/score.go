package progression

import "strings"

// ScoreKind identifies which branch of the exam-score grammar matched.
type ScoreKind uint8

const (
	// ScoreUnrecognized means the text matched no grammar branch; it never produces a ledger row.
	ScoreUnrecognized ScoreKind = iota
	// ScoreLevel is "L<n> ...": a standard pass, "promoted" or "skip".
	ScoreLevel
	// ScoreAPCompA is "AP CompA <score>".
	ScoreAPCompA
	// ScoreAPPrinc is "AP Principles <score>".
	ScoreAPPrinc
	// ScoreOracle is "Oracle <score>".
	ScoreOracle
)

func (k ScoreKind) String() string {
	switch k {
	case ScoreLevel:
		return "level"
	case ScoreAPCompA:
		return "ap_compa"
	case ScoreAPPrinc:
		return "ap_princ"
	case ScoreOracle:
		return "oracle"
	default:
		return "unrecognized"
	}
}

// Score is the parsed form of a free-text exam score such as "L2 87" or "AP CompA 4".
type Score struct {
	Kind ScoreKind
	// Level is n in "L<n> ..." and only meaningful for ScoreLevel.
	Level int
	// Value is the score to record. Empty for promoted or skip entries.
	Value    string
	Promoted bool
	Skip     bool
	Raw      string
}

// ParseScore interprets the exam-score grammar:
//
//	L<n> [score] | L<n> promoted | L<n> skip... | AP CompA <score> | AP Princ[iples] <score> | Oracle <score>
func ParseScore(text string) Score {
	raw := strings.TrimSpace(text)
	lower := strings.ToLower(raw)
	s := Score{Raw: raw}

	if strings.Contains(lower, "promoted") {
		s.Promoted = true
	} else if strings.Contains(lower, "skip") {
		s.Skip = true
	}

	fields := strings.Fields(raw)
	switch {
	case strings.HasPrefix(lower, "ap compa"):
		s.Kind = ScoreAPCompA
		s.Value = remainder(fields, 2)
	case strings.HasPrefix(lower, "ap princ"):
		s.Kind = ScoreAPPrinc
		s.Value = remainder(fields, 2)
	case strings.HasPrefix(lower, "oracle"):
		s.Kind = ScoreOracle
		s.Value = remainder(fields, 1)
	case isLevelToken(raw):
		s.Kind = ScoreLevel
		s.Level = int(raw[1] - '0')
		if !s.Promoted && !s.Skip {
			s.Value = strings.TrimSpace(raw[2:])
		}
	}
	return s
}

// StartsWithLevel reports whether the score is the standard form for level n.
func (s Score) StartsWithLevel(n int) bool {
	return s.Kind == ScoreLevel && s.Level == n
}

// isLevelToken matches "L<digit>" followed by end of text or a space.
func isLevelToken(raw string) bool {
	if len(raw) < 2 || raw[0] != 'L' || raw[1] < '0' || raw[1] > '9' {
		return false
	}
	return len(raw) == 2 || raw[2] == ' '
}

func remainder(fields []string, skip int) string {
	if len(fields) <= skip {
		return ""
	}
	return strings.Join(fields[skip:], " ")
}
