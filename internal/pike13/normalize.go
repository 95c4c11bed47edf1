package pike13

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/noah-isme/student-tracker-sync/internal/models"
)

var listSeparator = regexp.MustCompile(`\s*,\s*`)

// NormalizeGithub strips annotations after the first '(' from a handle.
func NormalizeGithub(handle string) string {
	if handle == `""` {
		return ""
	}
	if i := strings.IndexByte(handle, '('); i >= 0 {
		handle = handle[:i]
	}
	return strings.TrimSpace(handle)
}

// NormalizeEmail trims an address and removes embedded tabs and line breaks.
func NormalizeEmail(email string) string {
	return strings.NewReplacer("\t", "", "\n", "", "\r", "").Replace(strings.TrimSpace(email))
}

// NormalizePhones formats each comma-separated number as "(xxx) xxx-xxxx" when its shape is
// recognised. Values shorter than 10 characters are returned unchanged.
func NormalizePhones(list string) string {
	trimmed := strings.TrimSpace(list)
	if len(trimmed) < 10 {
		return list
	}
	parts := listSeparator.Split(trimmed, -1)
	for i, p := range parts {
		parts[i] = normalizePhone(strings.TrimSpace(p))
	}
	return strings.Join(parts, ", ")
}

func normalizePhone(p string) string {
	sep := func(b byte) bool { return b == '-' || b == '.' || b == ' ' }
	switch {
	case len(p) == 10 && !strings.ContainsAny(p, "(-"):
		return "(" + p[:3] + ") " + p[3:6] + "-" + p[6:]
	case len(p) == 12 && sep(p[3]) && sep(p[7]):
		return "(" + p[:3] + ") " + p[4:7] + "-" + p[8:]
	case len(p) == 13 && p[0] == '(' && p[4] == ')' && p[8] == '-':
		return p[:5] + " " + p[5:]
	case len(p) == 11 && p[3] == ' ':
		return "(" + p[:3] + ") " + p[4:7] + "-" + p[7:]
	case len(p) == 11 && p[0] == '1':
		return "(" + p[1:4] + ") " + p[4:7] + "-" + p[7:]
	default:
		return p
	}
}

// ParseGender maps the gender custom field to a roster code.
func ParseGender(value string) int {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return models.GenderUnknown
	case "male", "m", "boy":
		return models.GenderMale
	case "female", "f", "girl":
		return models.GenderFemale
	default:
		return models.GenderOther
	}
}

func parseGradYear(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}

func isTestAccount(firstName string) bool {
	return strings.HasPrefix(firstName, "Guest") || firstName == "Test" || strings.HasPrefix(firstName, "TestChild")
}
