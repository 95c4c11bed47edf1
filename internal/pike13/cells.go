package pike13

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// text reads a row cell as a string. Null, missing and `""` cells are empty.
func text(row []json.RawMessage, idx int) string {
	if idx >= len(row) {
		return ""
	}
	raw := bytes.TrimSpace(row[idx])
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == `""` {
			return ""
		}
		return s
	}
	return string(raw)
}

// integer reads a numeric cell. Non-numeric cells are 0.
func integer(row []json.RawMessage, idx int) int {
	v := strings.TrimSpace(text(row, idx))
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int(f)
	}
	return 0
}
