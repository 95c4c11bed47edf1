// Package lookup holds the static tables the import engine consults: location codes, staff
// handles to ignore, pseudo-teacher tokens and room assignments.
package lookup

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// UnknownLocation is the code for a location name with no mapping.
const UnknownLocation = 0

type document struct {
	Locations             map[string]int      `yaml:"locations"`
	ExcludedHandles       []string            `yaml:"excluded_handles"`
	PseudoTeacherPrefixes []string            `yaml:"pseudo_teacher_prefixes"`
	JavaClassPrefixes     []string            `yaml:"java_class_prefixes"`
	Rooms                 map[string][]string `yaml:"rooms"`
}

// Tables is an immutable set of lookup tables. The zero value is empty but usable.
type Tables struct {
	locations      map[string]int
	excluded       map[string]struct{}
	pseudoTeachers []string
	javaPrefixes   []string
	rooms          map[string][]string
}

// Defaults parses the embedded tables.
func Defaults() (*Tables, error) {
	return Parse(defaultsYAML)
}

// Load reads tables from path, or the embedded defaults when path is empty.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Defaults()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lookup file: %w", err)
	}
	return Parse(raw)
}

// Parse builds tables from a YAML document.
func Parse(raw []byte) (*Tables, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse lookup tables: %w", err)
	}

	t := &Tables{
		locations: make(map[string]int, len(doc.Locations)),
		excluded:  make(map[string]struct{}, len(doc.ExcludedHandles)),
		rooms:     make(map[string][]string, len(doc.Rooms)),
	}
	for name, code := range doc.Locations {
		t.locations[strings.ToLower(strings.TrimSpace(name))] = code
	}
	for _, handle := range doc.ExcludedHandles {
		t.excluded[strings.ToLower(strings.TrimSpace(handle))] = struct{}{}
	}
	for _, p := range doc.PseudoTeacherPrefixes {
		t.pseudoTeachers = append(t.pseudoTeachers, strings.ToLower(p))
	}
	t.javaPrefixes = append(t.javaPrefixes, doc.JavaClassPrefixes...)
	for room, levels := range doc.Rooms {
		t.rooms[strings.TrimSpace(room)] = slices.Clone(levels)
	}
	return t, nil
}

// LocationCode maps a home location name to its code. ok is false for unknown names.
func (t *Tables) LocationCode(name string) (int, bool) {
	code, ok := t.locations[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return UnknownLocation, false
	}
	return code, true
}

// IsExcludedHandle reports whether handle belongs to staff whose commits are never matched.
func (t *Tables) IsExcludedHandle(handle string) bool {
	_, ok := t.excluded[strings.ToLower(strings.TrimSpace(handle))]
	return ok
}

// IsPseudoTeacher reports whether a teacher entry is an administrative placeholder.
func (t *Tables) IsPseudoTeacher(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range t.pseudoTeachers {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// IsJavaClass reports whether a class name belongs to the leveled curriculum.
func (t *Tables) IsJavaClass(className string) bool {
	for _, p := range t.javaPrefixes {
		if strings.HasPrefix(className, p) {
			return true
		}
	}
	return false
}

// RoomLevels returns the levels allowed in room. ok is false when the room has no assignment.
func (t *Tables) RoomLevels(room string) ([]string, bool) {
	levels, ok := t.rooms[strings.TrimSpace(room)]
	if !ok {
		return nil, false
	}
	return slices.Clone(levels), true
}

// ExcludedHandles returns the excluded handles in sorted order.
func (t *Tables) ExcludedHandles() []string {
	out := make([]string, 0, len(t.excluded))
	for h := range t.excluded {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
