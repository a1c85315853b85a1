// Package progress tracks per-question practice status with optimistic
// local updates mirrored to the server in the background.
package progress

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Status is the practice status of a question.
type Status string

const (
	NotStarted Status = "not_started"
	Practiced  Status = "practiced"
	Mastered   Status = "mastered"
)

var allStatuses = []Status{NotStarted, Practiced, Mastered}

// ParseStatus parses a status name. Hyphens and case are tolerated.
func ParseStatus(s string) (Status, error) {
	norm := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if norm.Valid() {
		return norm, nil
	}
	return "", fmt.Errorf("unknown status %q (want one of %s)", s, strings.Join(statusNames(), ", "))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s != "" && s.rank() >= 0
}

// rank orders statuses by progress.
func (s Status) rank() int {
	switch s {
	case NotStarted, "":
		return 0
	case Practiced:
		return 1
	case Mastered:
		return 2
	default:
		return -1
	}
}

func statusNames() []string {
	names := make([]string, len(allStatuses))
	for i, s := range allStatuses {
		names[i] = string(s)
	}
	return names
}

// Entry is the tracked state of one question.
type Entry struct {
	Status    Status    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Data maps question IDs to entries.
type Data map[string]Entry

func (d Data) clone() Data {
	if d == nil {
		return Data{}
	}
	return maps.Clone(d)
}

// Stats counts questions per status.
type Stats struct {
	NotStarted int
	Practiced  int
	Mastered   int
}

// Total returns the number of counted questions.
func (s Stats) Total() int {
	return s.NotStarted + s.Practiced + s.Mastered
}
