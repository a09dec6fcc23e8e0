package reconciliation

import (
	"strings"
)

// SerialCheck is the outcome of validating one serial number.
type SerialCheck int

const (
	SerialValid SerialCheck = iota
	SerialDuplicate
)

// ValidateSerial checks value as if it were placed at lines[lineIndex][serialIndex].
//
// Blank values are always valid. A non-blank value is a duplicate when it
// equals any serial at a different position, in the same line or any other.
// Comparison ignores surrounding whitespace.
func ValidateSerial(lines [][]string, lineIndex, serialIndex int, value string) SerialCheck {
	v := strings.TrimSpace(value)
	if v == "" {
		return SerialValid
	}
	for i, serials := range lines {
		for j, s := range serials {
			if i == lineIndex && j == serialIndex {
				continue
			}
			if strings.TrimSpace(s) == v {
				return SerialDuplicate
			}
		}
	}
	return SerialValid
}

// SerialConflict records a repeated serial. The "first" position is the
// earliest occurrence; indexes are 0-based.
type SerialConflict struct {
	Serial           string
	LineIndex        int
	SerialIndex      int
	FirstLineIndex   int
	FirstSerialIndex int
}

// FindSerialConflicts returns every occurrence of a serial after its first,
// in document order.
func FindSerialConflicts(lines [][]string) []SerialConflict {
	type pos struct{ line, idx int }
	seen := make(map[string]pos)

	var conflicts []SerialConflict
	for i, serials := range lines {
		for j, s := range serials {
			v := strings.TrimSpace(s)
			if v == "" {
				continue
			}
			if first, ok := seen[v]; ok {
				conflicts = append(conflicts, SerialConflict{
					Serial:           v,
					LineIndex:        i,
					SerialIndex:      j,
					FirstLineIndex:   first.line,
					FirstSerialIndex: first.idx,
				})
				continue
			}
			seen[v] = pos{i, j}
		}
	}
	return conflicts
}

// normalizeSerials trims entries and drops blanks, keeping order.
func normalizeSerials(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
