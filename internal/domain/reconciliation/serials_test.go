package reconciliation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSerial(t *testing.T) {
	lines := [][]string{{"SN1", "SN2"}, {"SN1"}}

	tests := []struct {
		name      string
		line, idx int
		value     string
		want      SerialCheck
	}{
		{"cross-line collision", 0, 0, "SN1", SerialDuplicate},
		{"collision seen from the other line", 1, 0, "SN1", SerialDuplicate},
		{"own position is ignored", 0, 1, "SN2", SerialValid},
		{"same line, different position", 0, 0, "SN2", SerialDuplicate},
		{"new serial", 1, 1, "SN3", SerialValid},
		{"whitespace is ignored", 1, 1, "  SN2 ", SerialDuplicate},
		{"blank is always valid", 0, 0, "", SerialValid},
		{"spaces are blank", 1, 0, "   ", SerialValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateSerial(lines, tt.line, tt.idx, tt.value))
		})
	}
}

func TestFindSerialConflicts(t *testing.T) {
	conflicts := FindSerialConflicts([][]string{
		{"A", "", "B"},
		{"C", "A "},
		{"B", "B"},
	})

	require.Len(t, conflicts, 3)
	assert.Equal(t, SerialConflict{Serial: "A", LineIndex: 1, SerialIndex: 1, FirstLineIndex: 0, FirstSerialIndex: 0}, conflicts[0])
	assert.Equal(t, SerialConflict{Serial: "B", LineIndex: 2, SerialIndex: 0, FirstLineIndex: 0, FirstSerialIndex: 2}, conflicts[1])
	assert.Equal(t, SerialConflict{Serial: "B", LineIndex: 2, SerialIndex: 1, FirstLineIndex: 0, FirstSerialIndex: 2}, conflicts[2])

	assert.Empty(t, FindSerialConflicts([][]string{{"", " "}, {""}}))
}
