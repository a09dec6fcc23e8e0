package document_repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrecon/internal/core/apperror"
)

func TestParseOrderBy(t *testing.T) {
	repo := NewReconciliationRepo(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"", "date DESC"},
		{"number", "number ASC"},
		{"+number", "number ASC"},
		{"-created_at", "created_at DESC"},
		{" -status ", "status DESC"},
	}
	for _, tt := range tests {
		got, err := repo.parseOrderBy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseOrderBy_RejectsUnknownColumns(t *testing.T) {
	repo := NewReconciliationRepo(nil)

	for _, in := range []string{"lines", "-", "date; DROP TABLE doc_reconciliations", "serial_numbers"} {
		_, err := repo.parseOrderBy(in)
		assert.True(t, apperror.IsValidation(err), in)
	}
}

func TestLineColumnsAreStored(t *testing.T) {
	assert.Equal(t, "line_id", lineColumns[0])
	assert.Contains(t, lineColumns, "approved_quantity")
	assert.NotContains(t, lineColumns, "document_id")
	assert.NotContains(t, lineColumns, "adjustment_in")
}
