package reconciliation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
)

func TestMergeCandidates(t *testing.T) {
	f := newFixture()
	existing := counted(1, 2, "1")
	existing.SerialNumbers = []string{"SN1"}
	doc := f.physicalInventory(t, existing)

	batch := "B-7"
	withBatch := counted(0, 1, "1")
	withBatch.ProductID = existing.ProductID
	withBatch.BatchNumber = &batch

	sameProduct := counted(0, 4, "1")
	sameProduct.ProductID = existing.ProductID

	serialClash := counted(0, 1, "1")
	serialClash.SerialNumbers = []string{"SN2", " SN1 "}

	first, second := counted(0, 1, "1"), counted(0, 1, "1")
	first.SerialNumbers = []string{"SN5"}
	second.SerialNumbers = []string{"SN5"}

	repeated := counted(0, 1, "1")
	repeated.SerialNumbers = []string{"SN8", "SN8"}

	invalid := counted(0, 1, "-2")

	res, err := doc.MergeCandidates([]Line{withBatch, sameProduct, serialClash, first, second, repeated, invalid})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Added)
	require.Len(t, res.Issues, 5)
	assert.Equal(t, ImportIssue{Row: 2, Code: IssueDuplicateLine, ProductID: existing.ProductID, Message: "product already present on line 1"}, res.Issues[0])
	assert.Equal(t, IssueDuplicateSerial, res.Issues[1].Code)
	assert.Equal(t, "SN1", res.Issues[1].Serial)
	assert.Equal(t, 5, res.Issues[2].Row, "in-batch clash with an accepted candidate")
	assert.Equal(t, IssueDuplicateSerial, res.Issues[2].Code)
	assert.Equal(t, 6, res.Issues[3].Row)
	assert.Equal(t, IssueInvalidLine, res.Issues[4].Code)

	require.Len(t, doc.Lines, 3)
	assert.Equal(t, existing.ProductID, doc.Lines[0].ProductID)
	assert.Equal(t, types.NewQuantity(2), doc.Lines[0].TargetQuantity, "existing lines are not merged into")
	assert.Equal(t, []int{1, 2, 3}, []int{doc.Lines[0].LineNo, doc.Lines[1].LineNo, doc.Lines[2].LineNo})
	for _, l := range doc.Lines {
		assert.False(t, id.IsNil(l.LineID))
	}
	assert.Empty(t, FindSerialConflicts(doc.Serials()))
}

func TestMergeCandidatesRequiresEditable(t *testing.T) {
	f := newFixture()
	doc := f.physicalInventory(t, counted(0, 1, "1"))
	require.NoError(t, doc.Submit(clerk, f.reasons))

	_, err := doc.MergeCandidates([]Line{counted(0, 1, "1")})
	assert.True(t, apperror.IsInvalidStateTransition(err))
	assert.Len(t, doc.Lines, 1)
}

func TestLineInputToLine(t *testing.T) {
	blank := "  "
	in := LineInput{
		ProductID:      id.New(),
		TargetQuantity: types.NewQuantity(3),
		UnitCost:       types.MustMoney("1.25"),
		SerialNumbers:  []string{" A ", "", "B"},
		BatchNumber:    &blank,
	}

	line := in.ToLine(types.NewQuantity(7))
	assert.Equal(t, types.NewQuantity(7), line.BaselineQuantity)
	assert.Equal(t, []string{"A", "B"}, line.SerialNumbers)
	assert.Nil(t, line.BatchNumber)

	explicit := types.NewQuantity(2)
	in.BaselineQuantity = &explicit
	assert.Equal(t, explicit, in.ToLine(types.NewQuantity(7)).BaselineQuantity)
}
