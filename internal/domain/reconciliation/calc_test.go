package reconciliation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
)

func TestResolveRate(t *testing.T) {
	usd, eur, gbp := id.New(), id.New(), id.New()
	table := []ExchangeRate{
		{FromCurrencyID: eur, ToCurrencyID: usd, Rate: decimal.RequireFromString("1.08")},
		{FromCurrencyID: usd, ToCurrencyID: usd, Rate: decimal.RequireFromString("7")},
		{FromCurrencyID: gbp, ToCurrencyID: usd, Rate: decimal.Zero},
	}

	t.Run("same currency short-circuits the table", func(t *testing.T) {
		rate := ResolveRate(usd, usd, table)
		require.True(t, rate.Valid)
		assert.True(t, rate.Decimal.Equal(decimal.NewFromInt(1)))

		rate = ResolveRate(gbp, gbp, nil)
		require.True(t, rate.Valid)
		assert.True(t, rate.Decimal.Equal(decimal.NewFromInt(1)))
	})

	t.Run("matching pair", func(t *testing.T) {
		rate := ResolveRate(eur, usd, table)
		require.True(t, rate.Valid)
		assert.Equal(t, "1.08", rate.Decimal.String())
	})

	t.Run("rates are directed", func(t *testing.T) {
		assert.False(t, ResolveRate(usd, eur, table).Valid)
	})

	t.Run("non-positive entries count as missing", func(t *testing.T) {
		assert.False(t, ResolveRate(gbp, usd, table).Valid)
	})
}

func TestComputeCounted(t *testing.T) {
	for baseline := int64(0); baseline <= 6; baseline++ {
		for target := int64(0); target <= 6; target++ {
			b, tq := types.NewQuantity(baseline), types.NewQuantity(target)
			adj := ComputeCounted(b, tq)

			assert.Equal(t, tq, adj.NewStock)
			assert.False(t, adj.In.IsPositive() && adj.Out.IsPositive(), "in and out both set for %d/%d", baseline, target)
			assert.Equal(t, baseline == target, adj.In.IsZero() && adj.Out.IsZero())
			assert.False(t, adj.In.IsNegative() || adj.Out.IsNegative())
			assert.Equal(t, tq-b, adj.In-adj.Out)
		}
	}

	adj := ComputeCounted(types.MustQuantity("2.5"), types.MustQuantity("1.25"))
	assert.Equal(t, types.MustQuantity("1.25"), adj.Out)
	assert.True(t, adj.In.IsZero())
}

func TestComputeDirected(t *testing.T) {
	tests := []struct {
		name     string
		baseline int64
		typ      AdjustmentType
		adjusted int64
		in, out  int64
		newStock int64
		warn     string
	}{
		{"add", 10, AdjustmentAdd, 5, 5, 0, 15, ""},
		{"deduct within stock", 10, AdjustmentDeduct, 4, 0, 4, 6, ""},
		{"deduct all", 10, AdjustmentDeduct, 10, 0, 10, 0, ""},
		{"deduct beyond stock is clamped", 10, AdjustmentDeduct, 15, 0, 10, 0, WarningDeductExceedsStock},
		{"deduct from empty stock", 0, AdjustmentDeduct, 3, 0, 0, 0, WarningDeductExceedsStock},
		{"missing type with an amount warns", 7, "", 3, 0, 0, 7, WarningAdjustmentTypeMissing},
		{"unknown type with an amount warns", 7, "move", 3, 0, 0, 7, WarningAdjustmentTypeMissing},
		{"blank row is silent", 7, "", 0, 0, 0, 7, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj, warn := ComputeDirected(types.NewQuantity(tt.baseline), tt.typ, types.NewQuantity(tt.adjusted))
			assert.Equal(t, types.NewQuantity(tt.in), adj.In)
			assert.Equal(t, types.NewQuantity(tt.out), adj.Out)
			assert.Equal(t, types.NewQuantity(tt.newStock), adj.NewStock)
			assert.False(t, adj.NewStock.IsNegative())
			if tt.warn != "" {
				require.NotNil(t, warn)
				assert.Equal(t, tt.warn, warn.Code)
			} else {
				assert.Nil(t, warn)
			}
		})
	}
}

func TestValueLine(t *testing.T) {
	cost := types.MustMoney("2.00")

	v := ValueLine(types.NewQuantity(5), cost, decimal.NewNullDecimal(decimal.NewFromInt(1)))
	assert.Equal(t, "10.00", v.LineTotal.StringFixed(2))
	require.True(t, v.EquivalentLineTotal.Valid)
	assert.Equal(t, "10.00", v.EquivalentLineTotal.Decimal.StringFixed(2))

	v = ValueLine(types.NewQuantity(5), cost, RateUnavailable)
	assert.Equal(t, "10.00", v.LineTotal.StringFixed(2))
	assert.False(t, v.EquivalentLineTotal.Valid)

	v = ValueLine(types.MustQuantity("0.3333"), types.MustMoney("0.10"), decimal.NewNullDecimal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "0.03333", v.LineTotal.String())
	assert.Equal(t, "0.049995", v.EquivalentLineTotal.Decimal.String())
}

func TestAggregate(t *testing.T) {
	rate := decimal.NewNullDecimal(decimal.RequireFromString("0.5"))
	a := ValueLine(types.NewQuantity(1), types.MustMoney("0.005"), rate)
	b := ValueLine(types.NewQuantity(1), types.MustMoney("0.005"), rate)

	totals := Aggregate(a, b)
	assert.Equal(t, "0.01", totals.Total.String())
	require.True(t, totals.EquivalentTotal.Valid)
	assert.Equal(t, "0.005", totals.EquivalentTotal.Decimal.String())

	totals = Aggregate(a, ValueLine(types.NewQuantity(1), types.MustMoney("1"), RateUnavailable), b)
	assert.Equal(t, "1.01", totals.Total.String())
	assert.False(t, totals.EquivalentTotal.Valid)

	empty := Aggregate()
	assert.True(t, empty.Total.IsZero())
	assert.True(t, empty.EquivalentTotal.Valid)
}

func TestRecalculateIsIdempotent(t *testing.T) {
	for _, kind := range []Kind{KindPhysicalInventory, KindStockAdjustment} {
		doc := NewDocument(kind)
		doc.ExchangeRate = decimal.NewNullDecimal(decimal.RequireFromString("1.1"))
		require.NoError(t, doc.SetLines([]Line{
			{ProductID: id.New(), BaselineQuantity: types.NewQuantity(4), TargetQuantity: types.NewQuantity(6),
				AdjustmentType: AdjustmentDeduct, AdjustedQuantity: types.NewQuantity(9), UnitCost: types.MustMoney("3.3")},
		}))

		first := doc.Recalculate()
		snapshot := doc.Lines[0]
		total, equivalent := doc.TotalAmount, doc.EquivalentTotal

		second := doc.Recalculate()
		assert.Equal(t, first, second)
		assert.Equal(t, snapshot, doc.Lines[0])
		assert.True(t, total.Equal(doc.TotalAmount))
		assert.Equal(t, equivalent, doc.EquivalentTotal)
	}
}

func TestStrategyValuationBasis(t *testing.T) {
	rate := decimal.NewNullDecimal(decimal.NewFromInt(1))

	pi := Line{BaselineQuantity: types.NewQuantity(8), TargetQuantity: types.NewQuantity(5), UnitCost: types.MustMoney("2")}
	physicalInventory{}.RecomputeLine(&pi, rate)
	assert.Equal(t, types.NewQuantity(3), pi.AdjustmentOut)
	assert.Equal(t, "10", pi.LineTotal.String(), "counted stock is valued in full")

	sa := Line{BaselineQuantity: types.NewQuantity(8), AdjustmentType: AdjustmentDeduct, AdjustedQuantity: types.NewQuantity(3), UnitCost: types.MustMoney("2")}
	warnings := stockAdjustment{}.RecomputeLine(&sa, rate)
	assert.Empty(t, warnings)
	assert.Equal(t, types.NewQuantity(5), sa.NewStock)
	assert.Equal(t, types.NewQuantity(5), sa.TargetQuantity)
	assert.Equal(t, "6", sa.LineTotal.String(), "only the moved quantity is valued")

	sa.AdjustedQuantity = types.NewQuantity(12)
	sa.LineNo = 3
	warnings = stockAdjustment{}.RecomputeLine(&sa, rate)
	require.Len(t, warnings, 1)
	assert.Equal(t, 3, warnings[0].Line)
	assert.Equal(t, "16", sa.LineTotal.String(), "clamped deduction values what was removed")
}
