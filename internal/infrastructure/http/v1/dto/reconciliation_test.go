package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
	"stockrecon/internal/domain/reconciliation"
)

func newValidator(t *testing.T) *validator.Validate {
	t.Helper()
	v := validator.New()
	v.SetTagName("binding")
	require.NoError(t, RegisterValidators(v))
	return v
}

func decodeLine(t *testing.T, raw string) LineRequest {
	t.Helper()
	var l LineRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &l))
	return l
}

func TestLineRequest_Validation(t *testing.T) {
	v := newValidator(t)
	product := id.New().String()

	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"counted line", `{"productId":"` + product + `","targetQuantity":"12.5","unitCost":"3.10"}`, ""},
		{"adjustment line", `{"productId":"` + product + `","adjustmentType":"deduct","adjustedQuantity":2,"unitCost":1}`, ""},
		{"missing product", `{"targetQuantity":1}`, "ProductID"},
		{"negative count", `{"productId":"` + product + `","targetQuantity":-1}`, "nonneg"},
		{"negative baseline", `{"productId":"` + product + `","baselineQuantity":"-0.5"}`, "nonneg"},
		{"negative cost", `{"productId":"` + product + `","unitCost":"-0.01"}`, "nonneg"},
		{"unknown adjustment type", `{"productId":"` + product + `","adjustmentType":"move"}`, "adjtype"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(decodeLine(t, tt.raw))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateDocumentRequest_Validation(t *testing.T) {
	v := newValidator(t)
	store := id.New()

	valid := CreateDocumentRequest{
		Kind:            string(reconciliation.KindPhysicalInventory),
		DocumentRequest: DocumentRequest{Date: time.Now(), StoreID: store},
	}
	assert.NoError(t, v.Struct(valid))

	badKind := valid
	badKind.Kind = "transfer"
	assert.Error(t, v.Struct(badKind))

	noStore := valid
	noStore.StoreID = id.ID{}
	assert.Error(t, v.Struct(noStore))

	badLine := valid
	badLine.Lines = []LineRequest{{ProductID: id.New(), TargetQuantity: types.NewQuantity(-1)}}
	assert.Error(t, v.Struct(badLine))
}

func TestPreconditionRequest_Validation(t *testing.T) {
	v := newValidator(t)

	assert.NoError(t, v.Struct(PreconditionRequest{ExpectedStatus: "submitted"}))
	assert.NoError(t, v.Struct(PreconditionRequest{ExpectedStatus: "draft", ExpectedVersion: 3}))
	assert.Error(t, v.Struct(PreconditionRequest{}))
	assert.Error(t, v.Struct(PreconditionRequest{ExpectedStatus: "posted"}))
}

func TestUpdateDocumentRequest_DecodesBothParts(t *testing.T) {
	store := id.New()
	raw := `{"expectedStatus":"draft","expectedVersion":2,"date":"2026-03-01T00:00:00Z","storeId":"` + store.String() + `","comment":"recount"}`

	var req UpdateDocumentRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	pre := req.ToPrecondition()
	assert.Equal(t, reconciliation.StatusDraft, pre.ExpectedStatus)
	assert.Equal(t, 2, pre.ExpectedVersion)

	in := req.ToInput()
	assert.Equal(t, store, in.StoreID)
	assert.Equal(t, "recount", in.Comment)
	assert.True(t, id.IsNil(in.CurrencyID), "missing currency means default")
}

func TestApproveRequest_OverrideMap(t *testing.T) {
	lineA, lineB := id.New(), id.New()
	req := ApproveRequest{Overrides: []ApprovedQuantityRequest{
		{LineID: lineA, Quantity: types.NewQuantity(3)},
		{LineID: lineB, Quantity: 0},
	}}

	m, err := req.OverrideMap()
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, types.NewQuantity(3), m[lineA])
	assert.Equal(t, types.Quantity(0), m[lineB])

	m, err = ApproveRequest{}.OverrideMap()
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestApproveRequest_OverrideMapRejectsDuplicateLine(t *testing.T) {
	lineA, lineB := id.New(), id.New()
	req := ApproveRequest{Overrides: []ApprovedQuantityRequest{
		{LineID: lineA, Quantity: types.NewQuantity(3)},
		{LineID: lineB, Quantity: types.NewQuantity(1)},
		{LineID: lineA, Quantity: types.NewQuantity(2)},
	}}

	m, err := req.OverrideMap()
	require.Error(t, err)
	assert.Nil(t, m)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Equal(t, "overrides[2].lineId", appErr.Details["field"])
	assert.Equal(t, lineA.String(), appErr.Details["lineId"])
}

func TestListReconciliationsQuery_ToFilter(t *testing.T) {
	store := id.New()
	q := ListReconciliationsQuery{
		ListQuery: ListQuery{Search: "PI-", Limit: 10, Offset: 20},
		Kind:      "stock_adjustment",
		Status:    "approved",
		StoreID:   store.String(),
	}

	f := q.ToFilter()
	assert.Equal(t, "PI-", f.Search)
	assert.Equal(t, 10, f.Limit)
	assert.Equal(t, 20, f.Offset)
	assert.Equal(t, "-date", f.OrderBy)
	assert.Equal(t, reconciliation.KindStockAdjustment, f.Kind)
	assert.Equal(t, reconciliation.StatusApproved, f.Status)
	require.NotNil(t, f.StoreID)
	assert.Equal(t, store, *f.StoreID)
}

func TestFromDocument_RoundsForDisplay(t *testing.T) {
	doc := reconciliation.NewDocument(reconciliation.KindPhysicalInventory)
	doc.TotalAmount = decimal.RequireFromString("1234.5678")
	doc.EquivalentTotal = decimal.NewNullDecimal(decimal.RequireFromString("98.765"))
	doc.ExchangeRate = decimal.NewNullDecimal(decimal.RequireFromString("0.08000123"))
	doc.Lines = []reconciliation.Line{{
		LineID:              id.New(),
		LineNo:              1,
		ProductID:           id.New(),
		TargetQuantity:      types.MustQuantity("2.5"),
		UnitCost:            decimal.RequireFromString("493.82712"),
		LineTotal:           decimal.RequireFromString("1234.5678"),
		EquivalentLineTotal: decimal.NewNullDecimal(decimal.RequireFromString("98.765")),
	}}

	resp := FromDocument(doc, Places{Document: 2, Default: 0})

	assert.Equal(t, "Pending", resp.Number)
	assert.Equal(t, "1234.57", resp.TotalAmount)
	require.NotNil(t, resp.EquivalentTotal)
	assert.Equal(t, "99", *resp.EquivalentTotal)
	assert.True(t, resp.RateAvailable)
	require.NotNil(t, resp.ExchangeRate)
	assert.Equal(t, "0.08000123", *resp.ExchangeRate)

	require.Len(t, resp.Lines, 1)
	line := resp.Lines[0]
	assert.Equal(t, "1234.57", line.LineTotal)
	assert.Equal(t, "493.82712", line.UnitCost, "unit cost keeps full precision")
	assert.Equal(t, "99", *line.EquivalentLineTotal)
	assert.NotNil(t, line.SerialNumbers)
	assert.NotNil(t, resp.Warnings)

	// Stored values are untouched.
	assert.Equal(t, "1234.5678", doc.TotalAmount.String())
}

func TestFromDocument_RateUnavailable(t *testing.T) {
	doc := reconciliation.NewDocument(reconciliation.KindStockAdjustment)
	doc.Number = "SA-2026-000007"
	doc.TotalAmount = decimal.RequireFromString("10")
	doc.Warnings = []reconciliation.Warning{{Code: reconciliation.WarningRateUnavailable, Message: "no rate"}}

	resp := FromDocument(doc, Places{Document: 3, Default: 2})

	assert.Equal(t, "SA-2026-000007", resp.Number)
	assert.Equal(t, "10.000", resp.TotalAmount)
	assert.Nil(t, resp.EquivalentTotal)
	assert.Nil(t, resp.ExchangeRate)
	assert.False(t, resp.RateAvailable)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"equivalentTotal":null`)
	assert.Contains(t, string(raw), reconciliation.WarningRateUnavailable)
}
