package record_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-procurement-hub/internal/record"
	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

func supply(fy, no string, serial int) *record.SupplyOrder {
	return &record.SupplyOrder{
		Base:          record.Base{FinancialYear: fy, SerialNo: serial},
		SupplyOrderNo: no,
		SupplierName:  "Acme Traders",
		Quantity:      10,
		UnitPrice:     12.5,
		OrderDate:     time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range record.Kinds {
		got, err := record.ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
		assert.Equal(t, k, record.New(k).Kind())
	}

	_, err := record.ParseKind("invoice")
	assert.True(t, apperrors.IsInvalid(err))
}

func TestFinancialYearOf(t *testing.T) {
	tests := []struct {
		date time.Time
		want string
	}{
		{time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), "2024-25"},
		{time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), "2024-25"},
		{time.Date(2099, 12, 1, 0, 0, 0, 0, time.UTC), "2099-00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, record.FinancialYearOf(tt.date))
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, record.Validate(supply("2024-25", "SO-1", 0)))
	assert.NoError(t, record.Validate(supply("2024", "SO-1", 0)))

	tests := []struct {
		name string
		rec  record.Record
	}{
		{"bad financial year", supply("24-25", "SO-1", 0)},
		{"negative serial", supply("2024-25", "SO-1", -1)},
		{"missing order number", supply("2024-25", " ", 0)},
		{"negative amount", &record.BillOrder{Base: record.Base{FinancialYear: "2024-25"}, BillNo: "B-1", Amount: -1}},
		{"missing code", &record.SanctionCode{Base: record.Base{FinancialYear: "2024-25"}}},
		{"missing department", &record.DemandOrder{Base: record.Base{FinancialYear: "2024-25"}, DemandNo: "D-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, apperrors.IsInvalid(record.Validate(tt.rec)))
		})
	}
}

func TestColumnsAndValues(t *testing.T) {
	s := supply("2024-25", "SO-9", 3)
	cols := record.Columns(record.KindSupply)
	vals := record.Values(s)

	require.Len(t, vals, len(cols))
	assert.Equal(t, "supply_order_no", cols[0])
	assert.Equal(t, "SO-9", vals[0])
	assert.Equal(t, 10, vals[3])
	assert.Equal(t, 12.5, vals[4])
}

// TestMemoryStore_CRUD 依序號排序、自動編號、更新保留建立時間
func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()

	third, err := store.Create(ctx, supply("2024-25", "SO-3", 3))
	require.NoError(t, err)
	_, err = store.Create(ctx, supply("2024-25", "SO-1", 1))
	require.NoError(t, err)
	auto, err := store.Create(ctx, supply("2024-25", "SO-4", 0))
	require.NoError(t, err)
	assert.Equal(t, 4, record.Header(auto).SerialNo, "next serial after the highest")
	_, err = store.Create(ctx, supply("2023-24", "SO-old", 0))
	require.NoError(t, err)

	list, err := store.List(ctx, record.KindSupply, "2024-25")
	require.NoError(t, err)
	require.Len(t, list, 3)
	var serials []int
	for _, r := range list {
		serials = append(serials, record.Header(r).SerialNo)
	}
	assert.Equal(t, []int{1, 3, 4}, serials)

	// 回傳的是副本
	list[0].(*record.SupplyOrder).SupplierName = "mutated"
	again, err := store.Get(ctx, record.KindSupply, record.Header(list[0]).ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Traders", again.(*record.SupplyOrder).SupplierName)

	upd := third.(*record.SupplyOrder)
	upd.DeliveryStatus = "delivered"
	upd.SerialNo = 0
	got, err := store.Update(ctx, upd)
	require.NoError(t, err)
	assert.Equal(t, 3, record.Header(got).SerialNo, "zero serial keeps the stored one")
	assert.Equal(t, "delivered", got.(*record.SupplyOrder).DeliveryStatus)

	deleted, err := store.Delete(ctx, record.KindSupply, record.Header(third).ID)
	require.NoError(t, err)
	assert.Equal(t, "SO-3", deleted.(*record.SupplyOrder).SupplyOrderNo)

	_, err = store.Delete(ctx, record.KindSupply, record.Header(third).ID)
	assert.ErrorIs(t, err, apperrors.ErrRecordNotFound)
	_, err = store.Get(ctx, record.KindBill, record.Header(third).ID)
	assert.ErrorIs(t, err, apperrors.ErrRecordNotFound)

	missing := supply("2024-25", "SO-x", 0)
	missing.ID = 999
	_, err = store.Update(ctx, missing)
	assert.ErrorIs(t, err, apperrors.ErrRecordNotFound)

	counts, err := store.Count(ctx, "2024-25")
	require.NoError(t, err)
	assert.Equal(t, map[record.Kind]int{
		record.KindSupply: 2, record.KindDemand: 0, record.KindBill: 0, record.KindSanctionCode: 0,
	}, counts)
}
