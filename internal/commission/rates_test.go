package commission

import (
	"context"
	"testing"

	"mlm_ledger/internal/db/dbtest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountRounding(t *testing.T) {
	cases := []struct {
		amount, rate, want string
	}{
		{"8000", "15", "1200.00"},
		{"8000", "10", "800.00"},
		{"333.33", "15", "50.00"},
		{"99.99", "3", "3.00"},
		{"0.10", "5", "0.01"},
		{"0.09", "5", "0.00"},
	}
	for _, c := range cases {
		got := Amount(decimal.RequireFromString(c.amount), decimal.RequireFromString(c.rate))
		assert.Equal(t, c.want, got.StringFixed(2), "%s at %s%%", c.amount, c.rate)
	}
}

func TestUpdateSetting(t *testing.T) {
	gdb := dbtest.OpenSeeded(t)
	ctx := context.Background()

	_, err := UpdateSetting(ctx, gdb, 0, SettingInput{Rate: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidLevel)
	_, err = UpdateSetting(ctx, gdb, 6, SettingInput{Rate: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidLevel)
	_, err = UpdateSetting(ctx, gdb, 1, SettingInput{Rate: decimal.NewFromInt(101)})
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = UpdateSetting(ctx, gdb, 1, SettingInput{Rate: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, ErrInvalidRate)

	row, err := UpdateSetting(ctx, gdb, 3, SettingInput{Rate: decimal.RequireFromString("7.5"), IsActive: false, Description: "paused"})
	require.NoError(t, err)
	assert.Equal(t, 3, row.Level)
	assert.Equal(t, "7.50", row.Rate.StringFixed(2))
	assert.False(t, row.IsActive)
	assert.Equal(t, "paused", row.Description)

	active, err := ActiveTable(ctx, gdb)
	require.NoError(t, err)
	levels := make([]int, 0, len(active))
	for _, s := range active {
		levels = append(levels, s.Level)
	}
	assert.Equal(t, []int{1, 2, 4, 5}, levels)

	all, err := AllSettings(ctx, gdb)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	row, err = UpdateSetting(ctx, gdb, 3, SettingInput{Rate: decimal.NewFromInt(6), IsActive: true})
	require.NoError(t, err)
	assert.True(t, row.IsActive)
	assert.Equal(t, "6.00", row.Rate.StringFixed(2))
}

func TestUpdateSettingCreatesMissingLevel(t *testing.T) {
	gdb := dbtest.Open(t)
	row, err := UpdateSetting(context.Background(), gdb, 2, SettingInput{Rate: decimal.NewFromInt(9), IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, "9.00", row.Rate.StringFixed(2))

	rates, err := rateTable(context.Background(), gdb)
	require.NoError(t, err)
	assert.Len(t, rates, 1)
	assert.Equal(t, "9", rates[2].String())
}
