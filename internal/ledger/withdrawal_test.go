package ledger

import (
	"context"
	"testing"

	"mlm_ledger/internal/db/dbtest"
	"mlm_ledger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawalApproveFlow(t *testing.T) {
	gdb := dbtest.Open(t)
	w := NewWriter(gdb, "")
	u := newUser(t, gdb, "gina")
	credit(t, w, u.ID, domain.TxCommission, 1000)
	ctx := context.Background()

	req, err := w.RequestWithdrawal(ctx, WithdrawalInput{UserID: u.ID, Amount: decimal.NewFromInt(700), Method: "easypaisa", AccountDetails: "0300-0000000"})
	require.NoError(t, err)
	assert.Equal(t, domain.TxPending, req.Status)
	assert.Equal(t, "1000.00", reload(t, gdb, u.ID).Balance.StringFixed(2))

	// Only 300 is left once the pending 700 is reserved
	_, err = w.RequestWithdrawal(ctx, WithdrawalInput{UserID: u.ID, Amount: decimal.NewFromInt(400), Method: "bank"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	pending, err := w.PendingDebits(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "700.00", pending.StringFixed(2))

	approved, err := w.ApproveWithdrawal(ctx, req.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, domain.TxCompleted, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.EqualValues(t, 99, *approved.ReviewedBy)

	got := reload(t, gdb, u.ID)
	assert.Equal(t, "300.00", got.Balance.StringFixed(2))
	// Withdrawals do not reduce lifetime earnings
	assert.Equal(t, "1000.00", got.TotalEarnings.StringFixed(2))

	_, err = w.ApproveWithdrawal(ctx, req.ID, 99)
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Equal(t, "300.00", reload(t, gdb, u.ID).Balance.StringFixed(2))
}

func TestWithdrawalRejectRecordsReason(t *testing.T) {
	gdb := dbtest.Open(t)
	w := NewWriter(gdb, "")
	u := newUser(t, gdb, "hank")
	credit(t, w, u.ID, domain.TxManualPayment, 200)
	ctx := context.Background()

	req, err := w.RequestWithdrawal(ctx, WithdrawalInput{UserID: u.ID, Amount: decimal.NewFromInt(200), Method: "bank"})
	require.NoError(t, err)

	rejected, err := w.RejectWithdrawal(ctx, req.ID, 7, "account title mismatch")
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, rejected.Status)
	assert.Equal(t, "account title mismatch", rejected.RejectionReason)

	var row domain.Transaction
	require.NoError(t, gdb.First(&row, req.TransactionID).Error)
	assert.Equal(t, domain.TxFailed, row.Status)
	assert.Equal(t, "account title mismatch", row.Metadata["rejection_reason"])
	assert.Equal(t, "bank", row.Metadata["method"])
	assert.NotEmpty(t, row.Metadata["reviewed_at"])

	assert.Equal(t, "200.00", reload(t, gdb, u.ID).Balance.StringFixed(2))
	pending, err := w.PendingDebits(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, pending.IsZero())

	_, err = w.ApproveWithdrawal(ctx, req.ID, 7)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestWithdrawalValidation(t *testing.T) {
	gdb := dbtest.Open(t)
	w := NewWriter(gdb, "")
	ctx := context.Background()

	_, err := w.RequestWithdrawal(ctx, WithdrawalInput{UserID: 1, Amount: decimal.NewFromInt(-5)})
	assert.ErrorIs(t, err, ErrZeroAmount)
	_, err = w.RequestWithdrawal(ctx, WithdrawalInput{UserID: 1, Amount: decimal.RequireFromString("0.004")})
	assert.ErrorIs(t, err, ErrZeroAmount)
	_, err = w.RequestWithdrawal(ctx, WithdrawalInput{UserID: 42, Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = w.ApproveWithdrawal(ctx, 42, 1)
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
}

func TestManualPayment(t *testing.T) {
	gdb := dbtest.Open(t)
	w := NewWriter(gdb, "")
	u := newUser(t, gdb, "paid")
	ctx := context.Background()

	row, err := w.ManualPayment(ctx, PaymentInput{UserID: u.ID, AdminID: 1, Amount: decimal.NewFromInt(300), Metadata: domain.Metadata{"ref": "bank-1"}})
	require.NoError(t, err)
	assert.Equal(t, domain.TxManualPayment, row.Type)
	assert.Equal(t, "bank-1", row.Metadata["ref"])
	assert.EqualValues(t, 1, row.Metadata["paid_by"])

	_, err = w.ManualPayment(ctx, PaymentInput{UserID: u.ID, AdminID: 1, Amount: decimal.NewFromInt(-500)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = w.ManualPayment(ctx, PaymentInput{UserID: 999, AdminID: 1, Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, ErrUserNotFound)

	got := reload(t, gdb, u.ID)
	assert.Equal(t, "300.00", got.Balance.StringFixed(2))
	assert.Equal(t, "300.00", got.TotalEarnings.StringFixed(2))
	assert.Equal(t, "0.00", got.ReferralEarnings.StringFixed(2))
}

func TestManualCorrectionCannotTakeReservedFunds(t *testing.T) {
	gdb := dbtest.Open(t)
	w := NewWriter(gdb, "")
	u := newUser(t, gdb, "held")
	ctx := context.Background()

	_, err := w.ManualPayment(ctx, PaymentInput{UserID: u.ID, AdminID: 1, Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)
	_, err = w.RequestWithdrawal(ctx, WithdrawalInput{UserID: u.ID, Amount: decimal.NewFromInt(400), Method: "bank", AccountDetails: "PK00"})
	require.NoError(t, err)

	_, err = w.ManualPayment(ctx, PaymentInput{UserID: u.ID, AdminID: 1, Amount: decimal.NewFromInt(-200)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = w.ManualPayment(ctx, PaymentInput{UserID: u.ID, AdminID: 1, Amount: decimal.NewFromInt(-100)})
	require.NoError(t, err)
	_, err = w.ManualPayment(ctx, PaymentInput{UserID: u.ID, AdminID: 1, Amount: decimal.RequireFromString("0.001")})
	assert.ErrorIs(t, err, ErrZeroAmount)

	got := reload(t, gdb, u.ID)
	assert.Equal(t, "400.00", got.Balance.StringFixed(2))
	var rows int64
	gdb.Model(&domain.Transaction{}).Where("user_id = ?", u.ID).Count(&rows)
	assert.EqualValues(t, 3, rows)
}
