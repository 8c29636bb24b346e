package commission

import (
	"context"
	"fmt"
	"testing"

	"mlm_ledger/internal/audit"
	"mlm_ledger/internal/db/dbtest"
	"mlm_ledger/internal/domain"
	"mlm_ledger/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memSink struct{ entries []audit.Entry }

func (m *memSink) Record(_ context.Context, e audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memSink) Find(_ context.Context, key string) (*audit.Entry, error) {
	for i := range m.entries {
		if m.entries[i].EventKey == key {
			return &m.entries[i], nil
		}
	}
	return nil, audit.ErrNotFound
}

type fixture struct {
	db     *gorm.DB
	writer *ledger.Writer
	sink   *memSink
}

func setup(t *testing.T) *fixture {
	gdb := dbtest.OpenSeeded(t)
	return &fixture{db: gdb, writer: ledger.NewWriter(gdb, ""), sink: &memSink{}}
}

func (f *fixture) engine(p Policy) *Engine {
	return NewEngine(f.writer, p, 10, f.sink)
}

func (f *fixture) user(t *testing.T, name string, sponsor *domain.User) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, Password: "x", ReferralCode: "C" + name}
	if sponsor != nil {
		code := sponsor.ReferralCode
		u.ReferredBy = &code
	}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

// chain returns users[0] at the top down to users[n-1], the buyer
func (f *fixture) chain(t *testing.T, n int) []*domain.User {
	users := make([]*domain.User, n)
	var prev *domain.User
	for i := range users {
		users[i] = f.user(t, fmt.Sprintf("m%d", i), prev)
		prev = users[i]
	}
	return users
}

func (f *fixture) balance(t *testing.T, id uint) string {
	t.Helper()
	var u domain.User
	require.NoError(t, f.db.Unscoped().First(&u, id).Error)
	return u.Balance.StringFixed(2)
}

func (f *fixture) suspend(t *testing.T, u *domain.User) {
	require.NoError(t, f.db.Model(u).Update("status", domain.StatusSuspended).Error)
}

func buy(amount int64, key string) PurchaseInput {
	return PurchaseInput{Amount: decimal.NewFromInt(amount), Kind: domain.PurchaseMembership, IdempotencyKey: key}
}

func TestTwoLevelPurchase(t *testing.T) {
	f := setup(t)
	u1 := f.user(t, "u1", nil)
	u2 := f.user(t, "u2", u1)
	b := f.user(t, "b", u2)

	in := buy(8000, "k-8000")
	in.BuyerID = b.ID
	res, err := f.engine(PolicySkip).Purchase(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, res.Credits, 2)
	assert.Equal(t, u2.ID, res.Credits[0].UserID)
	assert.Equal(t, 1, res.Credits[0].Level)
	assert.Equal(t, "1200.00", res.Credits[0].Amount.StringFixed(2))
	assert.Equal(t, u1.ID, res.Credits[1].UserID)
	assert.Equal(t, "800.00", res.Credits[1].Amount.StringFixed(2))
	assert.Equal(t, "2000.00", res.Run.TotalCredited.StringFixed(2))
	assert.False(t, res.Replayed)

	assert.Equal(t, "1200.00", f.balance(t, u2.ID))
	assert.Equal(t, "800.00", f.balance(t, u1.ID))
	assert.Equal(t, "0.00", f.balance(t, b.ID))

	var tx domain.Transaction
	require.NoError(t, f.db.Where("user_id = ?", u2.ID).First(&tx).Error)
	assert.Equal(t, domain.TxCommission, tx.Type)
	require.NotNil(t, tx.SourceUserID)
	assert.Equal(t, b.ID, *tx.SourceUserID)
	require.NotNil(t, tx.EventKey)
	assert.Equal(t, "purchase:k-8000", *tx.EventKey)

	require.Len(t, f.sink.entries, 1)
	assert.Len(t, f.sink.entries[0].Credits, 2)
}

func TestInactiveLevelEarnsNothing(t *testing.T) {
	f := setup(t)
	_, err := UpdateSetting(context.Background(), f.db, 2, SettingInput{Rate: decimal.NewFromInt(10), IsActive: false})
	require.NoError(t, err)
	u1 := f.user(t, "u1", nil)
	u2 := f.user(t, "u2", u1)
	b := f.user(t, "b", u2)

	in := buy(8000, "")
	in.BuyerID = b.ID
	res, err := f.engine(PolicySkip).Purchase(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, res.Credits, 1)
	assert.Equal(t, "1200.00", res.Credits[0].Amount.StringFixed(2))
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, Skip{Level: 2, Reason: SkipLevelInactive, UserID: u1.ID}, res.Skipped[0])
	assert.Equal(t, "0.00", f.balance(t, u1.ID))
	assert.NotEmpty(t, res.Purchase.IdempotencyKey)
}

func TestOnlyFiveLevelsArePaid(t *testing.T) {
	f := setup(t)
	users := f.chain(t, 8)
	buyer := users[7]

	in := buy(1000, "deep")
	in.BuyerID = buyer.ID
	res, err := f.engine(PolicySkip).Purchase(context.Background(), in)
	require.NoError(t, err)

	want := []string{"150.00", "100.00", "50.00", "30.00", "20.00"}
	require.Len(t, res.Credits, 5)
	for i, c := range res.Credits {
		assert.Equal(t, i+1, c.Level)
		assert.Equal(t, users[6-i].ID, c.UserID)
		assert.Equal(t, want[i], c.Amount.StringFixed(2))
	}
	assert.Equal(t, "0.00", f.balance(t, users[1].ID))
	assert.Equal(t, "0.00", f.balance(t, users[0].ID))
	assert.Equal(t, "350.00", res.Run.TotalCredited.StringFixed(2))
}

func TestSameKeyIsAttributedOnce(t *testing.T) {
	f := setup(t)
	u1 := f.user(t, "u1", nil)
	b := f.user(t, "b", u1)
	e := f.engine(PolicySkip)
	ctx := context.Background()

	in := buy(1000, "once")
	in.BuyerID = b.ID
	first, err := e.Purchase(ctx, in)
	require.NoError(t, err)
	second, err := e.Purchase(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Purchase.ID, second.Purchase.ID)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	require.Len(t, second.Credits, 1)
	assert.Equal(t, first.Credits[0].TransactionID, second.Credits[0].TransactionID)
	assert.Equal(t, "15", second.Credits[0].Rate.String())
	assert.Equal(t, "u1", second.Credits[0].Username)
	assert.Equal(t, "150.00", f.balance(t, u1.ID))

	var purchases, rows int64
	f.db.Model(&domain.Purchase{}).Count(&purchases)
	f.db.Model(&domain.Transaction{}).Count(&rows)
	assert.EqualValues(t, 1, purchases)
	assert.EqualValues(t, 1, rows)
	assert.Len(t, f.sink.entries, 1)

	in.Amount = decimal.NewFromInt(2000)
	_, err = e.Purchase(ctx, in)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestReplayByPurchaseID(t *testing.T) {
	f := setup(t)
	u1 := f.user(t, "u1", nil)
	b := f.user(t, "b", u1)
	e := f.engine(PolicySkip)
	ctx := context.Background()

	// A purchase stored without a run, as left by an import
	p := domain.Purchase{BuyerID: b.ID, Kind: domain.PurchaseProduct, Amount: decimal.NewFromInt(500),
		Currency: domain.Currency, Status: domain.TxCompleted, Reference: "imp-1", IdempotencyKey: "imp-1"}
	require.NoError(t, f.db.Create(&p).Error)

	res, err := e.Replay(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	require.Len(t, res.Credits, 1)
	assert.Equal(t, "75.00", res.Credits[0].Amount.StringFixed(2))

	again, err := e.Replay(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, "75.00", f.balance(t, u1.ID))

	_, err = e.Replay(ctx, 9999)
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
}

func TestSkipPolicyLeavesGapAtSuspendedAncestor(t *testing.T) {
	f := setup(t)
	users := f.chain(t, 4) // m0 <- m1 <- m2 <- m3(buyer)
	f.suspend(t, users[1])

	in := buy(1000, "gap")
	in.BuyerID = users[3].ID
	res, err := f.engine(PolicySkip).Purchase(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, res.Credits, 2)
	assert.Equal(t, 1, res.Credits[0].Level)
	assert.Equal(t, 3, res.Credits[1].Level)
	assert.Equal(t, users[0].ID, res.Credits[1].UserID)
	assert.Equal(t, "50.00", res.Credits[1].Amount.StringFixed(2))
	assert.Equal(t, []Skip{{Level: 2, Reason: SkipAncestorInactive, UserID: users[1].ID}}, res.Skipped)
	assert.Equal(t, "0.00", f.balance(t, users[1].ID))
}

func TestDeletedAncestorIsNotPaid(t *testing.T) {
	f := setup(t)
	users := f.chain(t, 3)
	require.NoError(t, f.db.Delete(users[1]).Error)

	in := buy(1000, "deleted")
	in.BuyerID = users[2].ID
	res, err := f.engine(PolicySkip).Purchase(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, res.Credits, 1)
	assert.Equal(t, users[0].ID, res.Credits[0].UserID)
	assert.Equal(t, 2, res.Credits[0].Level)
}

func TestEscrowPolicyHoldsMissedLevels(t *testing.T) {
	f := setup(t)
	ghost := &domain.User{ReferralCode: "GHOST"}
	top := f.user(t, "top", ghost)
	mid := f.user(t, "mid", top)
	b := f.user(t, "b", mid)
	f.suspend(t, mid)

	in := buy(1000, "escrow")
	in.BuyerID = b.ID
	res, err := f.engine(PolicyEscrow).Purchase(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, res.Credits, 1)
	assert.Equal(t, top.ID, res.Credits[0].UserID)
	require.Len(t, res.Escrowed, 2)
	assert.Equal(t, 1, res.Escrowed[0].Level)
	assert.Equal(t, domain.EscrowAncestorInactive, res.Escrowed[0].Reason)
	assert.Equal(t, "150.00", res.Escrowed[0].Amount.StringFixed(2))
	require.NotNil(t, res.Escrowed[0].MissingUserID)
	assert.Equal(t, mid.ID, *res.Escrowed[0].MissingUserID)
	assert.Equal(t, 3, res.Escrowed[1].Level)
	assert.Equal(t, domain.EscrowSponsorUnresolved, res.Escrowed[1].Reason)
	assert.Equal(t, "GHOST", res.Escrowed[1].MissingCode)
	assert.Empty(t, res.Skipped)

	var held int64
	f.db.Model(&domain.EscrowCredit{}).Where("status = ?", domain.EscrowHeld).Count(&held)
	assert.EqualValues(t, 2, held)
	assert.Equal(t, "0.00", f.balance(t, mid.ID))

	replay, err := f.engine(PolicyEscrow).Purchase(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, replay.Escrowed, 2)
}

func TestReattributeCompressesPastIneligible(t *testing.T) {
	f := setup(t)
	users := f.chain(t, 4)
	f.suspend(t, users[2])

	in := buy(1000, "compress")
	in.BuyerID = users[3].ID
	res, err := f.engine(PolicyReattribute).Purchase(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, res.Credits, 2)
	assert.Equal(t, users[1].ID, res.Credits[0].UserID)
	assert.Equal(t, 1, res.Credits[0].Level)
	assert.Equal(t, "150.00", res.Credits[0].Amount.StringFixed(2))
	assert.Equal(t, users[0].ID, res.Credits[1].UserID)
	assert.Equal(t, 2, res.Credits[1].Level)
	assert.Equal(t, []Skip{{Level: 1, Reason: SkipCompressed, UserID: users[2].ID}}, res.Skipped)
	assert.Equal(t, "reattribute", res.Run.Policy)
}

func TestBrokenLinkIsSkipped(t *testing.T) {
	f := setup(t)
	ghost := &domain.User{ReferralCode: "GONE"}
	top := f.user(t, "top", ghost)
	b := f.user(t, "b", top)

	in := buy(1000, "broken")
	in.BuyerID = b.ID
	res, err := f.engine(PolicySkip).Purchase(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Credits, 1)
	assert.Equal(t, []Skip{{Level: 2, Reason: SkipSponsorUnresolved}}, res.Skipped)
}

func TestEveryLevelOfShortChainIsPaid(t *testing.T) {
	want := []string{"150.00", "100.00", "50.00", "30.00", "20.00"}
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("upline_%d", n), func(t *testing.T) {
			f := setup(t)
			users := f.chain(t, n+1)
			buyer := users[n]

			in := buy(1000, fmt.Sprintf("chain-%d", n))
			in.BuyerID = buyer.ID
			res, err := f.engine(PolicySkip).Purchase(context.Background(), in)
			require.NoError(t, err)

			require.Len(t, res.Credits, n)
			total := decimal.Zero
			for i, c := range res.Credits {
				assert.Equal(t, i+1, c.Level)
				assert.Equal(t, users[n-1-i].ID, c.UserID)
				assert.Equal(t, want[i], c.Amount.StringFixed(2))
				assert.Equal(t, want[i], f.balance(t, c.UserID))
				total = total.Add(c.Amount)
			}
			assert.Empty(t, res.Skipped)
			assert.Equal(t, total.StringFixed(2), res.Run.TotalCredited.StringFixed(2))
			assert.Equal(t, n, res.Run.CreditedLevels)
		})
	}
}

func TestPayWithBalanceDebitsBuyer(t *testing.T) {
	f := setup(t)
	u1 := f.user(t, "u1", nil)
	b := f.user(t, "b", u1)
	e := f.engine(PolicySkip)
	ctx := context.Background()

	in := buy(1000, "poor")
	in.BuyerID = b.ID
	in.PayWithBalance = true
	_, err := e.Purchase(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	var purchases int64
	f.db.Model(&domain.Purchase{}).Count(&purchases)
	assert.Zero(t, purchases)
	assert.Equal(t, "0.00", f.balance(t, u1.ID))

	require.NoError(t, f.writer.Run(ctx, func(tx *ledger.Tx) error {
		_, err := tx.Post(ledger.Entry{UserID: b.ID, Type: domain.TxManualPayment, Amount: decimal.NewFromInt(1500)})
		return err
	}))
	in.IdempotencyKey = "rich"
	res, err := e.Purchase(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.Purchase.PaidFromBalance)
	assert.Equal(t, "500.00", f.balance(t, b.ID))
	assert.Equal(t, "150.00", f.balance(t, u1.ID))
}

func TestPayWithBalanceCannotSpendReservedFunds(t *testing.T) {
	f := setup(t)
	b := f.user(t, "b", nil)
	e := f.engine(PolicySkip)
	ctx := context.Background()

	require.NoError(t, f.writer.Run(ctx, func(tx *ledger.Tx) error {
		_, err := tx.Post(ledger.Entry{UserID: b.ID, Type: domain.TxManualPayment, Amount: decimal.NewFromInt(1000)})
		return err
	}))
	wr, err := f.writer.RequestWithdrawal(ctx, ledger.WithdrawalInput{
		UserID: b.ID, Amount: decimal.NewFromInt(1000), Method: "bank", AccountDetails: "PK00",
	})
	require.NoError(t, err)

	in := buy(1000, "reserved")
	in.BuyerID = b.ID
	in.Kind = domain.PurchaseProduct
	in.PayWithBalance = true
	_, err = e.Purchase(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	var purchases int64
	f.db.Model(&domain.Purchase{}).Count(&purchases)
	assert.Zero(t, purchases)

	// The reservation is still payable
	_, err = f.writer.ApproveWithdrawal(ctx, wr.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "0.00", f.balance(t, b.ID))
}

func TestCachedBalancesMatchLedgerAfterManyPurchases(t *testing.T) {
	f := setup(t)
	users := f.chain(t, 7)
	e := f.engine(PolicySkip)
	ctx := context.Background()

	for i := 1; i < len(users); i++ {
		in := buy(int64(100*i)+33, fmt.Sprintf("p%d", i))
		in.BuyerID = users[i].ID
		_, err := e.Purchase(ctx, in)
		require.NoError(t, err)
	}

	drift, err := f.writer.FindDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	// Each run's total equals the commission rows carrying its event key
	var runs []domain.AttributionRun
	require.NoError(t, f.db.Find(&runs).Error)
	for _, r := range runs {
		var sum decimal.Decimal
		require.NoError(t, f.db.Model(&domain.Transaction{}).Select("COALESCE(SUM(amount), 0)").
			Where("event_key = ? AND type = ?", r.EventKey, domain.TxCommission).Row().Scan(&sum))
		assert.Equal(t, r.TotalCredited.StringFixed(2), sum.StringFixed(2), r.EventKey)
	}
}

func TestPurchaseValidation(t *testing.T) {
	f := setup(t)
	b := f.user(t, "b", nil)
	e := f.engine(PolicySkip)
	ctx := context.Background()

	_, err := e.Purchase(ctx, PurchaseInput{BuyerID: b.ID, Amount: decimal.Zero, Kind: domain.PurchaseProduct})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	// Stored amounts have two decimals, 0.004 would be a purchase of 0.00
	_, err = e.Purchase(ctx, PurchaseInput{BuyerID: b.ID, Amount: decimal.RequireFromString("0.004"), Kind: domain.PurchaseProduct})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	var stored int64
	f.db.Model(&domain.Purchase{}).Count(&stored)
	assert.Zero(t, stored)
	_, err = e.Purchase(ctx, PurchaseInput{BuyerID: b.ID, Amount: decimal.NewFromInt(10), Kind: "gift"})
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, err = e.Purchase(ctx, PurchaseInput{BuyerID: 404, Amount: decimal.NewFromInt(10), Kind: domain.PurchaseProduct})
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	// No upline is a valid purchase with nothing to credit
	res, err := e.Purchase(ctx, PurchaseInput{BuyerID: b.ID, Amount: decimal.NewFromInt(10), Kind: domain.PurchaseProduct})
	require.NoError(t, err)
	assert.Empty(t, res.Credits)
	assert.True(t, res.Run.TotalCredited.IsZero())
}

func TestTinyPurchaseRoundsToZero(t *testing.T) {
	f := setup(t)
	u1 := f.user(t, "u1", nil)
	b := f.user(t, "b", u1)

	res, err := f.engine(PolicySkip).Purchase(context.Background(), PurchaseInput{
		BuyerID: b.ID, Amount: decimal.RequireFromString("0.03"), Kind: domain.PurchaseProduct,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Credits)
	assert.Equal(t, []Skip{{Level: 1, Reason: SkipZeroAmount, UserID: u1.ID}}, res.Skipped)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)
	p, err = ParsePolicy("escrow")
	require.NoError(t, err)
	assert.Equal(t, PolicyEscrow, p)
	_, err = ParsePolicy("burn")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}
