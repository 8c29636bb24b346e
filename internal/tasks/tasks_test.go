package tasks

import (
	"context"
	"encoding/json"
	"testing"

	"mlm_ledger/internal/db/dbtest"
	"mlm_ledger/internal/domain"
	"mlm_ledger/internal/ledger"
	"mlm_ledger/internal/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func driftedWriter(t *testing.T) (*ledger.Writer, *domain.User) {
	gdb := dbtest.Open(t)
	w := ledger.NewWriter(gdb, "")
	u := &domain.User{Username: "drift", Password: "x", ReferralCode: "DRIFT"}
	require.NoError(t, gdb.Create(u).Error)
	require.NoError(t, w.Run(context.Background(), func(tx *ledger.Tx) error {
		_, err := tx.Post(ledger.Entry{UserID: u.ID, Type: domain.TxManualPayment, Amount: decimal.NewFromInt(50)})
		return err
	}))
	// Someone edits the cache by hand
	require.NoError(t, gdb.Model(u).Update("balance", decimal.NewFromInt(999)).Error)
	return w, u
}

func TestNewReconcileTask(t *testing.T) {
	task, err := NewReconcileTask(7)
	require.NoError(t, err)
	assert.Equal(t, TypeReconcile, task.Type())

	var p ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, uint(7), p.RequestedBy)
}

func TestHandleReconcileFixesDrift(t *testing.T) {
	w, u := driftedWriter(t)
	h := &Handlers{Writer: w}
	ctx := context.Background()

	require.NoError(t, h.HandleDriftCheck(ctx, asynq.NewTask(TypeDriftCheck, nil)))
	drift, err := w.FindDrift(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)

	task, err := NewReconcileTask(1)
	require.NoError(t, err)
	require.NoError(t, h.HandleReconcile(ctx, task))

	drift, err = w.FindDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	var got domain.User
	require.NoError(t, w.DB().First(&got, u.ID).Error)
	assert.Equal(t, "50.00", got.Balance.StringFixed(2))
}

func TestHandleReconcileRejectsBadPayload(t *testing.T) {
	w, _ := driftedWriter(t)
	h := &Handlers{Writer: w}
	err := h.HandleReconcile(context.Background(), asynq.NewTask(TypeReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestInlineEnqueuer(t *testing.T) {
	w, _ := driftedWriter(t)
	ticket, err := (&InlineEnqueuer{Writer: w}).EnqueueReconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ticket.Inline)
	assert.Equal(t, 1, ticket.Fixed)
}

func TestReconcileOnWorkerDropsCachedViews(t *testing.T) {
	w, u := driftedWriter(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	w.OnCommit(utils.CommitInvalidator(rdb))
	ctx := context.Background()

	require.NoError(t, utils.SetCache(ctx, rdb, utils.WalletCacheKey(u.ID), map[string]string{"balance": "999.00"}, utils.CacheTTL))
	require.NoError(t, utils.SetCache(ctx, rdb, utils.TxHistoryPrefix(u.ID)+"type::page:1:size:20", []int{}, utils.CacheTTL))
	require.NoError(t, utils.SetCache(ctx, rdb, utils.AdminUsersPrefix+"status::page:1:size:20", []int{}, utils.CacheTTL))

	task, err := NewReconcileTask(1)
	require.NoError(t, err)
	require.NoError(t, (&Handlers{Writer: w}).HandleReconcile(ctx, task))

	assert.False(t, mr.Exists(utils.WalletCacheKey(u.ID)))
	assert.False(t, mr.Exists(utils.TxHistoryPrefix(u.ID)+"type::page:1:size:20"))
	assert.False(t, mr.Exists(utils.AdminUsersPrefix+"status::page:1:size:20"))
}
