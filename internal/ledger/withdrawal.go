package ledger

import (
	"context" // Context propagation
	"errors"  // Error inspection
	"time"    // Timestamps

	"mlm_ledger/internal/domain" // Importing domain models

	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
	"gorm.io/gorm/clause"           // Row locks and upserts
)

var ErrWithdrawalNotFound = errors.New("withdrawal request not found")

// WithdrawalInput is a user's request to be paid out
type WithdrawalInput struct {
	UserID         uint
	Amount         decimal.Decimal
	Method         string
	AccountDetails string
}

// RequestWithdrawal reserves funds with a PENDING debit. The balance only moves on approval.
func (w *Writer) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*domain.WithdrawalRequest, error) {
	in.Amount = in.Amount.Round(2)
	if !in.Amount.IsPositive() {
		return nil, ErrZeroAmount
	}
	var req domain.WithdrawalRequest
	err := w.Run(ctx, func(tx *Tx) error {
		u, err := tx.LockUser(in.UserID)
		if err != nil {
			return err
		}
		if err := tx.RequireAvailable(u, in.Amount); err != nil {
			return err
		}
		row, err := tx.Post(Entry{
			UserID:      u.ID,
			Type:        domain.TxWithdrawal,
			Status:      domain.TxPending,
			Amount:      in.Amount.Neg(),
			Description: "Withdrawal via " + in.Method,
			Metadata:    domain.Metadata{"method": in.Method, "account_details": in.AccountDetails},
		})
		if err != nil {
			return err
		}
		tx.Touch(u.ID)
		req = domain.WithdrawalRequest{
			UserID:         u.ID,
			Amount:         in.Amount,
			Method:         in.Method,
			AccountDetails: in.AccountDetails,
			Status:         domain.TxPending,
			TransactionID:  row.ID,
		}
		return tx.DB().Create(&req).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":       req.UserID,
		"withdrawal_id": req.ID,
		"amount":        req.Amount.StringFixed(2),
		"method":        req.Method,
	}).Info("Withdrawal requested")
	return &req, nil
}

// ApproveWithdrawal completes the ledger row and debits the balance
func (w *Writer) ApproveWithdrawal(ctx context.Context, id, adminID uint) (*domain.WithdrawalRequest, error) {
	return w.reviewWithdrawal(ctx, id, adminID, domain.TxCompleted, "")
}

// RejectWithdrawal fails the ledger row, releasing the reserved funds
func (w *Writer) RejectWithdrawal(ctx context.Context, id, adminID uint, reason string) (*domain.WithdrawalRequest, error) {
	return w.reviewWithdrawal(ctx, id, adminID, domain.TxFailed, reason)
}

func (w *Writer) reviewWithdrawal(ctx context.Context, id, adminID uint, status, reason string) (*domain.WithdrawalRequest, error) {
	var req domain.WithdrawalRequest
	err := w.Run(ctx, func(tx *Tx) error {
		err := tx.DB().Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWithdrawalNotFound
		}
		if err != nil {
			return err
		}
		if req.Status != domain.TxPending {
			return ErrNotPending
		}
		now := time.Now().UTC()
		meta := domain.Metadata{"reviewed_by": adminID, "reviewed_at": now.Format(time.RFC3339)}
		if status == domain.TxCompleted {
			_, err = tx.Complete(req.TransactionID, meta)
		} else {
			meta["rejection_reason"] = reason
			_, err = tx.Fail(req.TransactionID, meta)
		}
		if err != nil {
			return err
		}
		tx.Touch(req.UserID)
		req.Status = status
		req.ReviewedBy = &adminID
		req.ReviewedAt = &now
		req.RejectionReason = reason
		return tx.DB().Save(&req).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"withdrawal_id": req.ID,
		"user_id":       req.UserID,
		"status":        req.Status,
		"admin_id":      adminID,
	}).Info("Withdrawal reviewed")
	return &req, nil
}
