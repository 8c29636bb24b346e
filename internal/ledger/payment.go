package ledger

import (
	"context" // Context propagation

	"mlm_ledger/internal/domain" // Importing domain models

	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Logging library
)

// PaymentInput is an admin-entered payment. A negative amount is a correction.
type PaymentInput struct {
	UserID      uint
	AdminID     uint
	Amount      decimal.Decimal
	Description string
	Metadata    domain.Metadata
}

// ManualPayment appends a COMPLETED MANUAL_PAYMENT row
func (w *Writer) ManualPayment(ctx context.Context, in PaymentInput) (*domain.Transaction, error) {
	meta := domain.Metadata{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["paid_by"] = in.AdminID
	if in.Description == "" {
		in.Description = "Manual payment"
	}
	var row *domain.Transaction
	err := w.Run(ctx, func(tx *Tx) error {
		u, err := tx.LockUser(in.UserID)
		if err != nil {
			return err
		}
		// A correction cannot take funds a withdrawal has reserved
		if in.Amount.IsNegative() {
			if err := tx.RequireAvailable(u, in.Amount.Neg()); err != nil {
				return err
			}
		}
		row, err = tx.Post(Entry{
			UserID:      in.UserID,
			Type:        domain.TxManualPayment,
			Amount:      in.Amount,
			Description: in.Description,
			Metadata:    meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(Fields(row)).WithField("admin_id", in.AdminID).Info("Manual payment recorded")
	return row, nil
}
