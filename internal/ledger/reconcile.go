package ledger

import (
	"context" // Context propagation

	"mlm_ledger/internal/domain" // Importing domain models

	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
)

// Sums are the ledger-derived values of a user's cached fields
type Sums struct {
	UserID           uint            `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings"`
}

// Drift pairs the cached and ledger values of a user that disagree
type Drift struct {
	Username string `json:"username"`
	Cached   Sums   `json:"cached"`
	Ledger   Sums   `json:"ledger"`
}

func (s Sums) equal(o Sums) bool {
	return s.Balance.Round(2).Equal(o.Balance.Round(2)) &&
		s.TotalEarnings.Round(2).Equal(o.TotalEarnings.Round(2)) &&
		s.ReferralEarnings.Round(2).Equal(o.ReferralEarnings.Round(2))
}

func ledgerSums(db *gorm.DB, userIDs ...uint) (map[uint]Sums, error) {
	var rows []Sums
	q := db.Model(&domain.Transaction{}).
		Select(`user_id,
			COALESCE(SUM(amount), 0) AS balance,
			COALESCE(SUM(CASE WHEN type IN ? AND amount > 0 THEN amount ELSE 0 END), 0) AS total_earnings,
			COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS referral_earnings`,
			domain.EarningTypes, domain.TxCommission).
		Where("status = ?", domain.TxCompleted)
	if len(userIDs) > 0 {
		q = q.Where("user_id IN ?", userIDs)
	}
	if err := q.Group("user_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]Sums, len(rows))
	for _, r := range rows {
		out[r.UserID] = r
	}
	return out, nil
}

func cachedSums(u domain.User) Sums {
	return Sums{UserID: u.ID, Balance: u.Balance, TotalEarnings: u.TotalEarnings, ReferralEarnings: u.ReferralEarnings}
}

// LedgerSums returns the ledger-derived values for one user
func (w *Writer) LedgerSums(ctx context.Context, userID uint) (Sums, error) {
	sums, err := ledgerSums(w.db.WithContext(ctx), userID)
	if err != nil {
		return Sums{}, err
	}
	s, ok := sums[userID]
	if !ok {
		return Sums{UserID: userID}, nil
	}
	return s, nil
}

// FindDrift lists users whose cached fields disagree with the ledger
func (w *Writer) FindDrift(ctx context.Context) ([]Drift, error) {
	db := w.db.WithContext(ctx)
	sums, err := ledgerSums(db)
	if err != nil {
		return nil, err
	}
	var users []domain.User
	if err := db.Unscoped().Order("id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	var drift []Drift
	for _, u := range users {
		want, ok := sums[u.ID]
		if !ok {
			want = Sums{UserID: u.ID}
		}
		if have := cachedSums(u); !have.equal(want) {
			drift = append(drift, Drift{Username: u.Username, Cached: have, Ledger: want})
		}
	}
	return drift, nil
}

// Reconcile rewrites drifted cached fields from the ledger and returns how many users changed
func (w *Writer) Reconcile(ctx context.Context) (int, error) {
	drift, err := w.FindDrift(ctx)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, d := range drift {
		err := w.Run(ctx, func(tx *Tx) error {
			// A write may have landed since FindDrift
			if _, err := tx.lockAny(d.Cached.UserID); err != nil {
				return err
			}
			sums, err := ledgerSums(tx.db, d.Cached.UserID)
			if err != nil {
				return err
			}
			want, ok := sums[d.Cached.UserID]
			if !ok {
				want = Sums{UserID: d.Cached.UserID}
			}
			res := tx.db.Unscoped().Model(&domain.User{}).Where("id = ?", d.Cached.UserID).Updates(map[string]any{
				"balance":           want.Balance.Round(2),
				"total_earnings":    want.TotalEarnings.Round(2),
				"referral_earnings": want.ReferralEarnings.Round(2),
			})
			if res.Error != nil {
				return res.Error
			}
			tx.touched[d.Cached.UserID] = struct{}{}
			return nil
		})
		if err != nil {
			return fixed, err
		}
		logrus.WithFields(logrus.Fields{
			"user_id":        d.Cached.UserID,
			"cached_balance": d.Cached.Balance.StringFixed(2),
			"ledger_balance": d.Ledger.Balance.StringFixed(2),
		}).Warn("Cached balance reconciled from ledger")
		fixed++
	}
	return fixed, nil
}
