// Package commission turns a completed purchase into commission credits for the
// buyer's upline, one level per sponsor hop, inside a single ledger unit of work.
package commission

import (
	"context" // Context propagation
	"errors"  // Error inspection
	"fmt"     // Error wrapping
	"strconv" // String conversion
	"time"    // Timestamps

	"mlm_ledger/internal/audit"    // Attribution audit documents
	"mlm_ledger/internal/domain"   // Importing domain models
	"mlm_ledger/internal/ledger"   // Ledger writer
	"mlm_ledger/internal/metrics"  // Prometheus metrics
	"mlm_ledger/internal/referral" // Graph walks

	"github.com/google/uuid"        // Purchase references
	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
)

// Policy decides what happens to a level whose ancestor cannot be paid
type Policy string

const (
	PolicySkip        Policy = "skip"
	PolicyEscrow      Policy = "escrow"
	PolicyReattribute Policy = "reattribute"
)

// Skip reasons
const (
	SkipLevelInactive     = "level_inactive"
	SkipAncestorInactive  = "ancestor_inactive"
	SkipSponsorUnresolved = "sponsor_unresolved"
	SkipCompressed        = "compressed"
	SkipZeroAmount        = "zero_amount"
	SkipCycle             = "cycle"
)

var (
	ErrUnknownPolicy       = errors.New("unknown missing-ancestor policy")
	ErrInvalidKind         = errors.New("kind must be membership or product")
	ErrIdempotencyConflict = errors.New("idempotency key already used for a different purchase")
	ErrPurchaseNotFound    = errors.New("purchase not found")
)

// ParsePolicy validates a configured policy name
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicySkip, PolicyEscrow, PolicyReattribute:
		return p, nil
	case "":
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Engine attributes purchases to the upline
type Engine struct {
	ledger  *ledger.Writer
	policy  Policy
	maxHops int
	audit   audit.Sink
	now     func() time.Time
}

// NewEngine creates an engine. maxHops only matters for PolicyReattribute.
func NewEngine(w *ledger.Writer, policy Policy, maxHops int, sink audit.Sink) *Engine {
	if maxHops < domain.MaxLevels {
		maxHops = domain.MaxLevels
	}
	if sink == nil {
		sink = audit.LogSink{}
	}
	return &Engine{ledger: w, policy: policy, maxHops: maxHops, audit: sink, now: time.Now}
}

// Policy returns the configured policy
func (e *Engine) Policy() Policy { return e.policy }

// PurchaseInput is a completed purchase to record and attribute
type PurchaseInput struct {
	BuyerID        uint
	Amount         decimal.Decimal
	Kind           string
	IdempotencyKey string
	PayWithBalance bool
}

// Credit is one commission written to the ledger
type Credit struct {
	Level         int             `json:"level"`
	UserID        uint            `json:"user_id"`
	Username      string          `json:"username"`
	Rate          decimal.Decimal `json:"rate"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID uint            `json:"transaction_id"`
}

// Skip is a level that produced no credit
type Skip struct {
	Level  int    `json:"level"`
	Reason string `json:"reason"`
	UserID uint   `json:"user_id,omitempty"`
}

// Result describes an attribution pass. Skipped is only filled on the pass that wrote the run.
type Result struct {
	Purchase domain.Purchase       `json:"purchase"`
	Run      domain.AttributionRun `json:"run"`
	Credits  []Credit              `json:"credits"`
	Escrowed []domain.EscrowCredit `json:"escrowed"`
	Skipped  []Skip                `json:"skipped"`
	Replayed bool                  `json:"replayed"`
}

// Beneficiaries lists the users credited by the pass
func (r *Result) Beneficiaries() []uint {
	ids := make([]uint, 0, len(r.Credits))
	for _, c := range r.Credits {
		ids = append(ids, c.UserID)
	}
	return ids
}

// Purchase records a completed purchase and attributes it, all in one unit of work.
// Re-sending the same idempotency key returns the stored result and writes nothing.
func (e *Engine) Purchase(ctx context.Context, in PurchaseInput) (*Result, error) {
	// Validate what would be stored, a sub-paisa amount rounds to zero
	in.Amount = in.Amount.Round(2)
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if in.Kind != domain.PurchaseMembership && in.Kind != domain.PurchaseProduct {
		return nil, ErrInvalidKind
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	res, err := e.purchaseOnce(ctx, in)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a race with a concurrent request carrying the same key
		res, err = e.purchaseOnce(ctx, in)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"buyer_id":        in.BuyerID,
			"amount":          in.Amount.StringFixed(2),
			"idempotency_key": in.IdempotencyKey,
			"error":           err.Error(),
		}).Error("Purchase attribution failed")
		return nil, err
	}
	e.finish(ctx, res)
	return res, nil
}

func (e *Engine) purchaseOnce(ctx context.Context, in PurchaseInput) (*Result, error) {
	var res *Result
	err := e.ledger.Run(ctx, func(tx *ledger.Tx) error {
		var existing domain.Purchase
		err := tx.DB().Where("idempotency_key = ?", in.IdempotencyKey).First(&existing).Error
		if err == nil {
			if existing.BuyerID != in.BuyerID || !existing.Amount.Equal(in.Amount) || existing.Kind != in.Kind {
				return ErrIdempotencyConflict
			}
			res, err = e.load(tx.DB(), &existing)
			return err
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		buyer, err := tx.LockUser(in.BuyerID)
		if err != nil {
			return err
		}
		if in.PayWithBalance {
			// Funds reserved by pending withdrawals are not spendable
			if err := tx.RequireAvailable(buyer, in.Amount); err != nil {
				return err
			}
		}
		purchase := domain.Purchase{
			BuyerID:         buyer.ID,
			Kind:            in.Kind,
			Amount:          in.Amount,
			Currency:        domain.Currency,
			Status:          domain.TxCompleted,
			Reference:       uuid.NewString(),
			IdempotencyKey:  in.IdempotencyKey,
			PaidFromBalance: in.PayWithBalance,
		}
		if err := tx.DB().Create(&purchase).Error; err != nil {
			return fmt.Errorf("record purchase: %w", err)
		}
		if in.PayWithBalance {
			_, err := tx.Post(ledger.Entry{
				UserID:      buyer.ID,
				Type:        domain.TxPurchase,
				Amount:      purchase.Amount.Neg(),
				EventKey:    purchase.EventKey(),
				Description: "Purchase " + purchase.Kind + " " + purchase.Reference,
				Metadata:    domain.Metadata{"purchase_id": purchase.ID},
			})
			if err != nil {
				return err
			}
		}
		res, err = e.attribute(ctx, tx, buyer, &purchase)
		return err
	})
	return res, err
}

// Replay attributes a stored purchase. A purchase that already has a run is returned as is.
func (e *Engine) Replay(ctx context.Context, purchaseID uint) (*Result, error) {
	var res *Result
	err := e.ledger.Run(ctx, func(tx *ledger.Tx) error {
		var purchase domain.Purchase
		err := tx.DB().First(&purchase, purchaseID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPurchaseNotFound
		}
		if err != nil {
			return err
		}
		var runs int64
		if err := tx.DB().Model(&domain.AttributionRun{}).Where("event_key = ?", purchase.EventKey()).Count(&runs).Error; err != nil {
			return err
		}
		if runs > 0 {
			res, err = e.load(tx.DB(), &purchase)
			return err
		}
		var buyer domain.User
		if err := tx.DB().Unscoped().First(&buyer, purchase.BuyerID).Error; err != nil {
			return err
		}
		res, err = e.attribute(ctx, tx, &buyer, &purchase)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.finish(ctx, res)
	return res, nil
}

// attribute walks the upline and writes credits, escrow rows and the run record
func (e *Engine) attribute(ctx context.Context, tx *ledger.Tx, buyer *domain.User, purchase *domain.Purchase) (*Result, error) {
	rates, err := rateTable(ctx, tx.DB())
	if err != nil {
		return nil, err
	}
	hops := domain.MaxLevels
	if e.policy == PolicyReattribute {
		hops = e.maxHops
	}
	chain, err := referral.Upline(ctx, tx.DB(), buyer, hops, true)
	if err != nil {
		return nil, err
	}

	res := &Result{Purchase: *purchase, Credits: []Credit{}, Escrowed: []domain.EscrowCredit{}, Skipped: []Skip{}}
	eventKey := purchase.EventKey()
	total := decimal.Zero
	level := 0
	for _, anc := range chain.Ancestors {
		if e.policy == PolicyReattribute {
			if !anc.User.Eligible() {
				res.Skipped = append(res.Skipped, Skip{Level: level + 1, Reason: SkipCompressed, UserID: anc.User.ID})
				continue
			}
			level++
		} else {
			level = anc.Hop
		}
		if level > domain.MaxLevels {
			break
		}
		rate, ok := rates[level]
		if !ok {
			res.Skipped = append(res.Skipped, Skip{Level: level, Reason: SkipLevelInactive, UserID: anc.User.ID})
			continue
		}
		amt := Amount(purchase.Amount, rate)
		if !amt.IsPositive() {
			res.Skipped = append(res.Skipped, Skip{Level: level, Reason: SkipZeroAmount, UserID: anc.User.ID})
			continue
		}
		if !anc.User.Eligible() {
			if e.policy == PolicyEscrow {
				id := anc.User.ID
				row, err := e.escrow(tx, eventKey, level, amt, domain.EscrowAncestorInactive, anc.User.ReferralCode, &id)
				if err != nil {
					return nil, err
				}
				res.Escrowed = append(res.Escrowed, *row)
			} else {
				res.Skipped = append(res.Skipped, Skip{Level: level, Reason: SkipAncestorInactive, UserID: anc.User.ID})
			}
			continue
		}
		row, err := tx.Post(ledger.Entry{
			UserID:       anc.User.ID,
			Type:         domain.TxCommission,
			Amount:       amt,
			EventKey:     eventKey,
			Level:        level,
			SourceUserID: buyer.ID,
			Description:  fmt.Sprintf("Level %d commission on %s purchase", level, purchase.Kind),
			Metadata: domain.Metadata{
				"rate":        rate.String(),
				"hop":         anc.Hop,
				"purchase_id": purchase.ID,
				"gross":       purchase.Amount.StringFixed(2),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("credit level %d: %w", level, err)
		}
		total = total.Add(row.Amount)
		res.Credits = append(res.Credits, Credit{
			Level:         level,
			UserID:        anc.User.ID,
			Username:      anc.User.Username,
			Rate:          rate,
			Amount:        row.Amount,
			TransactionID: row.ID,
		})
	}

	if chain.BrokenAt > 0 {
		// The level that the unresolved sponsor would have earned
		missed := chain.BrokenAt
		if e.policy == PolicyReattribute {
			missed = level + 1
		}
		rate, ok := rates[missed]
		switch {
		case missed > domain.MaxLevels:
		case e.policy == PolicyEscrow && ok && Amount(purchase.Amount, rate).IsPositive():
			row, err := e.escrow(tx, eventKey, missed, Amount(purchase.Amount, rate), domain.EscrowSponsorUnresolved, chain.BrokenCode, nil)
			if err != nil {
				return nil, err
			}
			res.Escrowed = append(res.Escrowed, *row)
		default:
			res.Skipped = append(res.Skipped, Skip{Level: missed, Reason: SkipSponsorUnresolved})
		}
	}
	if chain.Cycle {
		res.Skipped = append(res.Skipped, Skip{Level: len(chain.Ancestors) + 1, Reason: SkipCycle})
		logrus.WithFields(logrus.Fields{"buyer_id": buyer.ID, "event_key": eventKey}).Warn("Referral cycle in upline")
	}

	res.Run = domain.AttributionRun{
		EventKey:       eventKey,
		PurchaseID:     purchase.ID,
		BuyerID:        buyer.ID,
		GrossAmount:    purchase.Amount,
		TotalCredited:  total,
		CreditedLevels: len(res.Credits),
		Policy:         string(e.policy),
	}
	if err := tx.DB().Create(&res.Run).Error; err != nil {
		return nil, fmt.Errorf("record attribution run: %w", err)
	}
	return res, nil
}

func (e *Engine) escrow(tx *ledger.Tx, eventKey string, level int, amt decimal.Decimal, reason, code string, userID *uint) (*domain.EscrowCredit, error) {
	row := domain.EscrowCredit{
		EventKey:      eventKey,
		Level:         level,
		Amount:        amt,
		MissingCode:   code,
		MissingUserID: userID,
		Reason:        reason,
		Status:        domain.EscrowHeld,
	}
	if err := tx.DB().Create(&row).Error; err != nil {
		return nil, fmt.Errorf("escrow level %d: %w", level, err)
	}
	return &row, nil
}

// load rebuilds the result of a stored run
func (e *Engine) load(db *gorm.DB, purchase *domain.Purchase) (*Result, error) {
	key := purchase.EventKey()
	res := &Result{Purchase: *purchase, Credits: []Credit{}, Escrowed: []domain.EscrowCredit{}, Skipped: []Skip{}, Replayed: true}
	if err := db.Where("event_key = ?", key).First(&res.Run).Error; err != nil {
		return nil, err
	}
	var rows []domain.Transaction
	if err := db.Where("event_key = ? AND type = ?", key, domain.TxCommission).Order("level asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID)
	}
	names := map[uint]string{}
	if len(ids) > 0 {
		var users []domain.User
		if err := db.Unscoped().Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			names[u.ID] = u.Username
		}
	}
	for _, r := range rows {
		c := Credit{UserID: r.UserID, Username: names[r.UserID], Amount: r.Amount, TransactionID: r.ID}
		if r.Level != nil {
			c.Level = *r.Level
		}
		if s, ok := r.Metadata["rate"].(string); ok {
			c.Rate, _ = decimal.NewFromString(s)
		}
		res.Credits = append(res.Credits, c)
	}
	if err := db.Where("event_key = ?", key).Order("level asc").Find(&res.Escrowed).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// finish logs, counts and audits a pass after it committed
func (e *Engine) finish(ctx context.Context, res *Result) {
	if res.Replayed {
		metrics.AttributionReplays.Inc()
		logrus.WithField("event_key", res.Run.EventKey).Info("Attribution replayed from stored run")
		return
	}
	entry := audit.Entry{
		EventKey:    res.Run.EventKey,
		PurchaseID:  res.Purchase.ID,
		BuyerID:     res.Run.BuyerID,
		GrossAmount: res.Run.GrossAmount.StringFixed(2),
		Currency:    domain.Currency,
		Policy:      res.Run.Policy,
		RecordedAt:  e.now().UTC(),
	}
	for _, c := range res.Credits {
		lvl := strconv.Itoa(c.Level)
		metrics.CommissionCredits.WithLabelValues(lvl).Inc()
		metrics.CommissionAmount.WithLabelValues(lvl).Add(c.Amount.InexactFloat64())
		entry.Credits = append(entry.Credits, audit.CreditLine{
			Level: c.Level, UserID: c.UserID, Rate: c.Rate.String(), Amount: c.Amount.StringFixed(2), TransactionID: c.TransactionID,
		})
		logrus.WithFields(logrus.Fields{
			"event_key":   res.Run.EventKey,
			"level":       c.Level,
			"user_id":     c.UserID,
			"amount":      c.Amount.StringFixed(2),
			"source_user": res.Run.BuyerID,
		}).Info("Commission credited")
	}
	for _, x := range res.Escrowed {
		metrics.AttributionSkips.WithLabelValues("escrow_" + x.Reason).Inc()
		entry.Escrowed = append(entry.Escrowed, audit.EscrowLine{Level: x.Level, Amount: x.Amount.StringFixed(2), Reason: x.Reason, Code: x.MissingCode})
	}
	for _, s := range res.Skipped {
		metrics.AttributionSkips.WithLabelValues(s.Reason).Inc()
		entry.Skipped = append(entry.Skipped, audit.SkipLine{Level: s.Level, Reason: s.Reason, UserID: s.UserID})
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		// The ledger has committed; a lost audit document is logged, not fatal
		logrus.WithFields(logrus.Fields{"event_key": entry.EventKey, "error": err.Error()}).Error("Failed to record attribution audit")
	}
}
