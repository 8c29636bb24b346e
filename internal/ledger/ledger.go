// Package ledger appends transaction rows and keeps the cached balance fields on
// users in step with them. Every write goes through a unit of work so a ledger row
// and its balance change commit or roll back together.
package ledger

import (
	"context"      // Context propagation
	"database/sql" // Isolation levels
	"errors"       // Error inspection
	"fmt"          // Error wrapping
	"strings"      // String manipulation

	"mlm_ledger/internal/domain" // Importing domain models

	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
	"gorm.io/gorm/clause"           // Row locks and upserts
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotPending        = errors.New("transaction is not pending")
	ErrZeroAmount        = errors.New("amount must not be zero")
	ErrUserNotFound      = errors.New("user not found")
	ErrTxNotFound        = errors.New("transaction not found")
)

// CommitHook runs after a unit of work commits, with the users whose cached balances changed
type CommitHook func(ctx context.Context, userIDs []uint)

// Writer is the single entry point for ledger writes
type Writer struct {
	db    *gorm.DB
	opts  *sql.TxOptions
	hooks []CommitHook
}

// NewWriter creates a writer. isolation is an SQL isolation level name such as
// "REPEATABLE READ"; empty or "DEFAULT" leaves the driver default.
func NewWriter(db *gorm.DB, isolation string) *Writer {
	w := &Writer{db: db}
	if level, ok := parseIsolation(isolation); ok {
		w.opts = &sql.TxOptions{Isolation: level}
	}
	return w
}

func parseIsolation(name string) (sql.IsolationLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "READ COMMITTED":
		return sql.LevelReadCommitted, true
	case "REPEATABLE READ":
		return sql.LevelRepeatableRead, true
	case "SERIALIZABLE":
		return sql.LevelSerializable, true
	default:
		return sql.LevelDefault, false
	}
}

// DB returns the underlying handle for read-only queries
func (w *Writer) DB() *gorm.DB { return w.db }

// OnCommit registers a hook fired after each successful unit of work
func (w *Writer) OnCommit(h CommitHook) { w.hooks = append(w.hooks, h) }

// Run executes fn inside one database transaction
func (w *Writer) Run(ctx context.Context, fn func(tx *Tx) error) error {
	t := &Tx{touched: map[uint]struct{}{}}
	txFn := func(gtx *gorm.DB) error {
		t.db = gtx
		return fn(t)
	}
	var err error
	if w.opts != nil {
		err = w.db.WithContext(ctx).Transaction(txFn, w.opts)
	} else {
		err = w.db.WithContext(ctx).Transaction(txFn)
	}
	if err != nil {
		return err
	}
	if ids := t.Touched(); len(ids) > 0 {
		for _, h := range w.hooks {
			h(ctx, ids)
		}
	}
	return nil
}

// Tx is a unit of work in progress
type Tx struct {
	db      *gorm.DB
	touched map[uint]struct{}
}

// DB exposes the transaction handle for non-ledger rows written in the same unit
func (t *Tx) DB() *gorm.DB { return t.db }

// Touched lists users whose cached balances were changed
func (t *Tx) Touched() []uint {
	ids := make([]uint, 0, len(t.touched))
	for id := range t.touched {
		ids = append(ids, id)
	}
	return ids
}

// Touch marks a user whose cached wallet view changed without a balance move
func (t *Tx) Touch(userID uint) { t.touched[userID] = struct{}{} }

// LockUser loads a user row FOR UPDATE
func (t *Tx) LockUser(id uint) (*domain.User, error) {
	var u domain.User
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// lockAny is LockUser including soft-deleted rows
func (t *Tx) lockAny(id uint) (*domain.User, error) {
	var u domain.User
	err := t.db.Unscoped().Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Entry describes one ledger row to append
type Entry struct {
	UserID       uint
	Type         string
	Status       string // defaults to COMPLETED
	Amount       decimal.Decimal
	EventKey     string
	Level        int
	SourceUserID uint
	Description  string
	Metadata     domain.Metadata
}

// Post appends a ledger row. A COMPLETED row also moves the owner's cached balance.
func (t *Tx) Post(e Entry) (*domain.Transaction, error) {
	e.Amount = e.Amount.Round(2)
	if e.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if e.Status == "" {
		e.Status = domain.TxCompleted
	}
	row := domain.Transaction{
		UserID:      e.UserID,
		Type:        e.Type,
		Status:      e.Status,
		Amount:      e.Amount,
		Description: e.Description,
		Metadata:    e.Metadata,
	}
	if e.EventKey != "" {
		key := e.EventKey
		row.EventKey = &key
	}
	if e.Level > 0 {
		lvl := e.Level
		row.Level = &lvl
	}
	if e.SourceUserID > 0 {
		src := e.SourceUserID
		row.SourceUserID = &src
	}
	if row.Status == domain.TxCompleted {
		if err := t.applyBalance(row.UserID, row.Type, row.Amount); err != nil {
			return nil, err
		}
	}
	if err := t.db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("append ledger row: %w", err)
	}
	return &row, nil
}

// Complete moves a PENDING row to COMPLETED and applies it to the balance
func (t *Tx) Complete(id uint, meta domain.Metadata) (*domain.Transaction, error) {
	row, err := t.lockPending(id)
	if err != nil {
		return nil, err
	}
	if err := t.applyBalance(row.UserID, row.Type, row.Amount); err != nil {
		return nil, err
	}
	return t.transition(row, domain.TxCompleted, meta)
}

// Fail moves a PENDING row to FAILED. The balance is untouched.
func (t *Tx) Fail(id uint, meta domain.Metadata) (*domain.Transaction, error) {
	row, err := t.lockPending(id)
	if err != nil {
		return nil, err
	}
	return t.transition(row, domain.TxFailed, meta)
}

func (t *Tx) lockPending(id uint) (*domain.Transaction, error) {
	var row domain.Transaction
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.Status != domain.TxPending {
		return nil, ErrNotPending
	}
	return &row, nil
}

func (t *Tx) transition(row *domain.Transaction, status string, meta domain.Metadata) (*domain.Transaction, error) {
	merged := domain.Metadata{}
	for k, v := range row.Metadata {
		merged[k] = v
	}
	for k, v := range meta {
		merged[k] = v
	}
	// The status guard makes a concurrent second transition a no-op
	res := t.db.Model(&domain.Transaction{}).
		Where("id = ? AND status = ?", row.ID, domain.TxPending).
		Updates(map[string]any{"status": status, "metadata": merged})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotPending
	}
	row.Status = status
	row.Metadata = merged
	return row, nil
}

func (t *Tx) applyBalance(userID uint, txType string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		u, err := t.LockUser(userID)
		if err != nil {
			return err
		}
		if u.Balance.Add(amount).IsNegative() {
			return ErrInsufficientFunds
		}
	}
	updates := map[string]any{"balance": gorm.Expr("balance + ?", amount)}
	if txType == domain.TxCommission {
		updates["referral_earnings"] = gorm.Expr("referral_earnings + ?", amount)
	}
	if amount.IsPositive() && isEarning(txType) {
		updates["total_earnings"] = gorm.Expr("total_earnings + ?", amount)
	}
	res := t.db.Model(&domain.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update cached balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	t.touched[userID] = struct{}{}
	return nil
}

func isEarning(txType string) bool {
	for _, t := range domain.EarningTypes {
		if t == txType {
			return true
		}
	}
	return false
}

// PendingDebits returns the positive total of a user's PENDING debits
func (t *Tx) PendingDebits(userID uint) (decimal.Decimal, error) {
	return pendingDebits(t.db, userID)
}

// RequireAvailable fails with ErrInsufficientFunds when amount is more than the
// user's balance less their PENDING debits. The user row must already be locked.
func (t *Tx) RequireAvailable(u *domain.User, amount decimal.Decimal) error {
	pending, err := t.PendingDebits(u.ID)
	if err != nil {
		return err
	}
	if u.Balance.Sub(pending).LessThan(amount) {
		return ErrInsufficientFunds
	}
	return nil
}

// PendingDebits is the read-only variant used outside a unit of work
func (w *Writer) PendingDebits(ctx context.Context, userID uint) (decimal.Decimal, error) {
	return pendingDebits(w.db.WithContext(ctx), userID)
}

func pendingDebits(db *gorm.DB, userID uint) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := db.Model(&domain.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND status = ? AND amount < 0", userID, domain.TxPending).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum.Neg(), nil
}

// Fields logs a ledger row
func Fields(row *domain.Transaction) logrus.Fields {
	f := logrus.Fields{
		"tx_id":   row.ID,
		"user_id": row.UserID,
		"type":    row.Type,
		"status":  row.Status,
		"amount":  row.Amount.StringFixed(2),
	}
	if row.EventKey != nil {
		f["event_key"] = *row.EventKey
	}
	if row.Level != nil {
		f["level"] = *row.Level
	}
	return f
}
