// Package audit keeps a document per attribution pass, independent of the ledger
// tables, so an auditor can see who was credited, escrowed or skipped and why.
package audit

import (
	"context" // Context propagation
	"errors"  // Error inspection
	"time"    // Timestamps

	"github.com/sirupsen/logrus" // Logging library
)

var ErrNotFound = errors.New("audit entry not found")

// CreditLine is one commission paid out
type CreditLine struct {
	Level         int    `bson:"level" json:"level"`
	UserID        uint   `bson:"user_id" json:"user_id"`
	Rate          string `bson:"rate" json:"rate"`
	Amount        string `bson:"amount" json:"amount"`
	TransactionID uint   `bson:"transaction_id" json:"transaction_id"`
}

// EscrowLine is one commission held back
type EscrowLine struct {
	Level  int    `bson:"level" json:"level"`
	Amount string `bson:"amount" json:"amount"`
	Reason string `bson:"reason" json:"reason"`
	Code   string `bson:"code,omitempty" json:"code,omitempty"`
}

// SkipLine is a level that produced nothing
type SkipLine struct {
	Level  int    `bson:"level" json:"level"`
	Reason string `bson:"reason" json:"reason"`
	UserID uint   `bson:"user_id,omitempty" json:"user_id,omitempty"`
}

// Entry is the audit document for one attribution pass
type Entry struct {
	EventKey    string       `bson:"event_key" json:"event_key"`
	PurchaseID  uint         `bson:"purchase_id" json:"purchase_id"`
	BuyerID     uint         `bson:"buyer_id" json:"buyer_id"`
	GrossAmount string       `bson:"gross_amount" json:"gross_amount"`
	Currency    string       `bson:"currency" json:"currency"`
	Policy      string       `bson:"policy" json:"policy"`
	Credits     []CreditLine `bson:"credits" json:"credits"`
	Escrowed    []EscrowLine `bson:"escrowed" json:"escrowed"`
	Skipped     []SkipLine   `bson:"skipped" json:"skipped"`
	RecordedAt  time.Time    `bson:"recorded_at" json:"recorded_at"`
}

// Sink stores audit entries
type Sink interface {
	Record(ctx context.Context, e Entry) error
	Find(ctx context.Context, eventKey string) (*Entry, error)
}

// LogSink writes entries to the structured log only
type LogSink struct{}

// Record logs the entry
func (LogSink) Record(_ context.Context, e Entry) error {
	logrus.WithFields(logrus.Fields{
		"event_key": e.EventKey,
		"buyer_id":  e.BuyerID,
		"gross":     e.GrossAmount,
		"policy":    e.Policy,
		"credits":   len(e.Credits),
		"escrowed":  len(e.Escrowed),
		"skipped":   len(e.Skipped),
	}).Info("Attribution audit")
	return nil
}

// Find is unsupported for logs
func (LogSink) Find(context.Context, string) (*Entry, error) {
	return nil, ErrNotFound
}
