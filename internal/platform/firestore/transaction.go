package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is the body of a read-write transaction. Firestore re-runs it when a
// read document changes before commit, so it must only act through tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxPolicy bounds a transaction. Timeout covers every attempt combined.
type TxPolicy struct {
	Attempts int
	Timeout  time.Duration
}

// DefaultTxPolicy suits single-document counters and order status writes.
var DefaultTxPolicy = TxPolicy{Attempts: 5, Timeout: 15 * time.Second}

func (p TxPolicy) normalised() TxPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultTxPolicy.Attempts
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTxPolicy.Timeout
	}
	return p
}

// Run executes fn on client under p and maps the outcome through WrapError.
// Errors returned by fn pass through unchanged when they already carry
// repository semantics.
func (p TxPolicy) Run(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	if client == nil || fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction needs a client and a body"))
	}
	p = p.normalised()
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(p.Attempts)))
}
