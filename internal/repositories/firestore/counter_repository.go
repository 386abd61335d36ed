package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/nanacafe/api/internal/platform/firestore"
	"github.com/nanacafe/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out sequence numbers from the counters collection.
// Each increment runs in a transaction so concurrent callers never share a value.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

// Next adds step (default 1) to counterID and returns the new value. Missing
// counters start at zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, fmt.Errorf("%w: counter id is required", repositories.ErrInvalidArgument)
	}
	if step < 0 {
		return 0, fmt.Errorf("%w: counter step must be positive, got %d", repositories.ErrInvalidArgument, step)
	}
	if step == 0 {
		step = 1
	}

	ref, err := r.counters.Doc(ctx, id)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current counterDocument
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snap.DataTo(&current); err != nil {
				return fmt.Errorf("%w: counter %s: %v", repositories.ErrCorruptDocument, id, err)
			}
		case codes.NotFound:
		default:
			return err
		}
		next = current.Value + step
		return tx.Set(ref, counterDocument{Value: next, UpdatedAt: r.now().UTC()})
	})
	if errors.Is(err, repositories.ErrCorruptDocument) {
		return 0, err
	}
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
