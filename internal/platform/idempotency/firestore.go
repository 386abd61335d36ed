package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/nanacafe/api/internal/platform/firestore"
)

const collection = "idempotency_keys"

type keyDocument struct {
	Fingerprint     string              `firestore:"fingerprint"`
	Completed       bool                `firestore:"completed"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func (d keyDocument) entry() Entry {
	return Entry{
		Fingerprint: d.Fingerprint,
		Completed:   d.Completed,
		Response:    Response{Status: d.ResponseStatus, Headers: d.ResponseHeaders, Body: d.ResponseBody},
		ExpiresAt:   d.ExpiresAt,
	}
}

// FirestoreStore keeps keys in the idempotency_keys collection. Reservations
// run in a transaction so concurrent retries resolve to a single owner.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

// NewFirestoreStore constructs a FirestoreStore.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider}
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(collection).Doc(documentID(key)), nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return 0, Entry{}, err
	}
	var (
		state State
		entry Entry
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		var doc keyDocument
		if err == nil {
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		}
		if err != nil || !now.Before(doc.ExpiresAt) {
			doc = keyDocument{Fingerprint: fingerprint, ExpiresAt: now.Add(ttlOrDefault(ttl))}
			state, entry = StateNew, doc.entry()
			return tx.Set(ref, doc)
		}
		if doc.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		entry = doc.entry()
		state = StateInFlight
		if doc.Completed {
			state = StateCompleted
		}
		return nil
	})
	if err != nil {
		return 0, Entry{}, err
	}
	return state, entry, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]any{
		"completed":        true,
		"response_status":  resp.Status,
		"response_headers": replayableHeaders(resp.Headers),
		"response_body":    resp.Body,
		"expires_at":       now.Add(ttlOrDefault(ttl)),
	}, firestore.MergeAll)
	return pfirestore.WrapError("idempotency_keys.complete", err)
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency_keys.release", err)
	}
	return nil
}

// Purge deletes up to limit expired keys.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	docs, err := client.Collection(collection).Where("expires_at", "<=", now).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency_keys.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	bw := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			return 0, pfirestore.WrapError("idempotency_keys.purge", err)
		}
	}
	bw.End()
	return len(docs), nil
}
