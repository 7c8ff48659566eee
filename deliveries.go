package beacon

import (
	"context"

	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/id"
)

// DeliveryService exposes the delivery ledger for inspection.
type DeliveryService struct {
	store delivery.Store
}

// Get returns one attempt.
func (s *DeliveryService) Get(ctx context.Context, attID id.ID) (*delivery.Attempt, error) {
	return s.store.GetAttempt(ctx, attID)
}

// List returns attempts matching opts, newest first.
func (s *DeliveryService) List(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	return s.store.ListAttempts(ctx, opts)
}

// Chain returns every attempt of a delivery in attempt order. It returns
// ErrAttemptNotFound for an unknown delivery.
func (s *DeliveryService) Chain(ctx context.Context, deliveryID id.ID) ([]*delivery.Attempt, error) {
	chain, err := s.store.ListChain(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, ErrAttemptNotFound
	}
	return chain, nil
}

// Stats returns attempt counts by status.
func (s *DeliveryService) Stats(ctx context.Context) (delivery.Stats, error) {
	return s.store.CountByStatus(ctx)
}
