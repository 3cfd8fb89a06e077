package gateway

import (
	"context"
	"errors"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/rules"
)

// Inserter is the store operation LocalGateway needs.
type Inserter interface {
	InsertInteraction(ctx context.Context, rec rules.InteractionRecord) (rules.InteractionRecord, error)
}

// LocalGateway writes records straight to a store in the same process.
type LocalGateway struct {
	store Inserter
}

func NewLocalGateway(store Inserter) *LocalGateway {
	return &LocalGateway{store: store}
}

func (g *LocalGateway) Submit(ctx context.Context, rec rules.InteractionRecord) (rules.InteractionRecord, error) {
	if g == nil || g.store == nil {
		return rules.InteractionRecord{}, apperrors.Configuration("interaction storage is not configured", nil)
	}
	stored, err := g.store.InsertInteraction(ctx, rec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return rules.InteractionRecord{}, apperrors.Timeout("store insert timed out", err)
		}
		return rules.InteractionRecord{}, apperrors.Transport("store insert failed", err)
	}
	return stored, nil
}
