package ledger

import (
	"context"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
)

// Store is the purchase ledger. InsertIfAbsent is the only write and reports
// false when the (user, product) pair already has a purchase.
type Store interface {
	InsertIfAbsent(ctx context.Context, p *domain.Purchase) (bool, error)
	Exists(ctx context.Context, userID, productID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Purchase, error)
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Purchase, error)
	Close() error
}

// OutboxEvent is a pending broker message written alongside a purchase.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
}
