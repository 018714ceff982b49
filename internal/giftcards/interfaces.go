package giftcards

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RepositoryInterface defines the contract for gift card ledger storage
type RepositoryInterface interface {
	// Card operations
	CreateCard(ctx context.Context, card *GiftCard, opening *Transaction) error
	GetCardByID(ctx context.Context, id uuid.UUID) (*GiftCard, error)
	GetCardByCode(ctx context.Context, code string) (*GiftCard, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListCards(ctx context.Context, filter ListFilter, limit, offset int) ([]GiftCard, int64, error)
	UpdateCardMetadata(ctx context.Context, cardID uuid.UUID, updates UpdateGiftCardRequest) (*GiftCard, error)
	CancelCard(ctx context.Context, cardID uuid.UUID) (*GiftCard, error)

	// Ledger operations
	ApplyTransaction(ctx context.Context, cardID uuid.UUID, params ApplyTransactionParams) (*GiftCard, *Transaction, error)
	ListTransactions(ctx context.Context, cardID uuid.UUID) ([]Transaction, error)

	// Batch and reporting operations
	ExpireCards(ctx context.Context, now time.Time) (int64, error)
	AggregateStats(ctx context.Context) (*Stats, error)
}
