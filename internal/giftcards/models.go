package giftcards

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CardStatus represents the gift card lifecycle state
type CardStatus string

const (
	CardStatusActive    CardStatus = "active"
	CardStatusUsed      CardStatus = "used"      // Balance fully spent
	CardStatusExpired   CardStatus = "expired"   // Past validity window
	CardStatusCancelled CardStatus = "cancelled" // Voided by staff
)

// TransactionType classifies a ledger entry. Expiry has no entry type:
// the sweep flips status without touching the balance, so the ledger only
// records balance mutations.
type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeRedemption TransactionType = "redemption"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// GiftCard represents a stored-value card
type GiftCard struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	Code              string           `json:"code" db:"code"` // Unique redemption code
	Status            CardStatus       `json:"status" db:"status"`
	InitialValue      decimal.Decimal  `json:"initial_value" db:"initial_value"`
	CurrentBalance    decimal.Decimal  `json:"current_balance" db:"current_balance"`
	Currency          string           `json:"currency" db:"currency"`
	ValidFrom         time.Time        `json:"valid_from" db:"valid_from"`
	ValidUntil        time.Time        `json:"valid_until" db:"valid_until"` // Inclusive of this day
	PurchaserID       *uuid.UUID       `json:"purchaser_id,omitempty" db:"purchaser_id"`
	PurchaserName     *string          `json:"purchaser_name,omitempty" db:"purchaser_name"`
	PurchaserEmail    *string          `json:"purchaser_email,omitempty" db:"purchaser_email"`
	RecipientID       *uuid.UUID       `json:"recipient_id,omitempty" db:"recipient_id"`
	RecipientName     *string          `json:"recipient_name,omitempty" db:"recipient_name"`
	RecipientEmail    *string          `json:"recipient_email,omitempty" db:"recipient_email"`
	Message           *string          `json:"message,omitempty" db:"message"`
	TemplateID        *string          `json:"template_id,omitempty" db:"template_id"`
	AllowedServiceIDs []uuid.UUID      `json:"allowed_service_ids,omitempty" db:"allowed_service_ids"` // Empty means all services
	MinPurchaseAmount *decimal.Decimal `json:"min_purchase_amount,omitempty" db:"min_purchase_amount"`
	SoldBy            uuid.UUID        `json:"sold_by" db:"sold_by"`
	SoldAt            time.Time        `json:"sold_at" db:"sold_at"`
	Notes             *string          `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// Transaction is one append-only ledger entry for a card
type Transaction struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	CardID        uuid.UUID       `json:"card_id" db:"card_id"`
	Type          TransactionType `json:"type" db:"type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // Signed delta, positive = credit
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	AppointmentID *uuid.UUID      `json:"appointment_id,omitempty" db:"appointment_id"`
	PerformedBy   uuid.UUID       `json:"performed_by" db:"performed_by"`
	Notes         *string         `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// AllowsService reports whether the card may be spent against the given service
func (g *GiftCard) AllowsService(serviceID uuid.UUID) bool {
	if len(g.AllowedServiceIDs) == 0 {
		return true
	}
	for _, id := range g.AllowedServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// validityEnd returns the first instant at which the card is no longer usable.
// ValidUntil is inclusive of that calendar day.
func (g *GiftCard) validityEnd() time.Time {
	y, m, d := g.ValidUntil.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.ValidUntil.Location()).AddDate(0, 0, 1)
}

// IsWithinValidity reports whether now falls inside the card's usability window
func (g *GiftCard) IsWithinValidity(now time.Time) bool {
	return !now.Before(g.ValidFrom) && now.Before(g.validityEnd())
}

// statusForBalance derives the balance-implied status of a spendable card
func statusForBalance(balance decimal.Decimal) CardStatus {
	if balance.IsZero() {
		return CardStatusUsed
	}
	return CardStatusActive
}

// ========================================
// REQUEST/RESPONSE TYPES
// ========================================

// IssueGiftCardRequest creates a new gift card
type IssueGiftCardRequest struct {
	InitialValue      decimal.Decimal  `json:"initial_value"`
	Currency          string           `json:"currency" binding:"omitempty,len=3" validate:"omitempty,iso4217"`
	ValidFrom         *time.Time       `json:"valid_from,omitempty"`
	ValidUntil        *time.Time       `json:"valid_until,omitempty"`
	PurchaserID       *uuid.UUID       `json:"purchaser_id,omitempty"`
	PurchaserName     *string          `json:"purchaser_name,omitempty"`
	PurchaserEmail    *string          `json:"purchaser_email,omitempty" binding:"omitempty,email" validate:"omitempty,email"`
	RecipientID       *uuid.UUID       `json:"recipient_id,omitempty"`
	RecipientName     *string          `json:"recipient_name,omitempty"`
	RecipientEmail    *string          `json:"recipient_email,omitempty" binding:"omitempty,email" validate:"omitempty,email"`
	Message           *string          `json:"message,omitempty"`
	TemplateID        *string          `json:"template_id,omitempty"`
	AllowedServiceIDs []uuid.UUID      `json:"allowed_service_ids,omitempty"`
	MinPurchaseAmount *decimal.Decimal `json:"min_purchase_amount,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
}

// UpdateGiftCardRequest mutates presentational metadata only
type UpdateGiftCardRequest struct {
	PurchaserName  *string `json:"purchaser_name,omitempty"`
	PurchaserEmail *string `json:"purchaser_email,omitempty" binding:"omitempty,email"`
	RecipientName  *string `json:"recipient_name,omitempty"`
	RecipientEmail *string `json:"recipient_email,omitempty" binding:"omitempty,email"`
	Message        *string `json:"message,omitempty"`
	TemplateID     *string `json:"template_id,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

// RedeemGiftCardRequest spends part of a card's balance
type RedeemGiftCardRequest struct {
	Code          string          `json:"code" binding:"required" validate:"required,gift_card_code"`
	Amount        decimal.Decimal `json:"amount"`
	AppointmentID *uuid.UUID      `json:"appointment_id,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
}

// RefundGiftCardRequest returns value onto a card
type RefundGiftCardRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  *string         `json:"notes,omitempty"`
}

// AdjustBalanceRequest applies a signed manual correction
type AdjustBalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  *string         `json:"notes,omitempty"`
}

// CancelGiftCardRequest voids a card
type CancelGiftCardRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ValidateCodeRequest asks whether a code is usable right now
type ValidateCodeRequest struct {
	Code      string           `json:"code" binding:"required"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	ServiceID *uuid.UUID       `json:"service_id,omitempty"`
}

// CardSnapshot is the PII-free view returned to checkout UIs
type CardSnapshot struct {
	Code              string           `json:"code"`
	Status            CardStatus       `json:"status"`
	CurrentBalance    decimal.Decimal  `json:"current_balance"`
	Currency          string           `json:"currency"`
	ValidFrom         time.Time        `json:"valid_from"`
	ValidUntil        time.Time        `json:"valid_until"`
	AllowedServiceIDs []uuid.UUID      `json:"allowed_service_ids,omitempty"`
	MinPurchaseAmount *decimal.Decimal `json:"min_purchase_amount,omitempty"`
}

// Snapshot builds the checkout-safe view of a card
func (g *GiftCard) Snapshot() *CardSnapshot {
	return &CardSnapshot{
		Code:              g.Code,
		Status:            g.Status,
		CurrentBalance:    g.CurrentBalance,
		Currency:          g.Currency,
		ValidFrom:         g.ValidFrom,
		ValidUntil:        g.ValidUntil,
		AllowedServiceIDs: g.AllowedServiceIDs,
		MinPurchaseAmount: g.MinPurchaseAmount,
	}
}

// ValidationResult is the outcome of a code validation; failures are not errors
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Reason   string        `json:"reason,omitempty"`
	Snapshot *CardSnapshot `json:"snapshot,omitempty"`
}

// ListFilter narrows ListCards results
type ListFilter struct {
	Status        *CardStatus
	RecipientID   *uuid.UUID
	PurchasedByID *uuid.UUID
	Code          string // Substring match on the code
}

// Stats is the reporting aggregate over the whole ledger
type Stats struct {
	TotalCards       int64           `json:"total_cards"`
	ActiveCards      int64           `json:"active_cards"` // Active status and inside validity window
	TotalValue       decimal.Decimal `json:"total_value"`
	UsedValue        decimal.Decimal `json:"used_value"`
	OutstandingValue decimal.Decimal `json:"outstanding_value"`
}
