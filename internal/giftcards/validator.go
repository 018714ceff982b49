package giftcards

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Validation failure reasons shown to checkout UIs
const (
	ReasonNotFound          = "gift card does not exist"
	ReasonUsed              = "gift card is fully used"
	ReasonExpired           = "gift card has expired"
	ReasonCancelled         = "gift card is cancelled"
	ReasonNotYetActive      = "gift card is not yet active"
	ReasonServiceNotAllowed = "gift card is not valid for this service"
)

// invalid builds a failed validation result
func invalid(reason string) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}

// ValidateCard decides whether a card is usable at the given instant, for an
// optional checkout amount and an optional service. It is a pure function of
// the card state and the clock: no side effects, safe to call repeatedly.
// Checks run in a fixed order and short-circuit on the first failure.
func ValidateCard(card *GiftCard, now time.Time, amount *decimal.Decimal, serviceID *uuid.UUID) ValidationResult {
	switch card.Status {
	case CardStatusUsed:
		return invalid(ReasonUsed)
	case CardStatusExpired:
		return invalid(ReasonExpired)
	case CardStatusCancelled:
		return invalid(ReasonCancelled)
	}

	if now.Before(card.ValidFrom) {
		return invalid(ReasonNotYetActive)
	}
	if !now.Before(card.validityEnd()) {
		return invalid(ReasonExpired)
	}

	if amount != nil {
		if card.CurrentBalance.LessThan(*amount) {
			return invalid(fmt.Sprintf("insufficient funds, available: %s", card.CurrentBalance.String()))
		}
		if card.MinPurchaseAmount != nil && amount.LessThan(*card.MinPurchaseAmount) {
			return invalid(fmt.Sprintf("purchase total below card minimum of %s", card.MinPurchaseAmount.String()))
		}
	}

	if serviceID != nil && !card.AllowsService(*serviceID) {
		return invalid(ReasonServiceNotAllowed)
	}

	return ValidationResult{Valid: true, Snapshot: card.Snapshot()}
}
