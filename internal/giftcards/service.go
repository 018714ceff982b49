package giftcards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/glowdesk/glowdesk/pkg/eventbus"
	"github.com/glowdesk/glowdesk/pkg/logger"
)

// Audit event subjects published on the bus, one per mutating operation
const (
	SubjectIssued    = "giftcards.issued"
	SubjectRedeemed  = "giftcards.redeemed"
	SubjectRefunded  = "giftcards.refunded"
	SubjectAdjusted  = "giftcards.adjusted"
	SubjectCancelled = "giftcards.cancelled"
	SubjectUpdated   = "giftcards.updated"
	SubjectExpired   = "giftcards.expired"
)

// createMaxAttempts bounds insert retries when the unique code index
// rejects a generated code that raced past the pre-check
const createMaxAttempts = 3

const defaultCurrency = "USD"

// AuditRecord is the payload of every audit event
type AuditRecord struct {
	CardID        uuid.UUID        `json:"card_id"`
	Code          string           `json:"code"`
	Operation     string           `json:"operation"`
	ActorID       uuid.UUID        `json:"actor_id"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	BalanceBefore *decimal.Decimal `json:"balance_before,omitempty"`
	BalanceAfter  *decimal.Decimal `json:"balance_after,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// Service implements the gift card lifecycle engine
type Service struct {
	repo                  RepositoryInterface
	bus                   eventbus.Publisher
	clock                 func() time.Time
	defaultValidityMonths int
}

// Option customizes a Service
type Option func(*Service)

// WithClock overrides the time source, used in tests
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithDefaultValidityMonths changes the validity window applied when an
// issue request omits valid_until
func WithDefaultValidityMonths(months int) Option {
	return func(s *Service) {
		if months > 0 {
			s.defaultValidityMonths = months
		}
	}
}

// NewService creates a new gift card service
func NewService(repo RepositoryInterface, bus eventbus.Publisher, opts ...Option) *Service {
	s := &Service{
		repo:                  repo,
		bus:                   bus,
		clock:                 time.Now,
		defaultValidityMonths: 12,
	}
	if bus == nil {
		s.bus = eventbus.Noop{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// startOfDay truncates t to midnight in its own location
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IssueCard creates a card with its opening purchase transaction
func (s *Service) IssueCard(ctx context.Context, req *IssueGiftCardRequest, actorID uuid.UUID) (*GiftCard, error) {
	if !req.InitialValue.IsPositive() {
		return nil, fmt.Errorf("%w: initial value must be greater than zero", ErrInvalidAmount)
	}
	if req.MinPurchaseAmount != nil && req.MinPurchaseAmount.IsNegative() {
		return nil, fmt.Errorf("%w: min purchase amount cannot be negative", ErrInvalidAmount)
	}

	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	now := s.clock()
	validFrom := startOfDay(now)
	if req.ValidFrom != nil {
		validFrom = startOfDay(*req.ValidFrom)
	}
	validUntil := startOfDay(now.AddDate(0, s.defaultValidityMonths, 0))
	if req.ValidUntil != nil {
		validUntil = startOfDay(*req.ValidUntil)
	}
	if validFrom.After(validUntil) {
		return nil, ErrInvalidDateRange
	}

	var card *GiftCard
	for attempt := 0; attempt < createMaxAttempts; attempt++ {
		code, err := generateUniqueCode(ctx, s.repo)
		if err != nil {
			return nil, err
		}

		card = &GiftCard{
			ID:                uuid.New(),
			Code:              code,
			Status:            CardStatusActive,
			InitialValue:      req.InitialValue,
			CurrentBalance:    req.InitialValue,
			Currency:          currency,
			ValidFrom:         validFrom,
			ValidUntil:        validUntil,
			PurchaserID:       req.PurchaserID,
			PurchaserName:     req.PurchaserName,
			PurchaserEmail:    req.PurchaserEmail,
			RecipientID:       req.RecipientID,
			RecipientName:     req.RecipientName,
			RecipientEmail:    req.RecipientEmail,
			Message:           req.Message,
			TemplateID:        req.TemplateID,
			AllowedServiceIDs: req.AllowedServiceIDs,
			MinPurchaseAmount: req.MinPurchaseAmount,
			SoldBy:            actorID,
			SoldAt:            now,
			Notes:             req.Notes,
		}

		opening := &Transaction{
			ID:           uuid.New(),
			CardID:       card.ID,
			Type:         TransactionTypePurchase,
			Amount:       req.InitialValue,
			BalanceAfter: req.InitialValue,
			PerformedBy:  actorID,
		}

		err = s.repo.CreateCard(ctx, card, opening)
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateCode) && attempt < createMaxAttempts-1 {
			// The pre-check raced a concurrent issuance; draw a fresh code
			continue
		}
		return nil, fmt.Errorf("failed to create card: %w", err)
	}

	cardsIssuedTotal.Inc()
	s.audit(ctx, SubjectIssued, AuditRecord{
		CardID:       card.ID,
		Code:         card.Code,
		Operation:    "issue",
		ActorID:      actorID,
		Amount:       &card.InitialValue,
		BalanceAfter: &card.CurrentBalance,
	})
	logger.WithContext(ctx).Info("gift card issued",
		zap.String("card_id", card.ID.String()),
		zap.String("value", card.InitialValue.String()),
	)

	return card, nil
}

// GetCard retrieves a card by ID
func (s *Service) GetCard(ctx context.Context, id uuid.UUID) (*GiftCard, error) {
	return s.repo.GetCardByID(ctx, id)
}

// GetCardByCode retrieves a card by its redemption code
func (s *Service) GetCardByCode(ctx context.Context, code string) (*GiftCard, error) {
	return s.repo.GetCardByCode(ctx, code)
}

// ListCards returns a filtered page of cards and the total count
func (s *Service) ListCards(ctx context.Context, filter ListFilter, limit, offset int) ([]GiftCard, int64, error) {
	return s.repo.ListCards(ctx, filter, limit, offset)
}

// ListTransactions returns a card's ledger history
func (s *Service) ListTransactions(ctx context.Context, cardID uuid.UUID) ([]Transaction, error) {
	if _, err := s.repo.GetCardByID(ctx, cardID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, cardID)
}

// ValidateCode checks whether a code is usable right now. Failures are a
// typed result, not an error, so checkout flows can show the reason.
func (s *Service) ValidateCode(ctx context.Context, code string, amount *decimal.Decimal, serviceID *uuid.UUID) (*ValidationResult, error) {
	code = NormalizeCode(code)
	if !IsWellFormedCode(code) {
		result := invalid(ReasonNotFound)
		return &result, nil
	}

	card, err := s.repo.GetCardByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCardNotFound) {
			result := invalid(ReasonNotFound)
			return &result, nil
		}
		return nil, err
	}

	result := ValidateCard(card, s.clock(), amount, serviceID)
	return &result, nil
}

// RedeemCard spends part of a card's balance against a checkout
func (s *Service) RedeemCard(ctx context.Context, req *RedeemGiftCardRequest, actorID uuid.UUID) (*GiftCard, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: redemption amount must be greater than zero", ErrInvalidAmount)
	}

	card, err := s.repo.GetCardByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	if result := ValidateCard(card, s.clock(), &req.Amount, nil); !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrCardNotActive, result.Reason)
	}

	balanceBefore := card.CurrentBalance
	updated, entry, err := s.repo.ApplyTransaction(ctx, card.ID, ApplyTransactionParams{
		Type:            TransactionTypeRedemption,
		Amount:          req.Amount.Neg(),
		AppointmentID:   req.AppointmentID,
		PerformedBy:     actorID,
		Notes:           req.Notes,
		AllowedStatuses: []CardStatus{CardStatusActive},
	})
	if err != nil {
		return nil, err
	}

	cardsRedeemedTotal.Inc()
	redeemedValueTotal.WithLabelValues(updated.Currency).Add(req.Amount.InexactFloat64())
	s.audit(ctx, SubjectRedeemed, AuditRecord{
		CardID:        updated.ID,
		Code:          updated.Code,
		Operation:     "redeem",
		ActorID:       actorID,
		Amount:        &entry.Amount,
		BalanceBefore: &balanceBefore,
		BalanceAfter:  &entry.BalanceAfter,
	})
	logger.WithContext(ctx).Info("gift card redeemed",
		zap.String("card_id", updated.ID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("balance", updated.CurrentBalance.String()),
	)

	return updated, nil
}

// RefundCard returns value onto a card. Refunding a fully spent card flips it
// back to active; expired cards keep their terminal status.
func (s *Service) RefundCard(ctx context.Context, cardID uuid.UUID, req *RefundGiftCardRequest, actorID uuid.UUID) (*GiftCard, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be greater than zero", ErrInvalidAmount)
	}

	card, err := s.repo.GetCardByID(ctx, cardID)
	if err != nil {
		return nil, err
	}

	balanceBefore := card.CurrentBalance
	updated, entry, err := s.repo.ApplyTransaction(ctx, cardID, ApplyTransactionParams{
		Type:            TransactionTypeRefund,
		Amount:          req.Amount,
		PerformedBy:     actorID,
		Notes:           req.Notes,
		AllowedStatuses: []CardStatus{CardStatusActive, CardStatusUsed, CardStatusExpired},
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, SubjectRefunded, AuditRecord{
		CardID:        updated.ID,
		Code:          updated.Code,
		Operation:     "refund",
		ActorID:       actorID,
		Amount:        &entry.Amount,
		BalanceBefore: &balanceBefore,
		BalanceAfter:  &entry.BalanceAfter,
	})

	return updated, nil
}

// AdjustBalance applies a signed manual correction. Adjustments may revive a
// fully spent card but never a cancelled or expired one.
func (s *Service) AdjustBalance(ctx context.Context, cardID uuid.UUID, req *AdjustBalanceRequest, actorID uuid.UUID) (*GiftCard, error) {
	if req.Amount.IsZero() {
		return nil, fmt.Errorf("%w: adjustment amount cannot be zero", ErrInvalidAmount)
	}

	card, err := s.repo.GetCardByID(ctx, cardID)
	if err != nil {
		return nil, err
	}

	balanceBefore := card.CurrentBalance
	updated, entry, err := s.repo.ApplyTransaction(ctx, cardID, ApplyTransactionParams{
		Type:            TransactionTypeAdjustment,
		Amount:          req.Amount,
		PerformedBy:     actorID,
		Notes:           req.Notes,
		AllowedStatuses: []CardStatus{CardStatusActive, CardStatusUsed},
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, SubjectAdjusted, AuditRecord{
		CardID:        updated.ID,
		Code:          updated.Code,
		Operation:     "adjust",
		ActorID:       actorID,
		Amount:        &entry.Amount,
		BalanceBefore: &balanceBefore,
		BalanceAfter:  &entry.BalanceAfter,
	})
	logger.WithContext(ctx).Info("gift card balance adjusted",
		zap.String("card_id", updated.ID.String()),
		zap.String("delta", req.Amount.String()),
		zap.String("balance", updated.CurrentBalance.String()),
	)

	return updated, nil
}

// CancelCard voids a card. Fully spent cards cannot be cancelled, and no
// ledger entry is written: the remaining balance stays on record.
func (s *Service) CancelCard(ctx context.Context, cardID uuid.UUID, reason string, actorID uuid.UUID) (*GiftCard, error) {
	card, err := s.repo.CancelCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, SubjectCancelled, AuditRecord{
		CardID:        card.ID,
		Code:          card.Code,
		Operation:     "cancel",
		ActorID:       actorID,
		BalanceBefore: &card.CurrentBalance,
		BalanceAfter:  &card.CurrentBalance,
		Reason:        reason,
	})
	logger.WithContext(ctx).Info("gift card cancelled",
		zap.String("card_id", card.ID.String()),
		zap.String("reason", reason),
	)

	return card, nil
}

// UpdateCard mutates presentational metadata; the card must still be active
func (s *Service) UpdateCard(ctx context.Context, cardID uuid.UUID, req *UpdateGiftCardRequest, actorID uuid.UUID) (*GiftCard, error) {
	card, err := s.repo.GetCardByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.Status != CardStatusActive {
		return nil, fmt.Errorf("%w: only active cards can be updated", ErrCardNotActive)
	}

	updated, err := s.repo.UpdateCardMetadata(ctx, cardID, *req)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, SubjectUpdated, AuditRecord{
		CardID:    updated.ID,
		Code:      updated.Code,
		Operation: "update",
		ActorID:   actorID,
	})

	return updated, nil
}

// ExpireOldCards transitions every active card past its validity window to
// expired and returns the number of cards affected
func (s *Service) ExpireOldCards(ctx context.Context) (int64, error) {
	count, err := s.repo.ExpireCards(ctx, s.clock())
	if err != nil {
		return 0, err
	}

	if count > 0 {
		cardsExpiredTotal.Add(float64(count))
		logger.Info("expired gift cards", zap.Int64("count", count))
	}

	return count, nil
}

// Stats returns the reporting aggregates
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.AggregateStats(ctx)
}

// audit publishes one audit record; delivery problems are logged, never
// bubbled into the business operation that already committed
func (s *Service) audit(ctx context.Context, subject string, record AuditRecord) {
	if err := s.bus.Publish(ctx, subject, record.Operation, record); err != nil {
		logger.WithContext(ctx).Warn("failed to publish audit record",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
