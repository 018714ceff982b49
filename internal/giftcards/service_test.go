package giftcards

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockRepository implements RepositoryInterface for testing
type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) CreateCard(ctx context.Context, card *GiftCard, opening *Transaction) error {
	args := m.Called(ctx, card, opening)
	return args.Error(0)
}

func (m *mockRepository) GetCardByID(ctx context.Context, id uuid.UUID) (*GiftCard, error) {
	args := m.Called(ctx, id)
	card, _ := args.Get(0).(*GiftCard)
	return card, args.Error(1)
}

func (m *mockRepository) GetCardByCode(ctx context.Context, code string) (*GiftCard, error) {
	args := m.Called(ctx, code)
	card, _ := args.Get(0).(*GiftCard)
	return card, args.Error(1)
}

func (m *mockRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) ListCards(ctx context.Context, filter ListFilter, limit, offset int) ([]GiftCard, int64, error) {
	args := m.Called(ctx, filter, limit, offset)
	cards, _ := args.Get(0).([]GiftCard)
	return cards, args.Get(1).(int64), args.Error(2)
}

func (m *mockRepository) UpdateCardMetadata(ctx context.Context, cardID uuid.UUID, updates UpdateGiftCardRequest) (*GiftCard, error) {
	args := m.Called(ctx, cardID, updates)
	card, _ := args.Get(0).(*GiftCard)
	return card, args.Error(1)
}

func (m *mockRepository) CancelCard(ctx context.Context, cardID uuid.UUID) (*GiftCard, error) {
	args := m.Called(ctx, cardID)
	card, _ := args.Get(0).(*GiftCard)
	return card, args.Error(1)
}

func (m *mockRepository) ApplyTransaction(ctx context.Context, cardID uuid.UUID, params ApplyTransactionParams) (*GiftCard, *Transaction, error) {
	args := m.Called(ctx, cardID, params)
	card, _ := args.Get(0).(*GiftCard)
	entry, _ := args.Get(1).(*Transaction)
	return card, entry, args.Error(2)
}

func (m *mockRepository) ListTransactions(ctx context.Context, cardID uuid.UUID) ([]Transaction, error) {
	args := m.Called(ctx, cardID)
	txns, _ := args.Get(0).([]Transaction)
	return txns, args.Error(1)
}

func (m *mockRepository) ExpireCards(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepository) AggregateStats(ctx context.Context) (*Stats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*Stats)
	return stats, args.Error(1)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testNow = time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)

func activeCard(balance string) *GiftCard {
	value := dec("100")
	return &GiftCard{
		ID:             uuid.New(),
		Code:           "ABCD-EFGH-JKLM",
		Status:         CardStatusActive,
		InitialValue:   value,
		CurrentBalance: dec(balance),
		Currency:       "USD",
		ValidFrom:      testNow.AddDate(0, -1, 0),
		ValidUntil:     testNow.AddDate(1, 0, 0),
		SoldBy:         uuid.New(),
		SoldAt:         testNow.AddDate(0, -1, 0),
	}
}

// ============================================================
// IssueCard
// ============================================================

func TestIssueCard(t *testing.T) {
	ctx := context.Background()
	actorID := uuid.New()

	t.Run("creates active card with opening purchase entry", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		repo.On("CodeExists", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
		repo.On("CreateCard", ctx,
			mock.MatchedBy(func(card *GiftCard) bool {
				return card.Status == CardStatusActive &&
					card.InitialValue.Equal(dec("150")) &&
					card.CurrentBalance.Equal(dec("150")) &&
					card.Currency == "USD" &&
					card.SoldBy == actorID
			}),
			mock.MatchedBy(func(opening *Transaction) bool {
				return opening.Type == TransactionTypePurchase &&
					opening.Amount.Equal(dec("150")) &&
					opening.BalanceAfter.Equal(dec("150")) &&
					opening.PerformedBy == actorID
			}),
		).Return(nil).Once()

		card, err := service.IssueCard(ctx, &IssueGiftCardRequest{InitialValue: dec("150")}, actorID)

		require.NoError(t, err)
		require.NotNil(t, card)
		assert.Regexp(t, `^[2-9A-HJ-NP-Z]{4}-[2-9A-HJ-NP-Z]{4}-[2-9A-HJ-NP-Z]{4}$`, card.Code)
		// Default validity is one year, inclusive of the final day
		assert.Equal(t, time.Date(2027, time.March, 15, 0, 0, 0, 0, time.UTC), card.ValidUntil)
		assert.Equal(t, time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), card.ValidFrom)
		repo.AssertExpectations(t)
	})

	t.Run("rejects non-positive value", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		for _, amount := range []string{"0", "-25"} {
			card, err := service.IssueCard(ctx, &IssueGiftCardRequest{InitialValue: dec(amount)}, actorID)
			assert.ErrorIs(t, err, ErrInvalidAmount)
			assert.Nil(t, card)
		}
		repo.AssertNotCalled(t, "CreateCard")
	})

	t.Run("rejects valid_until before valid_from", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		from := testNow
		until := testNow.AddDate(0, 0, -10)
		card, err := service.IssueCard(ctx, &IssueGiftCardRequest{
			InitialValue: dec("50"),
			ValidFrom:    &from,
			ValidUntil:   &until,
		}, actorID)

		assert.ErrorIs(t, err, ErrInvalidDateRange)
		assert.Nil(t, card)
	})

	t.Run("retries with a fresh code when the unique index rejects", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		repo.On("CodeExists", ctx, mock.AnythingOfType("string")).Return(false, nil).Twice()
		repo.On("CreateCard", ctx, mock.Anything, mock.Anything).Return(ErrDuplicateCode).Once()
		repo.On("CreateCard", ctx, mock.Anything, mock.Anything).Return(nil).Once()

		card, err := service.IssueCard(ctx, &IssueGiftCardRequest{InitialValue: dec("25")}, actorID)

		require.NoError(t, err)
		require.NotNil(t, card)
		repo.AssertExpectations(t)
	})
}

// ============================================================
// RedeemCard - the redemption chain 100 -> 60 -> 40 -> 0
// ============================================================

func TestRedeemCard_PartialChain(t *testing.T) {
	ctx := context.Background()
	actorID := uuid.New()

	steps := []struct {
		name         string
		balance      string
		amount       string
		balanceAfter string
		finalStatus  CardStatus
	}{
		{"first partial redemption", "100", "40", "60", CardStatusActive},
		{"second partial redemption", "60", "20", "40", CardStatusActive},
		{"final redemption drains the card", "40", "40", "0", CardStatusUsed},
	}

	for _, tt := range steps {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepository)
			service := NewService(repo, nil, WithClock(fixedClock(testNow)))

			card := activeCard(tt.balance)
			updated := *card
			updated.CurrentBalance = dec(tt.balanceAfter)
			updated.Status = tt.finalStatus
			entry := &Transaction{
				ID:           uuid.New(),
				CardID:       card.ID,
				Type:         TransactionTypeRedemption,
				Amount:       dec(tt.amount).Neg(),
				BalanceAfter: dec(tt.balanceAfter),
				PerformedBy:  actorID,
			}

			repo.On("GetCardByCode", ctx, card.Code).Return(card, nil).Once()
			repo.On("ApplyTransaction", ctx, card.ID, mock.MatchedBy(func(p ApplyTransactionParams) bool {
				return p.Type == TransactionTypeRedemption &&
					p.Amount.Equal(dec(tt.amount).Neg()) &&
					len(p.AllowedStatuses) == 1 &&
					p.AllowedStatuses[0] == CardStatusActive
			})).Return(&updated, entry, nil).Once()

			result, err := service.RedeemCard(ctx, &RedeemGiftCardRequest{
				Code:   card.Code,
				Amount: dec(tt.amount),
			}, actorID)

			require.NoError(t, err)
			assert.True(t, result.CurrentBalance.Equal(dec(tt.balanceAfter)))
			assert.Equal(t, tt.finalStatus, result.Status)
			repo.AssertExpectations(t)
		})
	}
}

func TestRedeemCard_Rejections(t *testing.T) {
	ctx := context.Background()
	actorID := uuid.New()

	t.Run("insufficient balance is rejected before the ledger is touched", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("30")
		repo.On("GetCardByCode", ctx, card.Code).Return(card, nil).Once()

		result, err := service.RedeemCard(ctx, &RedeemGiftCardRequest{Code: card.Code, Amount: dec("30.01")}, actorID)

		assert.ErrorIs(t, err, ErrCardNotActive)
		assert.Contains(t, err.Error(), "insufficient funds")
		assert.Nil(t, result)
		repo.AssertNotCalled(t, "ApplyTransaction")
	})

	t.Run("expired card cannot be redeemed", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("100")
		card.ValidUntil = testNow.AddDate(0, 0, -2)
		repo.On("GetCardByCode", ctx, card.Code).Return(card, nil).Once()

		_, err := service.RedeemCard(ctx, &RedeemGiftCardRequest{Code: card.Code, Amount: dec("10")}, actorID)

		assert.ErrorIs(t, err, ErrCardNotActive)
		assert.Contains(t, err.Error(), "expired")
		repo.AssertNotCalled(t, "ApplyTransaction")
	})

	t.Run("cancelled card cannot be redeemed", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("100")
		card.Status = CardStatusCancelled
		repo.On("GetCardByCode", ctx, card.Code).Return(card, nil).Once()

		_, err := service.RedeemCard(ctx, &RedeemGiftCardRequest{Code: card.Code, Amount: dec("10")}, actorID)

		assert.ErrorIs(t, err, ErrCardNotActive)
		repo.AssertNotCalled(t, "ApplyTransaction")
	})

	t.Run("zero and negative amounts are rejected", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		for _, amount := range []string{"0", "-5"} {
			_, err := service.RedeemCard(ctx, &RedeemGiftCardRequest{Code: "ABCD-EFGH-JKLM", Amount: dec(amount)}, actorID)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		}
		repo.AssertNotCalled(t, "GetCardByCode")
	})

	t.Run("unknown code surfaces not found", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		repo.On("GetCardByCode", ctx, "ZZZZ-ZZZZ-ZZZZ").Return(nil, ErrCardNotFound).Once()

		_, err := service.RedeemCard(ctx, &RedeemGiftCardRequest{Code: "ZZZZ-ZZZZ-ZZZZ", Amount: dec("10")}, actorID)
		assert.ErrorIs(t, err, ErrCardNotFound)
	})

	t.Run("concurrent drain surfaces the row-level outcome", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		// The snapshot read sees balance 40, but a concurrent redemption wins
		// the row lock first and the guarded write reports the shortfall.
		card := activeCard("40")
		repo.On("GetCardByCode", ctx, card.Code).Return(card, nil).Once()
		repo.On("ApplyTransaction", ctx, card.ID, mock.Anything).Return(nil, nil, ErrInsufficientBalance).Once()

		_, err := service.RedeemCard(ctx, &RedeemGiftCardRequest{Code: card.Code, Amount: dec("40")}, actorID)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})
}

// ============================================================
// RefundCard
// ============================================================

func TestRefundCard(t *testing.T) {
	ctx := context.Background()
	actorID := uuid.New()

	t.Run("refund allows used and expired cards", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("0")
		card.Status = CardStatusUsed
		updated := *card
		updated.CurrentBalance = dec("15")
		updated.Status = CardStatusActive
		entry := &Transaction{Type: TransactionTypeRefund, Amount: dec("15"), BalanceAfter: dec("15")}

		repo.On("GetCardByID", ctx, card.ID).Return(card, nil).Once()
		repo.On("ApplyTransaction", ctx, card.ID, mock.MatchedBy(func(p ApplyTransactionParams) bool {
			return p.Type == TransactionTypeRefund &&
				p.Amount.Equal(dec("15")) &&
				len(p.AllowedStatuses) == 3
		})).Return(&updated, entry, nil).Once()

		result, err := service.RefundCard(ctx, card.ID, &RefundGiftCardRequest{Amount: dec("15")}, actorID)

		require.NoError(t, err)
		assert.Equal(t, CardStatusActive, result.Status)
		assert.True(t, result.CurrentBalance.Equal(dec("15")))
		repo.AssertExpectations(t)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		_, err := service.RefundCard(ctx, uuid.New(), &RefundGiftCardRequest{Amount: dec("0")}, actorID)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		repo.AssertNotCalled(t, "ApplyTransaction")
	})
}

// ============================================================
// AdjustBalance
// ============================================================

func TestAdjustBalance(t *testing.T) {
	ctx := context.Background()
	actorID := uuid.New()

	t.Run("positive adjustment revives a fully spent card", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("0")
		card.Status = CardStatusUsed
		updated := *card
		updated.CurrentBalance = dec("10")
		updated.Status = CardStatusActive
		entry := &Transaction{Type: TransactionTypeAdjustment, Amount: dec("10"), BalanceAfter: dec("10")}

		repo.On("GetCardByID", ctx, card.ID).Return(card, nil).Once()
		repo.On("ApplyTransaction", ctx, card.ID, mock.MatchedBy(func(p ApplyTransactionParams) bool {
			return p.Type == TransactionTypeAdjustment && len(p.AllowedStatuses) == 2
		})).Return(&updated, entry, nil).Once()

		result, err := service.AdjustBalance(ctx, card.ID, &AdjustBalanceRequest{Amount: dec("10")}, actorID)

		require.NoError(t, err)
		assert.Equal(t, CardStatusActive, result.Status)
		repo.AssertExpectations(t)
	})

	t.Run("negative adjustment below zero is rejected by the store", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("5")
		repo.On("GetCardByID", ctx, card.ID).Return(card, nil).Once()
		repo.On("ApplyTransaction", ctx, card.ID, mock.Anything).Return(nil, nil, ErrInsufficientBalance).Once()

		_, err := service.AdjustBalance(ctx, card.ID, &AdjustBalanceRequest{Amount: dec("-10")}, actorID)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("zero adjustment is rejected", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		_, err := service.AdjustBalance(ctx, uuid.New(), &AdjustBalanceRequest{Amount: dec("0")}, actorID)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("cancelled card stays dead", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("50")
		card.Status = CardStatusCancelled
		repo.On("GetCardByID", ctx, card.ID).Return(card, nil).Once()
		repo.On("ApplyTransaction", ctx, card.ID, mock.Anything).Return(nil, nil, ErrCardCancelled).Once()

		_, err := service.AdjustBalance(ctx, card.ID, &AdjustBalanceRequest{Amount: dec("10")}, actorID)
		assert.ErrorIs(t, err, ErrCardCancelled)
	})
}

// ============================================================
// CancelCard
// ============================================================

func TestCancelCard(t *testing.T) {
	ctx := context.Background()
	actorID := uuid.New()

	t.Run("cancel preserves the remaining balance", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		cancelled := activeCard("35")
		cancelled.Status = CardStatusCancelled
		repo.On("CancelCard", ctx, cancelled.ID).Return(cancelled, nil).Once()

		result, err := service.CancelCard(ctx, cancelled.ID, "customer refund via POS", actorID)

		require.NoError(t, err)
		assert.Equal(t, CardStatusCancelled, result.Status)
		assert.True(t, result.CurrentBalance.Equal(dec("35")))
		repo.AssertExpectations(t)
	})

	t.Run("cancel of a spent card conflicts", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		id := uuid.New()
		repo.On("CancelCard", ctx, id).Return(nil, ErrStateConflict).Once()

		_, err := service.CancelCard(ctx, id, "mistake", actorID)
		assert.ErrorIs(t, err, ErrStateConflict)
	})
}

// ============================================================
// ValidateCode
// ============================================================

func TestValidateCode(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed code never hits the store", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		result, err := service.ValidateCode(ctx, "not a real code", nil, nil)

		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ReasonNotFound, result.Reason)
		repo.AssertNotCalled(t, "GetCardByCode")
	})

	t.Run("unknown code is a typed result, not an error", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		repo.On("GetCardByCode", ctx, "ZZZZ-ZZZZ-ZZZZ").Return(nil, ErrCardNotFound).Once()

		result, err := service.ValidateCode(ctx, "ZZZZ-ZZZZ-ZZZZ", nil, nil)

		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ReasonNotFound, result.Reason)
		assert.Nil(t, result.Snapshot)
	})

	t.Run("valid card returns a snapshot without purchaser details", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("80")
		name := "Dana Willis"
		card.PurchaserName = &name
		repo.On("GetCardByCode", ctx, card.Code).Return(card, nil).Once()

		amount := dec("50")
		result, err := service.ValidateCode(ctx, card.Code, &amount, nil)

		require.NoError(t, err)
		assert.True(t, result.Valid)
		require.NotNil(t, result.Snapshot)
		assert.Equal(t, card.Code, result.Snapshot.Code)
		assert.True(t, result.Snapshot.CurrentBalance.Equal(dec("80")))
	})

	t.Run("storage failures still error", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		repo.On("GetCardByCode", ctx, "ABCD-EFGH-JKLM").Return(nil, errors.New("connection reset")).Once()

		result, err := service.ValidateCode(ctx, "ABCD-EFGH-JKLM", nil, nil)
		assert.Error(t, err)
		assert.Nil(t, result)
	})
}

// ============================================================
// ExpireOldCards
// ============================================================

func TestExpireOldCards(t *testing.T) {
	ctx := context.Background()

	repo := new(mockRepository)
	service := NewService(repo, nil, WithClock(fixedClock(testNow)))

	repo.On("ExpireCards", ctx, testNow).Return(int64(7), nil).Once()

	count, err := service.ExpireOldCards(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	repo.AssertExpectations(t)
}

// ============================================================
// UpdateCard
// ============================================================

func TestUpdateCard(t *testing.T) {
	ctx := context.Background()
	actorID := uuid.New()

	t.Run("only active cards accept metadata edits", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("0")
		card.Status = CardStatusUsed
		repo.On("GetCardByID", ctx, card.ID).Return(card, nil).Once()

		_, err := service.UpdateCard(ctx, card.ID, &UpdateGiftCardRequest{}, actorID)
		assert.ErrorIs(t, err, ErrCardNotActive)
		repo.AssertNotCalled(t, "UpdateCardMetadata")
	})

	t.Run("active card passes through to the store", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, nil, WithClock(fixedClock(testNow)))

		card := activeCard("80")
		note := "rebooked to April"
		updated := *card
		updated.Message = &note

		repo.On("GetCardByID", ctx, card.ID).Return(card, nil).Once()
		repo.On("UpdateCardMetadata", ctx, card.ID, mock.Anything).Return(&updated, nil).Once()

		result, err := service.UpdateCard(ctx, card.ID, &UpdateGiftCardRequest{Message: &note}, actorID)
		require.NoError(t, err)
		assert.Equal(t, &note, result.Message)
	})
}
