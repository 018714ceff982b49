package giftcards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const cardColumns = `id, code, status, initial_value::text, current_balance::text, currency,
	valid_from, valid_until,
	purchaser_id, purchaser_name, purchaser_email,
	recipient_id, recipient_name, recipient_email,
	message, template_id, allowed_service_ids, min_purchase_amount::text,
	sold_by, sold_at, notes, created_at, updated_at`

const transactionColumns = `id, card_id, type, amount::text, balance_after::text,
	appointment_id, performed_by, notes, created_at`

// Repository handles database access for gift cards and their ledger
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new gift card repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ApplyTransactionParams describes one atomic balance mutation
type ApplyTransactionParams struct {
	Type          TransactionType
	Amount        decimal.Decimal // Signed delta
	AppointmentID *uuid.UUID
	PerformedBy   uuid.UUID
	Notes         *string
	// AllowedStatuses guards the mutation: the locked row must be in one of
	// these states or the call fails without writing anything
	AllowedStatuses []CardStatus
}

func scanCard(scan func(dest ...interface{}) error) (*GiftCard, error) {
	var (
		card              GiftCard
		initialValue      string
		currentBalance    string
		minPurchaseAmount *string
	)

	err := scan(
		&card.ID, &card.Code, &card.Status, &initialValue, &currentBalance, &card.Currency,
		&card.ValidFrom, &card.ValidUntil,
		&card.PurchaserID, &card.PurchaserName, &card.PurchaserEmail,
		&card.RecipientID, &card.RecipientName, &card.RecipientEmail,
		&card.Message, &card.TemplateID, &card.AllowedServiceIDs, &minPurchaseAmount,
		&card.SoldBy, &card.SoldAt, &card.Notes, &card.CreatedAt, &card.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if card.InitialValue, err = decimal.NewFromString(initialValue); err != nil {
		return nil, fmt.Errorf("failed to parse initial value: %w", err)
	}
	if card.CurrentBalance, err = decimal.NewFromString(currentBalance); err != nil {
		return nil, fmt.Errorf("failed to parse current balance: %w", err)
	}
	if minPurchaseAmount != nil {
		min, err := decimal.NewFromString(*minPurchaseAmount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse min purchase amount: %w", err)
		}
		card.MinPurchaseAmount = &min
	}

	return &card, nil
}

func scanTransaction(scan func(dest ...interface{}) error) (*Transaction, error) {
	var (
		tx           Transaction
		amount       string
		balanceAfter string
	)

	err := scan(
		&tx.ID, &tx.CardID, &tx.Type, &amount, &balanceAfter,
		&tx.AppointmentID, &tx.PerformedBy, &tx.Notes, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse transaction amount: %w", err)
	}
	if tx.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
		return nil, fmt.Errorf("failed to parse balance after: %w", err)
	}

	return &tx, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// CreateCard inserts the card row and its opening purchase transaction as one
// atomic unit. A duplicate code is rejected by the unique index and surfaces
// as ErrDuplicateCode.
func (r *Repository) CreateCard(ctx context.Context, card *GiftCard, opening *Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO gift_cards (id, code, status, initial_value, current_balance, currency,
		                        valid_from, valid_until,
		                        purchaser_id, purchaser_name, purchaser_email,
		                        recipient_id, recipient_name, recipient_email,
		                        message, template_id, allowed_service_ids, min_purchase_amount,
		                        sold_by, sold_at, notes)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18::numeric, $19, $20, $21)
		RETURNING created_at, updated_at
	`,
		card.ID, card.Code, card.Status, card.InitialValue.String(), card.CurrentBalance.String(), card.Currency,
		card.ValidFrom, card.ValidUntil,
		card.PurchaserID, card.PurchaserName, card.PurchaserEmail,
		card.RecipientID, card.RecipientName, card.RecipientEmail,
		card.Message, card.TemplateID, card.AllowedServiceIDs, nullableDecimal(card.MinPurchaseAmount),
		card.SoldBy, card.SoldAt, card.Notes,
	).Scan(&card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to create gift card: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO gift_card_transactions (id, card_id, type, amount, balance_after,
		                                    appointment_id, performed_by, notes)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
		RETURNING created_at
	`,
		opening.ID, opening.CardID, opening.Type, opening.Amount.String(), opening.BalanceAfter.String(),
		opening.AppointmentID, opening.PerformedBy, opening.Notes,
	).Scan(&opening.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create opening transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCardByID retrieves a card by its identifier
func (r *Repository) GetCardByID(ctx context.Context, id uuid.UUID) (*GiftCard, error) {
	query := fmt.Sprintf(`SELECT %s FROM gift_cards WHERE id = $1`, cardColumns)

	card, err := scanCard(r.db.QueryRow(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get gift card: %w", err)
	}

	return card, nil
}

// GetCardByCode retrieves a card by its redemption code, case-insensitively
func (r *Repository) GetCardByCode(ctx context.Context, code string) (*GiftCard, error) {
	query := fmt.Sprintf(`SELECT %s FROM gift_cards WHERE UPPER(code) = $1`, cardColumns)

	card, err := scanCard(r.db.QueryRow(ctx, query, NormalizeCode(code)).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get gift card by code: %w", err)
	}

	return card, nil
}

// CodeExists reports whether a code is already taken
func (r *Repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM gift_cards WHERE UPPER(code) = $1)`,
		NormalizeCode(code),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code existence: %w", err)
	}
	return exists, nil
}

// ListCards returns a filtered, newest-first page of cards plus the total count
func (r *Repository) ListCards(ctx context.Context, filter ListFilter, limit, offset int) ([]GiftCard, int64, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	argIdx := 1

	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *filter.Status)
		argIdx++
	}
	if filter.RecipientID != nil {
		where = append(where, fmt.Sprintf("recipient_id = $%d", argIdx))
		args = append(args, *filter.RecipientID)
		argIdx++
	}
	if filter.PurchasedByID != nil {
		where = append(where, fmt.Sprintf("purchaser_id = $%d", argIdx))
		args = append(args, *filter.PurchasedByID)
		argIdx++
	}
	if filter.Code != "" {
		where = append(where, fmt.Sprintf("code LIKE '%%' || $%d || '%%'", argIdx))
		args = append(args, NormalizeCode(filter.Code))
		argIdx++
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM gift_cards WHERE %s`, whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count gift cards: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM gift_cards WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		cardColumns, whereClause, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list gift cards: %w", err)
	}
	defer rows.Close()

	cards := make([]GiftCard, 0)
	for rows.Next() {
		card, err := scanCard(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan gift card: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read gift cards: %w", err)
	}

	return cards, total, nil
}

// ApplyTransaction is the single atomic mutation primitive of the ledger.
// It locks the card row, re-checks status and balance under the lock, writes
// the new balance and derived status, and appends the ledger entry, all in
// one database transaction. Concurrent calls against the same card serialize
// on the row lock, so the balance can never be double-spent.
func (r *Repository) ApplyTransaction(ctx context.Context, cardID uuid.UUID, params ApplyTransactionParams) (*GiftCard, *Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`SELECT %s FROM gift_cards WHERE id = $1 FOR UPDATE`, cardColumns)
	card, err := scanCard(tx.QueryRow(ctx, query, cardID).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrCardNotFound
		}
		return nil, nil, fmt.Errorf("failed to lock gift card: %w", err)
	}

	if err := statusAllowed(card.Status, params.AllowedStatuses); err != nil {
		return nil, nil, err
	}

	newBalance := card.CurrentBalance.Add(params.Amount)
	if newBalance.IsNegative() {
		return nil, nil, ErrInsufficientBalance
	}

	// Cancelled and expired cards keep their terminal status; spendable cards
	// re-derive it from the post-mutation balance
	newStatus := card.Status
	if card.Status == CardStatusActive || card.Status == CardStatusUsed {
		newStatus = statusForBalance(newBalance)
	}

	err = tx.QueryRow(ctx, `
		UPDATE gift_cards
		SET current_balance = $1::numeric, status = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at
	`, newBalance.String(), newStatus, cardID).Scan(&card.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update gift card balance: %w", err)
	}

	entry := &Transaction{
		ID:            uuid.New(),
		CardID:        cardID,
		Type:          params.Type,
		Amount:        params.Amount,
		BalanceAfter:  newBalance,
		AppointmentID: params.AppointmentID,
		PerformedBy:   params.PerformedBy,
		Notes:         params.Notes,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO gift_card_transactions (id, card_id, type, amount, balance_after,
		                                    appointment_id, performed_by, notes)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
		RETURNING created_at
	`,
		entry.ID, entry.CardID, entry.Type, entry.Amount.String(), entry.BalanceAfter.String(),
		entry.AppointmentID, entry.PerformedBy, entry.Notes,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	card.CurrentBalance = newBalance
	card.Status = newStatus
	return card, entry, nil
}

func statusAllowed(status CardStatus, allowed []CardStatus) error {
	for _, s := range allowed {
		if status == s {
			return nil
		}
	}
	switch status {
	case CardStatusCancelled:
		return ErrCardCancelled
	case CardStatusExpired:
		return ErrCardExpired
	case CardStatusUsed:
		return ErrCardUsed
	default:
		return ErrStateConflict
	}
}

// CancelCard flips a card to cancelled without writing a ledger entry.
// The conditional update refuses fully spent and already cancelled cards;
// the caller re-reads to produce the precise error.
func (r *Repository) CancelCard(ctx context.Context, cardID uuid.UUID) (*GiftCard, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE gift_cards
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($3, $4)
	`, CardStatusCancelled, cardID, CardStatusUsed, CardStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel gift card: %w", err)
	}

	card, getErr := r.GetCardByID(ctx, cardID)
	if getErr != nil {
		return nil, getErr
	}

	if tag.RowsAffected() == 0 {
		switch card.Status {
		case CardStatusUsed:
			return nil, ErrCardUsed
		case CardStatusCancelled:
			return nil, ErrCardCancelled
		default:
			return nil, ErrStateConflict
		}
	}

	return card, nil
}

// UpdateCardMetadata mutates non-monetary fields only
func (r *Repository) UpdateCardMetadata(ctx context.Context, cardID uuid.UUID, updates UpdateGiftCardRequest) (*GiftCard, error) {
	query := fmt.Sprintf(`
		UPDATE gift_cards
		SET purchaser_name  = COALESCE($1, purchaser_name),
		    purchaser_email = COALESCE($2, purchaser_email),
		    recipient_name  = COALESCE($3, recipient_name),
		    recipient_email = COALESCE($4, recipient_email),
		    message         = COALESCE($5, message),
		    template_id     = COALESCE($6, template_id),
		    notes           = COALESCE($7, notes),
		    updated_at      = NOW()
		WHERE id = $8
		RETURNING %s
	`, cardColumns)

	card, err := scanCard(r.db.QueryRow(ctx, query,
		updates.PurchaserName, updates.PurchaserEmail,
		updates.RecipientName, updates.RecipientEmail,
		updates.Message, updates.TemplateID, updates.Notes,
		cardID,
	).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to update gift card: %w", err)
	}

	return card, nil
}

// ListTransactions returns a card's full ledger, newest-first
func (r *Repository) ListTransactions(ctx context.Context, cardID uuid.UUID) ([]Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM gift_card_transactions WHERE card_id = $1 ORDER BY created_at DESC, id DESC`,
		transactionColumns)

	rows, err := r.db.Query(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]Transaction, 0)
	for rows.Next() {
		entry, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}

	return transactions, nil
}

// ExpireCards flips every active card whose validity window has passed.
// The status guard in the WHERE clause makes the sweep safe against
// concurrent redemptions: a row being mutated is locked until that
// transaction commits, and the guard re-checks status afterwards.
func (r *Repository) ExpireCards(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE gift_cards
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND valid_until + interval '1 day' <= $3
	`, CardStatusExpired, CardStatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire gift cards: %w", err)
	}

	return tag.RowsAffected(), nil
}

// AggregateStats computes reporting totals straight from the ledger tables
func (r *Repository) AggregateStats(ctx context.Context) (*Stats, error) {
	var (
		stats            Stats
		totalValue       string
		usedValue        string
		outstandingValue string
	)

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $1 AND valid_from <= NOW() AND valid_until + interval '1 day' > NOW()),
		       COALESCE(SUM(initial_value), 0)::text,
		       COALESCE(SUM(initial_value - current_balance) FILTER (WHERE status IN ($1, $2)), 0)::text,
		       COALESCE(SUM(current_balance) FILTER (WHERE status = $1), 0)::text
		FROM gift_cards
	`, CardStatusActive, CardStatusUsed).Scan(
		&stats.TotalCards, &stats.ActiveCards, &totalValue, &usedValue, &outstandingValue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	if stats.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
		return nil, fmt.Errorf("failed to parse total value: %w", err)
	}
	if stats.UsedValue, err = decimal.NewFromString(usedValue); err != nil {
		return nil, fmt.Errorf("failed to parse used value: %w", err)
	}
	if stats.OutstandingValue, err = decimal.NewFromString(outstandingValue); err != nil {
		return nil, fmt.Errorf("failed to parse outstanding value: %w", err)
	}

	return &stats, nil
}
