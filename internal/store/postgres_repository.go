/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to campaigns, user profiles, affiliate links, deals, and the
 * transactions ledger.
 *
 * @notes
 * - Counters (clicks, sales) are incremented in SQL rather than read-modify-write
 *   in application code, so concurrent webhook invocations cannot lose updates.
 * - Transfer references are attached with a conditional UPDATE so that only one
 *   invocation can ever claim a ledger row for an external transfer.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/legitreach/payout-service/internal/domain"
)

var (
	ErrCampaignNotFound      = errors.New("campaign not found")
	ErrProfileNotFound       = errors.New("user profile not found")
	ErrAffiliateLinkNotFound = errors.New("affiliate link not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrEscrowCreatorNotFound = errors.New("no creator associated with escrow transaction")
	ErrDuplicateTrackingURL  = errors.New("tracking url already exists")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindCampaignByID retrieves a campaign by its ID.
func (r *PostgresRepository) FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	var c domain.Campaign
	query := `
		SELECT id, brand_id, title, objective, total_budget, min_price_per_creator, status, created_at
		FROM campaigns
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, campaignID).Scan(
		&c.ID,
		&c.BrandID,
		&c.Title,
		&c.Objective,
		&c.TotalBudget,
		&c.MinPricePerCreator,
		&c.Status,
		&c.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpdateCampaignStatus sets a campaign's lifecycle status.
func (r *PostgresRepository) UpdateCampaignStatus(ctx context.Context, campaignID uuid.UUID, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE campaigns SET status = $2 WHERE id = $1`, campaignID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// FindProfileByID retrieves a user profile by its ID.
func (r *PostgresRepository) FindProfileByID(ctx context.Context, profileID uuid.UUID) (*domain.UserProfile, error) {
	var p domain.UserProfile
	query := `
		SELECT id, role, display_name, stripe_account_id, created_at
		FROM user_profiles
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, profileID).Scan(
		&p.ID,
		&p.Role,
		&p.DisplayName,
		&p.StripeAccountID,
		&p.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateAffiliateLink inserts a new tracking link row. A unique-constraint
// violation on legit_url surfaces as ErrDuplicateTrackingURL so the caller
// can re-mint the short code.
func (r *PostgresRepository) CreateAffiliateLink(ctx context.Context, link *domain.AffiliateLink) error {
	query := `
		INSERT INTO aff_links (id, brand_id, creator_id, original_url, legit_url, clicks, sales, payout_per_sale)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		link.ID,
		link.BrandID,
		link.CreatorID,
		link.OriginalURL,
		link.LegitURL,
		link.Clicks,
		link.Sales,
		link.PayoutPerSale,
	).Scan(&link.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateTrackingURL
		}
		return err
	}
	return nil
}

// FindAffiliateLinkByTrackingURL retrieves a tracking link by its generated short URL.
func (r *PostgresRepository) FindAffiliateLinkByTrackingURL(ctx context.Context, legitURL string) (*domain.AffiliateLink, error) {
	var l domain.AffiliateLink
	query := `
		SELECT id, brand_id, creator_id, original_url, legit_url, clicks, sales, payout_per_sale, created_at
		FROM aff_links
		WHERE legit_url = $1
	`
	err := r.db.QueryRow(ctx, query, legitURL).Scan(
		&l.ID,
		&l.BrandID,
		&l.CreatorID,
		&l.OriginalURL,
		&l.LegitURL,
		&l.Clicks,
		&l.Sales,
		&l.PayoutPerSale,
		&l.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAffiliateLinkNotFound
		}
		return nil, err
	}
	return &l, nil
}

// IncrementAffiliateClicks atomically bumps the click counter and returns the
// destination URL.
func (r *PostgresRepository) IncrementAffiliateClicks(ctx context.Context, legitURL string) (string, error) {
	var originalURL string
	query := `
		UPDATE aff_links
		SET clicks = clicks + 1
		WHERE legit_url = $1
		RETURNING original_url
	`
	err := r.db.QueryRow(ctx, query, legitURL).Scan(&originalURL)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrAffiliateLinkNotFound
		}
		return "", err
	}
	return originalURL, nil
}

// RecordAffiliateSale increments the sale counter and inserts the payout
// transaction in one database transaction, so a webhook retry after a partial
// failure cannot leave the counter and the ledger out of step.
func (r *PostgresRepository) RecordAffiliateSale(ctx context.Context, linkID uuid.UUID, tx *domain.Transaction) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin sale transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	tag, err := dbTx.Exec(ctx, `UPDATE aff_links SET sales = sales + 1 WHERE id = $1`, linkID)
	if err != nil {
		return fmt.Errorf("failed to increment sales: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAffiliateLinkNotFound
	}

	query := `
		INSERT INTO transactions (id, deal_id, aff_link_id, amount, currency, type, stripe_charge_id, stripe_transfer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err = dbTx.QueryRow(ctx, query,
		tx.ID,
		tx.DealID,
		tx.AffLinkID,
		tx.Amount,
		tx.Currency,
		tx.Type,
		tx.StripeChargeID,
		tx.StripeTransferID,
	).Scan(&tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payout transaction: %w", err)
	}

	return dbTx.Commit(ctx)
}

// FindTransactionByID retrieves a ledger entry by its ID.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	var t domain.Transaction
	query := `
		SELECT id, deal_id, aff_link_id, amount, currency, type, stripe_charge_id, stripe_transfer_id, created_at
		FROM transactions
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, transactionID).Scan(
		&t.ID,
		&t.DealID,
		&t.AffLinkID,
		&t.Amount,
		&t.Currency,
		&t.Type,
		&t.StripeChargeID,
		&t.StripeTransferID,
		&t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateTransaction inserts a new ledger entry.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, deal_id, aff_link_id, amount, currency, type, stripe_charge_id, stripe_transfer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		tx.ID,
		tx.DealID,
		tx.AffLinkID,
		tx.Amount,
		tx.Currency,
		tx.Type,
		tx.StripeChargeID,
		tx.StripeTransferID,
	).Scan(&tx.CreatedAt)
}

// AttachTransferReference claims a ledger row for an external transfer.
// The WHERE clause guarantees a row already carrying a reference is never
// overwritten, which is what prevents a double payout under concurrency.
func (r *PostgresRepository) AttachTransferReference(ctx context.Context, transactionID uuid.UUID, transferID string) (bool, error) {
	query := `
		UPDATE transactions
		SET stripe_transfer_id = $2
		WHERE id = $1 AND stripe_transfer_id IS NULL
	`
	tag, err := r.db.Exec(ctx, query, transactionID, transferID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FindEscrowCreator resolves the creator owed by an escrow transaction by
// walking transactions -> deals -> campaign_matches -> user_profiles.
func (r *PostgresRepository) FindEscrowCreator(ctx context.Context, transactionID uuid.UUID) (*domain.EscrowCreator, error) {
	var ec domain.EscrowCreator
	query := `
		SELECT cm.creator_id, d.id, p.stripe_account_id
		FROM transactions t
		JOIN deals d ON d.id = t.deal_id
		JOIN campaign_matches cm ON cm.id = d.campaign_match_id
		JOIN user_profiles p ON p.id = cm.creator_id
		WHERE t.id = $1
	`
	err := r.db.QueryRow(ctx, query, transactionID).Scan(&ec.CreatorID, &ec.DealID, &ec.StripeAccountID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEscrowCreatorNotFound
		}
		return nil, err
	}
	return &ec, nil
}

// FindUnfundedAffiliatePayouts lists affiliate_payout ledger entries with no
// transfer reference, joined with the creator's current payout account so the
// reconciler can retry the ones that have since become fundable.
func (r *PostgresRepository) FindUnfundedAffiliatePayouts(ctx context.Context, limit int) ([]domain.UnfundedAffiliatePayout, error) {
	query := `
		SELECT t.id, t.deal_id, t.aff_link_id, t.amount, t.currency, t.type, t.stripe_charge_id, t.stripe_transfer_id, t.created_at,
		       l.id, l.creator_id, p.stripe_account_id
		FROM transactions t
		JOIN aff_links l ON l.id = t.aff_link_id
		JOIN user_profiles p ON p.id = l.creator_id
		WHERE t.type = $1 AND t.stripe_transfer_id IS NULL
		ORDER BY t.created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, domain.TransactionTypeAffiliatePayout, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.UnfundedAffiliatePayout
	for rows.Next() {
		var up domain.UnfundedAffiliatePayout
		err := rows.Scan(
			&up.Transaction.ID,
			&up.Transaction.DealID,
			&up.Transaction.AffLinkID,
			&up.Transaction.Amount,
			&up.Transaction.Currency,
			&up.Transaction.Type,
			&up.Transaction.StripeChargeID,
			&up.Transaction.StripeTransferID,
			&up.Transaction.CreatedAt,
			&up.AffLinkID,
			&up.CreatorID,
			&up.StripeAccountID,
		)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, up)
	}
	return payouts, rows.Err()
}
