/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payout-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/legitreach/payout-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Campaign methods
	FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, campaignID uuid.UUID, status string) error

	// Profile methods
	FindProfileByID(ctx context.Context, profileID uuid.UUID) (*domain.UserProfile, error)

	// Affiliate link methods
	CreateAffiliateLink(ctx context.Context, link *domain.AffiliateLink) error
	FindAffiliateLinkByTrackingURL(ctx context.Context, legitURL string) (*domain.AffiliateLink, error)
	// IncrementAffiliateClicks bumps the click counter in SQL and returns the
	// destination URL so the caller can redirect.
	IncrementAffiliateClicks(ctx context.Context, legitURL string) (string, error)
	// RecordAffiliateSale increments the link's sale counter and inserts the
	// payout transaction within a single database transaction.
	RecordAffiliateSale(ctx context.Context, linkID uuid.UUID, tx *domain.Transaction) error

	// Transaction (ledger) methods
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	// AttachTransferReference sets the transfer reference only when none is
	// present. It reports whether this call claimed the row; false means a
	// concurrent invocation won the race.
	AttachTransferReference(ctx context.Context, transactionID uuid.UUID, transferID string) (bool, error)
	// FindEscrowCreator resolves the creator owed by an escrow_capture
	// transaction through its deal -> campaign match -> profile chain.
	FindEscrowCreator(ctx context.Context, transactionID uuid.UUID) (*domain.EscrowCreator, error)
	FindUnfundedAffiliatePayouts(ctx context.Context, limit int) ([]domain.UnfundedAffiliatePayout, error)
}
