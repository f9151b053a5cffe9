/**
 * @description
 * This file defines the core domain models for the payout-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Monetary amounts are stored as `float64` in major currency units (dollars),
 *   matching the hosted database schema. Conversion to minor units (cents)
 *   happens only at the payment-processor boundary.
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// User profile roles.
const (
	RoleCreator = "creator"
	RoleBrand   = "brand"
	RoleAgency  = "agency"
	RoleAdmin   = "admin"
)

// Campaign lifecycle statuses.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusLive      = "live"
	CampaignStatusCompleted = "completed"
	CampaignStatusCancelled = "cancelled"
)

// Campaign objectives.
const (
	ObjectiveImpressions = "impressions"
	ObjectiveConversions = "conversions"
	ObjectiveAffiliate   = "affiliate"
)

// Transaction types forming the implicit payout state machine:
// escrow_hold -> escrow_capture -> {creator_payout, affiliate_payout}, terminal.
const (
	TransactionTypeEscrowHold      = "escrow_hold"
	TransactionTypeEscrowCapture   = "escrow_capture"
	TransactionTypeCreatorPayout   = "creator_payout"
	TransactionTypeAffiliatePayout = "affiliate_payout"
)

// Campaign represents a brand's advertising initiative. Maps to the
// `campaigns` table.
type Campaign struct {
	ID                 uuid.UUID `json:"id"`
	BrandID            uuid.UUID `json:"brand_id"`
	Title              string    `json:"title"`
	Objective          string    `json:"objective"`
	TotalBudget        float64   `json:"total_budget"`
	MinPricePerCreator float64   `json:"min_price_per_creator"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// UserProfile is a party in the system. Only the fields the payout workflow
// reads are mapped; the `user_profiles` table carries many more.
type UserProfile struct {
	ID              uuid.UUID `json:"id"`
	Role            string    `json:"role"`
	DisplayName     *string   `json:"display_name,omitempty"`
	StripeAccountID *string   `json:"stripe_account_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasPayoutAccount reports whether the profile carries a usable external
// payout-account reference.
func (p *UserProfile) HasPayoutAccount() bool {
	return p != nil && p.StripeAccountID != nil && *p.StripeAccountID != ""
}

// AffiliateLink represents a brand-to-creator promotional URL. Maps to the
// `aff_links` table.
type AffiliateLink struct {
	ID            uuid.UUID `json:"id"`
	BrandID       uuid.UUID `json:"brand_id"`
	CreatorID     uuid.UUID `json:"creator_id"`
	OriginalURL   string    `json:"original_url"`
	LegitURL      string    `json:"legit_url"`
	Clicks        int64     `json:"clicks"`
	Sales         int64     `json:"sales"`
	PayoutPerSale float64   `json:"payout_per_sale"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transaction is an immutable ledger entry recording money movement. Maps to
// the `transactions` table. Rows are inserted and patched with transfer
// references, never deleted.
type Transaction struct {
	ID               uuid.UUID  `json:"id"`
	DealID           *uuid.UUID `json:"deal_id,omitempty"`
	AffLinkID        *uuid.UUID `json:"aff_link_id,omitempty"`
	Amount           float64    `json:"amount"`
	Currency         string     `json:"currency"`
	Type             string     `json:"type"`
	StripeChargeID   *string    `json:"stripe_charge_id,omitempty"`
	StripeTransferID *string    `json:"stripe_transfer_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Deal links a campaign match to a contract and escrow transaction chain.
// Read-only from this workflow's perspective.
type Deal struct {
	ID                    uuid.UUID `json:"id"`
	CampaignMatchID       uuid.UUID `json:"campaign_match_id"`
	Status                string    `json:"status"`
	StripePaymentIntentID *string   `json:"stripe_payment_intent_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// EscrowCreator is the creator resolved from an escrow_capture transaction
// through its deal -> campaign match -> creator profile chain.
type EscrowCreator struct {
	CreatorID       uuid.UUID `json:"creator_id"`
	DealID          uuid.UUID `json:"deal_id"`
	StripeAccountID *string   `json:"stripe_account_id,omitempty"`
}

// UnfundedAffiliatePayout is an affiliate_payout ledger entry that was
// recorded without a transfer reference because the creator had no payout
// account at the time of the sale.
type UnfundedAffiliatePayout struct {
	Transaction     Transaction `json:"transaction"`
	AffLinkID       uuid.UUID   `json:"aff_link_id"`
	CreatorID       uuid.UUID   `json:"creator_id"`
	StripeAccountID *string     `json:"stripe_account_id,omitempty"`
}

// ValidateCampaignBudgetRequest is the DTO for budget validation requests.
type ValidateCampaignBudgetRequest struct {
	CampaignID string `json:"campaign_id"`
}

// BudgetValidationResult is returned to the caller regardless of validity;
// a too-low budget is reported, not failed.
type BudgetValidationResult struct {
	IsValid           bool    `json:"is_valid"`
	Message           string  `json:"message"`
	RecommendedBudget float64 `json:"recommended_budget"`
}

// CreateAffiliateLinkRequest is the DTO for issuing a new tracking link.
// PayoutPerSale is a pointer so that an absent field can be distinguished
// from an explicit zero during validation.
type CreateAffiliateLinkRequest struct {
	BrandID       string   `json:"brand_id"`
	CreatorID     string   `json:"creator_id"`
	OriginalURL   string   `json:"original_url"`
	PayoutPerSale *float64 `json:"payout_per_sale"`
}

// RecordAffiliateSaleRequest is the DTO for the affiliate sale webhook.
type RecordAffiliateSaleRequest struct {
	LegitURL   string   `json:"legit_url"`
	SaleAmount *float64 `json:"sale_amount"`
}

// AffiliateSaleResult reports a recorded sale. TransferID is nil when the
// creator has no payout account and the payout was left unfunded.
type AffiliateSaleResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	TransferID    *string   `json:"transfer_id,omitempty"`
}

// TransferToCreatorRequest is the DTO for moving escrowed funds to a creator.
type TransferToCreatorRequest struct {
	TransactionID string `json:"transaction_id"`
}

// EscrowTransferResult reports a completed escrow payout transfer.
type EscrowTransferResult struct {
	TransferID          string    `json:"transfer_id"`
	PayoutTransactionID uuid.UUID `json:"payout_transaction_id"`
	Amount              float64   `json:"amount"`
}
