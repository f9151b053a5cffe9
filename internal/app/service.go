/**
 * @description
 * This file contains the core business logic for the payout-service. The `Service`
 * struct orchestrates the money-movement workflow, coordinating between the database
 * repository, the Stripe API client, and the message broker.
 *
 * Key features:
 * - Implements the four workflow operations: campaign budget validation, affiliate
 *   link issuance, affiliate sale recording, and escrow-to-creator transfers.
 * - Ensures ledger integrity by creating and conditionally patching records in the
 *   `transactions` table; every external transfer is idempotency-keyed by the
 *   ledger transaction id so a retried request cannot move funds twice.
 * - Publishes payout lifecycle events to RabbitMQ for asynchronous observation.
 *
 * @dependencies
 * - context, errors, fmt, log, math, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/stripeclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/legitreach/payout-service/internal/domain"
	"github.com/legitreach/payout-service/internal/store"
	"github.com/legitreach/payout-service/pkg/rabbitmq"
	"github.com/legitreach/payout-service/pkg/stripeclient"
)

const (
	// MinimumCampaignBudget is the floor, in major currency units, below which
	// a campaign cannot go live.
	MinimumCampaignBudget = 300

	// shortCodeAttempts bounds how many times link issuance re-mints a code
	// after a uniqueness collision.
	shortCodeAttempts = 5
)

var (
	ErrInvalidBrandReference   = errors.New("brand_id does not resolve to a brand profile")
	ErrInvalidCreatorReference = errors.New("creator_id does not resolve to a creator profile")
	ErrInvalidPayoutPerSale    = errors.New("payout_per_sale must be a positive number")
	ErrNotEscrowCapture        = errors.New("transaction is not an escrow capture")
	ErrAlreadyTransferred      = errors.New("transaction already has a transfer reference")
	ErrMissingPayoutAccount    = errors.New("creator has no payout account")
	ErrRateLimited             = errors.New("sale recording rate limit exceeded")
	ErrShortCodeExhausted      = errors.New("could not mint a unique tracking code")
)

// PaymentClient is the subset of the Stripe client the service depends on.
type PaymentClient interface {
	CreateTransfer(ctx context.Context, params stripeclient.TransferParams) (*stripeclient.Transfer, error)
}

// RateLimiter consumes one unit of a fixed-window rate limit and reports the
// resulting count plus a retry-after hint in seconds.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error)
}

// Service provides the core business logic for the payout workflow.
type Service struct {
	repo               store.Repository
	payments           PaymentClient
	events             rabbitmq.Publisher
	trackingBaseURL    string
	payoutCurrency     string
	platformFeePercent float64

	rateLimiter         RateLimiter
	saleRateLimitPerMin int
}

// NewService creates a new payout service instance.
func NewService(
	repo store.Repository,
	payments PaymentClient,
	events rabbitmq.Publisher,
	trackingBaseURL string,
	payoutCurrency string,
	platformFeePercent float64,
) *Service {
	if events == nil {
		events = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:               repo,
		payments:           payments,
		events:             events,
		trackingBaseURL:    strings.TrimRight(trackingBaseURL, "/"),
		payoutCurrency:     payoutCurrency,
		platformFeePercent: platformFeePercent,
	}
}

// SetSaleRateLimiter wires an optional distributed rate limiter for the public
// sale webhook. A nil limiter or non-positive limit disables limiting.
func (s *Service) SetSaleRateLimiter(limiter RateLimiter, limitPerMinute int) {
	s.rateLimiter = limiter
	s.saleRateLimitPerMin = limitPerMinute
}

// minorUnits converts a major-unit amount (dollars) into minor units (cents)
// the way the payment processor expects.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// payoutRate is the creator's share of an escrowed amount after the platform fee.
func (s *Service) payoutRate() float64 {
	return (100 - s.platformFeePercent) / 100
}

func (s *Service) trackingURL(code string) string {
	return s.trackingBaseURL + "/" + code
}

// ValidateCampaignBudget checks a campaign's declared budget against the
// minimum threshold and computes a per-objective recommended budget. A valid
// campaign transitions to "live"; a too-low budget is reported to the caller,
// not treated as a request failure.
func (s *Service) ValidateCampaignBudget(ctx context.Context, campaignID uuid.UUID) (*domain.BudgetValidationResult, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch campaign: %w", err)
	}

	isValid := campaign.TotalBudget >= MinimumCampaignBudget
	recommended := recommendedBudget(campaign.Objective, campaign.MinPricePerCreator)

	if isValid {
		if err := s.repo.UpdateCampaignStatus(ctx, campaign.ID, domain.CampaignStatusLive); err != nil {
			return nil, fmt.Errorf("failed to update campaign status: %w", err)
		}
		log.Printf("level=info component=app op=validate_budget outcome=valid campaign_id=%s total_budget=%.2f", campaign.ID, campaign.TotalBudget)
	}

	message := "Campaign budget is valid"
	if !isValid {
		message = fmt.Sprintf("Campaign budget is too low. Minimum budget is $%d", MinimumCampaignBudget)
	}

	return &domain.BudgetValidationResult{
		IsValid:           isValid,
		Message:           message,
		RecommendedBudget: recommended,
	}, nil
}

// recommendedBudget applies the per-objective multiplier heuristic. Objectives
// without a multiplier fall back to the minimum budget floor.
func recommendedBudget(objective string, minPricePerCreator float64) float64 {
	var multiplier float64
	switch objective {
	case domain.ObjectiveImpressions:
		multiplier = 5
	case domain.ObjectiveConversions:
		multiplier = 7
	case domain.ObjectiveAffiliate:
		multiplier = 3
	default:
		return MinimumCampaignBudget
	}
	return math.Max(MinimumCampaignBudget, minPricePerCreator*multiplier)
}

// CreateAffiliateLink validates both parties' roles, mints a unique short
// tracking code, and persists a new tracking-link record with zeroed counters.
func (s *Service) CreateAffiliateLink(ctx context.Context, brandID, creatorID uuid.UUID, originalURL string, payoutPerSale float64) (*domain.AffiliateLink, error) {
	if payoutPerSale <= 0 {
		return nil, ErrInvalidPayoutPerSale
	}

	brand, err := s.repo.FindProfileByID(ctx, brandID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return nil, ErrInvalidBrandReference
		}
		return nil, fmt.Errorf("failed to fetch brand profile: %w", err)
	}
	if brand.Role != domain.RoleBrand {
		return nil, ErrInvalidBrandReference
	}

	creator, err := s.repo.FindProfileByID(ctx, creatorID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return nil, ErrInvalidCreatorReference
		}
		return nil, fmt.Errorf("failed to fetch creator profile: %w", err)
	}
	if creator.Role != domain.RoleCreator {
		return nil, ErrInvalidCreatorReference
	}

	// Collisions within the 8-character alphanumeric space are improbable but
	// not impossible; the unique index on legit_url is the backstop and a
	// violation simply re-mints the code.
	for attempt := 0; attempt < shortCodeAttempts; attempt++ {
		code, err := newShortCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate tracking code: %w", err)
		}

		link := &domain.AffiliateLink{
			ID:            uuid.New(),
			BrandID:       brandID,
			CreatorID:     creatorID,
			OriginalURL:   originalURL,
			LegitURL:      s.trackingURL(code),
			Clicks:        0,
			Sales:         0,
			PayoutPerSale: payoutPerSale,
		}

		err = s.repo.CreateAffiliateLink(ctx, link)
		if errors.Is(err, store.ErrDuplicateTrackingURL) {
			log.Printf("level=warn component=app op=create_affiliate_link msg=\"tracking code collision; re-minting\" attempt=%d", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create affiliate link: %w", err)
		}

		log.Printf("level=info component=app op=create_affiliate_link outcome=created link_id=%s brand_id=%s creator_id=%s", link.ID, brandID, creatorID)
		return link, nil
	}

	return nil, ErrShortCodeExhausted
}

// RecordClick atomically increments a tracking link's click counter and
// returns the destination URL for the redirect.
func (s *Service) RecordClick(ctx context.Context, code string) (string, error) {
	return s.repo.IncrementAffiliateClicks(ctx, s.trackingURL(code))
}

// RecordAffiliateSale increments the link's sale counter, writes an
// affiliate_payout ledger entry sized from the link's configured
// payout-per-sale, and, when the creator has a linked payout account,
// initiates an immediate transfer. The reported sale amount does not size the
// payout (flat per-sale commission); it is carried on the published event for
// analytics.
func (s *Service) RecordAffiliateSale(ctx context.Context, legitURL string, saleAmount float64) (*domain.AffiliateSaleResult, error) {
	if s.rateLimiter != nil && s.saleRateLimitPerMin > 0 {
		count, _, err := s.rateLimiter.ConsumeRateLimit(ctx, "affiliate_sale", legitURL, s.saleRateLimitPerMin, time.Minute)
		if err != nil {
			// Fail open: a limiter outage must not block revenue events.
			log.Printf("level=warn component=app op=record_sale msg=\"rate limiter unavailable\" err=%v", err)
		} else if count > s.saleRateLimitPerMin {
			return nil, ErrRateLimited
		}
	}

	link, err := s.repo.FindAffiliateLinkByTrackingURL(ctx, legitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch affiliate link: %w", err)
	}

	creator, err := s.repo.FindProfileByID(ctx, link.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch creator profile: %w", err)
	}

	tx := &domain.Transaction{
		ID:        uuid.New(),
		AffLinkID: &link.ID,
		Amount:    link.PayoutPerSale,
		Currency:  s.payoutCurrency,
		Type:      domain.TransactionTypeAffiliatePayout,
	}
	if err := s.repo.RecordAffiliateSale(ctx, link.ID, tx); err != nil {
		return nil, fmt.Errorf("failed to record affiliate sale: %w", err)
	}

	result := &domain.AffiliateSaleResult{TransactionID: tx.ID}

	if !creator.HasPayoutAccount() {
		// Money owed but not moved: the reconciler retries once the creator
		// links an account, and the event makes the gap observable.
		log.Printf("level=warn component=app op=record_sale outcome=unfunded link_id=%s transaction_id=%s msg=\"creator has no payout account\"", link.ID, tx.ID)
		s.publishPayoutEvent(ctx, rabbitmq.RoutingKeyAffiliateUnfunded, tx, &saleAmount)
		return result, nil
	}

	transfer, err := s.payments.CreateTransfer(ctx, stripeclient.TransferParams{
		Amount:      minorUnits(link.PayoutPerSale),
		Currency:    s.payoutCurrency,
		Destination: *creator.StripeAccountID,
		Metadata: map[string]string{
			"affiliate_link_id": link.ID.String(),
			"transaction_id":    tx.ID.String(),
		},
		IdempotencyKey: affiliateSaleIdempotencyKey(tx.ID),
	})
	if err != nil {
		// The ledger entry is committed without a transfer reference, so the
		// reconciler will retry with the same idempotency key.
		return nil, fmt.Errorf("failed to transfer affiliate payout: %w", err)
	}

	claimed, err := s.repo.AttachTransferReference(ctx, tx.ID, transfer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach transfer reference: %w", err)
	}
	if !claimed {
		log.Printf("level=warn component=app op=record_sale msg=\"transfer reference already attached\" transaction_id=%s transfer_id=%s", tx.ID, transfer.ID)
	}

	tx.StripeTransferID = &transfer.ID
	result.TransferID = &transfer.ID
	s.publishPayoutEvent(ctx, rabbitmq.RoutingKeyAffiliateRecorded, tx, &saleAmount)

	log.Printf("level=info component=app op=record_sale outcome=transferred link_id=%s transaction_id=%s transfer_id=%s amount=%.2f", link.ID, tx.ID, transfer.ID, link.PayoutPerSale)
	return result, nil
}

// TransferToCreator moves escrowed funds for a prior escrow_capture
// transaction to the associated creator's payout account, retaining the
// platform fee. The escrow row is claimed before any new ledger entry is
// written; combined with the idempotency key on the Stripe call, two
// concurrent requests for the same transaction cannot double-pay.
func (s *Service) TransferToCreator(ctx context.Context, transactionID uuid.UUID) (*domain.EscrowTransferResult, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}

	if tx.Type != domain.TransactionTypeEscrowCapture {
		return nil, fmt.Errorf("%w: %s", ErrNotEscrowCapture, tx.Type)
	}
	if tx.StripeTransferID != nil && *tx.StripeTransferID != "" {
		return nil, ErrAlreadyTransferred
	}

	escrowCreator, err := s.repo.FindEscrowCreator(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve creator for escrow transaction: %w", err)
	}
	if escrowCreator.StripeAccountID == nil || *escrowCreator.StripeAccountID == "" {
		return nil, ErrMissingPayoutAccount
	}

	payoutMinor := minorUnits(tx.Amount * s.payoutRate())

	transfer, err := s.payments.CreateTransfer(ctx, stripeclient.TransferParams{
		Amount:      payoutMinor,
		Currency:    s.payoutCurrency,
		Destination: *escrowCreator.StripeAccountID,
		Metadata: map[string]string{
			"transaction_id": tx.ID.String(),
			"deal_id":        escrowCreator.DealID.String(),
		},
		IdempotencyKey: escrowPayoutIdempotencyKey(tx.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to transfer escrow payout: %w", err)
	}

	claimed, err := s.repo.AttachTransferReference(ctx, tx.ID, transfer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach transfer reference: %w", err)
	}
	if !claimed {
		// A concurrent request won the claim; the idempotency key means its
		// Stripe transfer and ours are the same object, so no funds doubled.
		return nil, ErrAlreadyTransferred
	}

	payoutTx := &domain.Transaction{
		ID:               uuid.New(),
		DealID:           &escrowCreator.DealID,
		Amount:           float64(payoutMinor) / 100,
		Currency:         s.payoutCurrency,
		Type:             domain.TransactionTypeCreatorPayout,
		StripeTransferID: &transfer.ID,
	}
	if err := s.repo.CreateTransaction(ctx, payoutTx); err != nil {
		return nil, fmt.Errorf("failed to create payout transaction: %w", err)
	}

	s.publishPayoutEvent(ctx, rabbitmq.RoutingKeyCreatorTransferred, payoutTx, nil)

	log.Printf("level=info component=app op=transfer_to_creator outcome=transferred transaction_id=%s payout_transaction_id=%s transfer_id=%s amount=%.2f", tx.ID, payoutTx.ID, transfer.ID, payoutTx.Amount)
	return &domain.EscrowTransferResult{
		TransferID:          transfer.ID,
		PayoutTransactionID: payoutTx.ID,
		Amount:              payoutTx.Amount,
	}, nil
}

// RetryUnfundedAffiliatePayouts funds affiliate_payout ledger entries that
// were recorded while their creator had no payout account. Transfers reuse
// the original idempotency key, so an entry that was partially processed
// before cannot be paid twice. Returns the number of payouts funded.
func (s *Service) RetryUnfundedAffiliatePayouts(ctx context.Context, limit int) (int, error) {
	payouts, err := s.repo.FindUnfundedAffiliatePayouts(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfunded payouts: %w", err)
	}

	funded := 0
	for _, payout := range payouts {
		if payout.StripeAccountID == nil || *payout.StripeAccountID == "" {
			continue
		}

		tx := payout.Transaction
		transfer, err := s.payments.CreateTransfer(ctx, stripeclient.TransferParams{
			Amount:      minorUnits(tx.Amount),
			Currency:    tx.Currency,
			Destination: *payout.StripeAccountID,
			Metadata: map[string]string{
				"affiliate_link_id": payout.AffLinkID.String(),
				"transaction_id":    tx.ID.String(),
			},
			IdempotencyKey: affiliateSaleIdempotencyKey(tx.ID),
		})
		if err != nil {
			log.Printf("level=warn component=app op=retry_unfunded_payouts msg=\"transfer failed\" transaction_id=%s err=%v", tx.ID, err)
			continue
		}

		claimed, err := s.repo.AttachTransferReference(ctx, tx.ID, transfer.ID)
		if err != nil {
			log.Printf("level=warn component=app op=retry_unfunded_payouts msg=\"attach failed\" transaction_id=%s transfer_id=%s err=%v", tx.ID, transfer.ID, err)
			continue
		}
		if !claimed {
			continue
		}

		tx.StripeTransferID = &transfer.ID
		s.publishPayoutEvent(ctx, rabbitmq.RoutingKeyAffiliateRecorded, &tx, nil)
		funded++
	}

	return funded, nil
}

// publishPayoutEvent emits a payout lifecycle event. Publishing is
// best-effort: a broker failure is logged but never fails the money movement.
func (s *Service) publishPayoutEvent(ctx context.Context, routingKey string, tx *domain.Transaction, saleAmount *float64) {
	event := rabbitmq.PayoutEvent{
		TransactionID: tx.ID,
		DealID:        tx.DealID,
		AffLinkID:     tx.AffLinkID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		TransferID:    tx.StripeTransferID,
		SaleAmount:    saleAmount,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.events.PublishPayoutEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=app msg=\"payout event publish failed\" routing_key=%s transaction_id=%s err=%v", routingKey, tx.ID, err)
	}
}

func affiliateSaleIdempotencyKey(transactionID uuid.UUID) string {
	return "affiliate-sale-" + transactionID.String()
}

func escrowPayoutIdempotencyKey(transactionID uuid.UUID) string {
	return "escrow-payout-" + transactionID.String()
}
