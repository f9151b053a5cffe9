package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/legitreach/payout-service/internal/domain"
	"github.com/legitreach/payout-service/internal/store"
	"github.com/legitreach/payout-service/pkg/stripeclient"
)

type payoutRepoStub struct {
	store.Repository

	campaign      *domain.Campaign
	profiles      map[uuid.UUID]*domain.UserProfile
	link          *domain.AffiliateLink
	tx            *domain.Transaction
	escrowCreator *domain.EscrowCreator
	unfunded      []domain.UnfundedAffiliatePayout

	createLinkErrs []error
	createdLinks   []*domain.AffiliateLink

	statusUpdates []string
	saleLinkID    uuid.UUID
	saleTx        *domain.Transaction
	createdTxs    []*domain.Transaction
	attachedRefs  []string
	attachClaim   bool
}

func (r *payoutRepoStub) FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	if r.campaign == nil || r.campaign.ID != campaignID {
		return nil, store.ErrCampaignNotFound
	}
	return r.campaign, nil
}

func (r *payoutRepoStub) UpdateCampaignStatus(ctx context.Context, campaignID uuid.UUID, status string) error {
	r.statusUpdates = append(r.statusUpdates, status)
	return nil
}

func (r *payoutRepoStub) FindProfileByID(ctx context.Context, profileID uuid.UUID) (*domain.UserProfile, error) {
	profile, ok := r.profiles[profileID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}
	return profile, nil
}

func (r *payoutRepoStub) CreateAffiliateLink(ctx context.Context, link *domain.AffiliateLink) error {
	r.createdLinks = append(r.createdLinks, link)
	if len(r.createLinkErrs) > 0 {
		err := r.createLinkErrs[0]
		r.createLinkErrs = r.createLinkErrs[1:]
		return err
	}
	return nil
}

func (r *payoutRepoStub) FindAffiliateLinkByTrackingURL(ctx context.Context, legitURL string) (*domain.AffiliateLink, error) {
	if r.link == nil || r.link.LegitURL != legitURL {
		return nil, store.ErrAffiliateLinkNotFound
	}
	return r.link, nil
}

func (r *payoutRepoStub) RecordAffiliateSale(ctx context.Context, linkID uuid.UUID, tx *domain.Transaction) error {
	r.saleLinkID = linkID
	r.saleTx = tx
	return nil
}

func (r *payoutRepoStub) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	if r.tx == nil || r.tx.ID != transactionID {
		return nil, store.ErrTransactionNotFound
	}
	return r.tx, nil
}

func (r *payoutRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.createdTxs = append(r.createdTxs, tx)
	return nil
}

func (r *payoutRepoStub) AttachTransferReference(ctx context.Context, transactionID uuid.UUID, transferID string) (bool, error) {
	r.attachedRefs = append(r.attachedRefs, transferID)
	return r.attachClaim, nil
}

func (r *payoutRepoStub) FindEscrowCreator(ctx context.Context, transactionID uuid.UUID) (*domain.EscrowCreator, error) {
	if r.escrowCreator == nil {
		return nil, store.ErrEscrowCreatorNotFound
	}
	return r.escrowCreator, nil
}

func (r *payoutRepoStub) FindUnfundedAffiliatePayouts(ctx context.Context, limit int) ([]domain.UnfundedAffiliatePayout, error) {
	if limit < len(r.unfunded) {
		return r.unfunded[:limit], nil
	}
	return r.unfunded, nil
}

type paymentClientStub struct {
	calls []stripeclient.TransferParams
	err   error
}

func (p *paymentClientStub) CreateTransfer(ctx context.Context, params stripeclient.TransferParams) (*stripeclient.Transfer, error) {
	p.calls = append(p.calls, params)
	if p.err != nil {
		return nil, p.err
	}
	return &stripeclient.Transfer{
		ID:          fmt.Sprintf("tr_stub_%d", len(p.calls)),
		Object:      "transfer",
		Amount:      params.Amount,
		Currency:    params.Currency,
		Destination: params.Destination,
	}, nil
}

type rateLimiterStub struct {
	count int
	err   error
}

func (l *rateLimiterStub) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, 30, l.err
}

func newTestService(repo *payoutRepoStub, payments *paymentClientStub) *Service {
	return NewService(repo, payments, nil, "https://legitreach.app/r", "usd", 15)
}

func ptrString(value string) *string {
	return &value
}

func TestValidateCampaignBudget(t *testing.T) {
	tests := []struct {
		name            string
		totalBudget     float64
		objective       string
		minPrice        float64
		wantValid       bool
		wantRecommended float64
		wantLive        bool
	}{
		{
			name:            "budget at floor goes live",
			totalBudget:     300,
			objective:       domain.ObjectiveImpressions,
			minPrice:        100,
			wantValid:       true,
			wantRecommended: 500,
			wantLive:        true,
		},
		{
			name:            "budget below floor is reported, not failed",
			totalBudget:     250,
			objective:       domain.ObjectiveConversions,
			minPrice:        100,
			wantValid:       false,
			wantRecommended: 700,
			wantLive:        false,
		},
		{
			name:            "affiliate multiplier below floor clamps to floor",
			totalBudget:     1000,
			objective:       domain.ObjectiveAffiliate,
			minPrice:        50,
			wantValid:       true,
			wantRecommended: 300,
			wantLive:        true,
		},
		{
			name:            "unknown objective falls back to floor",
			totalBudget:     400,
			objective:       "brand_awareness",
			minPrice:        1000,
			wantValid:       true,
			wantRecommended: 300,
			wantLive:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			campaignID := uuid.New()
			repo := &payoutRepoStub{
				campaign: &domain.Campaign{
					ID:                 campaignID,
					Objective:          tt.objective,
					TotalBudget:        tt.totalBudget,
					MinPricePerCreator: tt.minPrice,
					Status:             domain.CampaignStatusDraft,
				},
			}
			service := newTestService(repo, &paymentClientStub{})

			result, err := service.ValidateCampaignBudget(context.Background(), campaignID)
			if err != nil {
				t.Fatalf("ValidateCampaignBudget returned error: %v", err)
			}
			if result.IsValid != tt.wantValid {
				t.Fatalf("expected is_valid=%t, got %t", tt.wantValid, result.IsValid)
			}
			if result.RecommendedBudget != tt.wantRecommended {
				t.Fatalf("expected recommended budget %f, got %f", tt.wantRecommended, result.RecommendedBudget)
			}
			if tt.wantLive {
				if len(repo.statusUpdates) != 1 || repo.statusUpdates[0] != domain.CampaignStatusLive {
					t.Fatalf("expected single status update to live, got %v", repo.statusUpdates)
				}
			} else if len(repo.statusUpdates) != 0 {
				t.Fatalf("expected no status update for invalid budget, got %v", repo.statusUpdates)
			}
		})
	}
}

func TestValidateCampaignBudget_UnknownCampaign(t *testing.T) {
	repo := &payoutRepoStub{}
	service := newTestService(repo, &paymentClientStub{})

	_, err := service.ValidateCampaignBudget(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}

func TestCreateAffiliateLink_IssuesTrackingLink(t *testing.T) {
	brandID := uuid.New()
	creatorID := uuid.New()
	repo := &payoutRepoStub{
		profiles: map[uuid.UUID]*domain.UserProfile{
			brandID:   {ID: brandID, Role: domain.RoleBrand},
			creatorID: {ID: creatorID, Role: domain.RoleCreator},
		},
	}
	service := newTestService(repo, &paymentClientStub{})

	link, err := service.CreateAffiliateLink(context.Background(), brandID, creatorID, "https://shop.example.com/product", 12.5)
	if err != nil {
		t.Fatalf("CreateAffiliateLink returned error: %v", err)
	}
	if link.Clicks != 0 || link.Sales != 0 {
		t.Fatalf("expected zeroed counters, got clicks=%d sales=%d", link.Clicks, link.Sales)
	}
	if link.PayoutPerSale != 12.5 {
		t.Fatalf("expected payout_per_sale 12.5, got %f", link.PayoutPerSale)
	}
	if !strings.HasPrefix(link.LegitURL, "https://legitreach.app/r/") {
		t.Fatalf("expected tracking URL under the configured base, got %q", link.LegitURL)
	}
	code := strings.TrimPrefix(link.LegitURL, "https://legitreach.app/r/")
	if len(code) != shortCodeLength {
		t.Fatalf("expected %d-character code, got %q", shortCodeLength, code)
	}
}

func TestCreateAffiliateLink_RemintsOnCodeCollision(t *testing.T) {
	brandID := uuid.New()
	creatorID := uuid.New()
	repo := &payoutRepoStub{
		profiles: map[uuid.UUID]*domain.UserProfile{
			brandID:   {ID: brandID, Role: domain.RoleBrand},
			creatorID: {ID: creatorID, Role: domain.RoleCreator},
		},
		createLinkErrs: []error{store.ErrDuplicateTrackingURL},
	}
	service := newTestService(repo, &paymentClientStub{})

	link, err := service.CreateAffiliateLink(context.Background(), brandID, creatorID, "https://shop.example.com", 5)
	if err != nil {
		t.Fatalf("CreateAffiliateLink returned error: %v", err)
	}
	if len(repo.createdLinks) != 2 {
		t.Fatalf("expected a second insert attempt after collision, got %d", len(repo.createdLinks))
	}
	if repo.createdLinks[0].LegitURL == link.LegitURL {
		t.Fatalf("expected a fresh code after collision, got %q twice", link.LegitURL)
	}
}

func TestCreateAffiliateLink_RejectsRoleMismatch(t *testing.T) {
	brandID := uuid.New()
	creatorID := uuid.New()
	repo := &payoutRepoStub{
		profiles: map[uuid.UUID]*domain.UserProfile{
			brandID:   {ID: brandID, Role: domain.RoleBrand},
			creatorID: {ID: creatorID, Role: domain.RoleBrand},
		},
	}
	service := newTestService(repo, &paymentClientStub{})

	_, err := service.CreateAffiliateLink(context.Background(), brandID, creatorID, "https://shop.example.com", 5)
	if !errors.Is(err, ErrInvalidCreatorReference) {
		t.Fatalf("expected ErrInvalidCreatorReference, got %v", err)
	}

	_, err = service.CreateAffiliateLink(context.Background(), creatorID, brandID, "https://shop.example.com", 5)
	if !errors.Is(err, ErrInvalidBrandReference) {
		t.Fatalf("expected ErrInvalidBrandReference, got %v", err)
	}
}

func TestCreateAffiliateLink_RejectsNonPositivePayout(t *testing.T) {
	service := newTestService(&payoutRepoStub{}, &paymentClientStub{})

	_, err := service.CreateAffiliateLink(context.Background(), uuid.New(), uuid.New(), "https://shop.example.com", 0)
	if !errors.Is(err, ErrInvalidPayoutPerSale) {
		t.Fatalf("expected ErrInvalidPayoutPerSale, got %v", err)
	}
}

func TestRecordAffiliateSale_TransfersWhenAccountLinked(t *testing.T) {
	creatorID := uuid.New()
	link := &domain.AffiliateLink{
		ID:            uuid.New(),
		CreatorID:     creatorID,
		LegitURL:      "https://legitreach.app/r/abcd1234",
		PayoutPerSale: 15,
	}
	repo := &payoutRepoStub{
		link: link,
		profiles: map[uuid.UUID]*domain.UserProfile{
			creatorID: {ID: creatorID, Role: domain.RoleCreator, StripeAccountID: ptrString("acct_creator1")},
		},
		attachClaim: true,
	}
	payments := &paymentClientStub{}
	service := newTestService(repo, payments)

	result, err := service.RecordAffiliateSale(context.Background(), link.LegitURL, 89.99)
	if err != nil {
		t.Fatalf("RecordAffiliateSale returned error: %v", err)
	}

	if repo.saleTx == nil || repo.saleLinkID != link.ID {
		t.Fatalf("expected sale recorded against link %s", link.ID)
	}
	if repo.saleTx.Type != domain.TransactionTypeAffiliatePayout {
		t.Fatalf("expected affiliate_payout ledger entry, got %q", repo.saleTx.Type)
	}
	if repo.saleTx.Amount != 15 {
		t.Fatalf("expected payout sized from payout_per_sale, got %f", repo.saleTx.Amount)
	}

	if len(payments.calls) != 1 {
		t.Fatalf("expected one transfer call, got %d", len(payments.calls))
	}
	call := payments.calls[0]
	if call.Amount != 1500 {
		t.Fatalf("expected transfer of 1500 minor units, got %d", call.Amount)
	}
	if call.Destination != "acct_creator1" {
		t.Fatalf("expected transfer to creator account, got %q", call.Destination)
	}
	wantKey := "affiliate-sale-" + repo.saleTx.ID.String()
	if call.IdempotencyKey != wantKey {
		t.Fatalf("expected idempotency key %q, got %q", wantKey, call.IdempotencyKey)
	}

	if result.TransferID == nil || *result.TransferID == "" {
		t.Fatalf("expected transfer reference in result")
	}
	if len(repo.attachedRefs) != 1 || repo.attachedRefs[0] != *result.TransferID {
		t.Fatalf("expected transfer reference attached to ledger entry, got %v", repo.attachedRefs)
	}
}

func TestRecordAffiliateSale_LeavesPayoutUnfundedWithoutAccount(t *testing.T) {
	creatorID := uuid.New()
	link := &domain.AffiliateLink{
		ID:            uuid.New(),
		CreatorID:     creatorID,
		LegitURL:      "https://legitreach.app/r/abcd1234",
		PayoutPerSale: 10,
	}
	repo := &payoutRepoStub{
		link: link,
		profiles: map[uuid.UUID]*domain.UserProfile{
			creatorID: {ID: creatorID, Role: domain.RoleCreator},
		},
	}
	payments := &paymentClientStub{}
	service := newTestService(repo, payments)

	result, err := service.RecordAffiliateSale(context.Background(), link.LegitURL, 42)
	if err != nil {
		t.Fatalf("RecordAffiliateSale returned error: %v", err)
	}
	if repo.saleTx == nil {
		t.Fatalf("expected the sale to be recorded even without a payout account")
	}
	if len(payments.calls) != 0 {
		t.Fatalf("expected no transfer without a payout account, got %d calls", len(payments.calls))
	}
	if result.TransferID != nil {
		t.Fatalf("expected nil transfer reference, got %q", *result.TransferID)
	}
}

func TestRecordAffiliateSale_RateLimit(t *testing.T) {
	creatorID := uuid.New()
	link := &domain.AffiliateLink{
		ID:            uuid.New(),
		CreatorID:     creatorID,
		LegitURL:      "https://legitreach.app/r/abcd1234",
		PayoutPerSale: 10,
	}
	newRepo := func() *payoutRepoStub {
		return &payoutRepoStub{
			link: link,
			profiles: map[uuid.UUID]*domain.UserProfile{
				creatorID: {ID: creatorID, Role: domain.RoleCreator},
			},
		}
	}

	t.Run("rejects above the window limit", func(t *testing.T) {
		service := newTestService(newRepo(), &paymentClientStub{})
		service.SetSaleRateLimiter(&rateLimiterStub{count: 121}, 120)

		_, err := service.RecordAffiliateSale(context.Background(), link.LegitURL, 42)
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
	})

	t.Run("fails open on limiter outage", func(t *testing.T) {
		repo := newRepo()
		service := newTestService(repo, &paymentClientStub{})
		service.SetSaleRateLimiter(&rateLimiterStub{err: errors.New("redis down")}, 120)

		if _, err := service.RecordAffiliateSale(context.Background(), link.LegitURL, 42); err != nil {
			t.Fatalf("expected the sale to proceed on limiter outage, got %v", err)
		}
		if repo.saleTx == nil {
			t.Fatalf("expected sale recorded despite limiter outage")
		}
	})
}

func TestTransferToCreator_RetainsPlatformFee(t *testing.T) {
	dealID := uuid.New()
	tx := &domain.Transaction{
		ID:       uuid.New(),
		DealID:   &dealID,
		Amount:   1000,
		Currency: "usd",
		Type:     domain.TransactionTypeEscrowCapture,
	}
	repo := &payoutRepoStub{
		tx: tx,
		escrowCreator: &domain.EscrowCreator{
			CreatorID:       uuid.New(),
			DealID:          dealID,
			StripeAccountID: ptrString("acct_creator1"),
		},
		attachClaim: true,
	}
	payments := &paymentClientStub{}
	service := newTestService(repo, payments)

	result, err := service.TransferToCreator(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("TransferToCreator returned error: %v", err)
	}

	if len(payments.calls) != 1 {
		t.Fatalf("expected one transfer call, got %d", len(payments.calls))
	}
	call := payments.calls[0]
	if call.Amount != 85000 {
		t.Fatalf("expected 85%% of 1000.00 as 85000 minor units, got %d", call.Amount)
	}
	wantKey := "escrow-payout-" + tx.ID.String()
	if call.IdempotencyKey != wantKey {
		t.Fatalf("expected idempotency key %q, got %q", wantKey, call.IdempotencyKey)
	}

	if len(repo.createdTxs) != 1 {
		t.Fatalf("expected one payout ledger entry, got %d", len(repo.createdTxs))
	}
	payoutTx := repo.createdTxs[0]
	if payoutTx.Type != domain.TransactionTypeCreatorPayout {
		t.Fatalf("expected creator_payout entry, got %q", payoutTx.Type)
	}
	if payoutTx.Amount != 850 {
		t.Fatalf("expected payout entry of 850.00, got %f", payoutTx.Amount)
	}
	if payoutTx.DealID == nil || *payoutTx.DealID != dealID {
		t.Fatalf("expected payout entry linked to deal %s", dealID)
	}
	if result.Amount != 850 {
		t.Fatalf("expected result amount 850.00, got %f", result.Amount)
	}
	if result.PayoutTransactionID != payoutTx.ID {
		t.Fatalf("expected result to reference the payout ledger entry")
	}
}

func TestTransferToCreator_RejectsNonEscrowCapture(t *testing.T) {
	tx := &domain.Transaction{
		ID:   uuid.New(),
		Type: domain.TransactionTypeEscrowHold,
	}
	repo := &payoutRepoStub{tx: tx}
	payments := &paymentClientStub{}
	service := newTestService(repo, payments)

	_, err := service.TransferToCreator(context.Background(), tx.ID)
	if !errors.Is(err, ErrNotEscrowCapture) {
		t.Fatalf("expected ErrNotEscrowCapture, got %v", err)
	}
	if len(payments.calls) != 0 {
		t.Fatalf("expected no transfer call, got %d", len(payments.calls))
	}
}

func TestTransferToCreator_RejectsAlreadyTransferred(t *testing.T) {
	tx := &domain.Transaction{
		ID:               uuid.New(),
		Type:             domain.TransactionTypeEscrowCapture,
		StripeTransferID: ptrString("tr_existing"),
	}
	repo := &payoutRepoStub{tx: tx}
	payments := &paymentClientStub{}
	service := newTestService(repo, payments)

	_, err := service.TransferToCreator(context.Background(), tx.ID)
	if !errors.Is(err, ErrAlreadyTransferred) {
		t.Fatalf("expected ErrAlreadyTransferred, got %v", err)
	}
	if len(payments.calls) != 0 {
		t.Fatalf("expected no transfer call for an already-funded escrow, got %d", len(payments.calls))
	}
}

func TestTransferToCreator_LostClaimDoesNotDoublePay(t *testing.T) {
	dealID := uuid.New()
	tx := &domain.Transaction{
		ID:       uuid.New(),
		DealID:   &dealID,
		Amount:   500,
		Currency: "usd",
		Type:     domain.TransactionTypeEscrowCapture,
	}
	repo := &payoutRepoStub{
		tx: tx,
		escrowCreator: &domain.EscrowCreator{
			CreatorID:       uuid.New(),
			DealID:          dealID,
			StripeAccountID: ptrString("acct_creator1"),
		},
		attachClaim: false,
	}
	service := newTestService(repo, &paymentClientStub{})

	_, err := service.TransferToCreator(context.Background(), tx.ID)
	if !errors.Is(err, ErrAlreadyTransferred) {
		t.Fatalf("expected ErrAlreadyTransferred when another request claimed the row, got %v", err)
	}
	if len(repo.createdTxs) != 0 {
		t.Fatalf("expected no payout ledger entry from the losing request, got %d", len(repo.createdTxs))
	}
}

func TestTransferToCreator_RequiresPayoutAccount(t *testing.T) {
	dealID := uuid.New()
	tx := &domain.Transaction{
		ID:       uuid.New(),
		DealID:   &dealID,
		Amount:   500,
		Currency: "usd",
		Type:     domain.TransactionTypeEscrowCapture,
	}
	repo := &payoutRepoStub{
		tx: tx,
		escrowCreator: &domain.EscrowCreator{
			CreatorID: uuid.New(),
			DealID:    dealID,
		},
	}
	service := newTestService(repo, &paymentClientStub{})

	_, err := service.TransferToCreator(context.Background(), tx.ID)
	if !errors.Is(err, ErrMissingPayoutAccount) {
		t.Fatalf("expected ErrMissingPayoutAccount, got %v", err)
	}
}

func TestRetryUnfundedAffiliatePayouts(t *testing.T) {
	linkID := uuid.New()
	fundable := domain.UnfundedAffiliatePayout{
		Transaction: domain.Transaction{
			ID:       uuid.New(),
			Amount:   10,
			Currency: "usd",
			Type:     domain.TransactionTypeAffiliatePayout,
		},
		AffLinkID:       linkID,
		CreatorID:       uuid.New(),
		StripeAccountID: ptrString("acct_linked"),
	}
	stillUnlinked := domain.UnfundedAffiliatePayout{
		Transaction: domain.Transaction{
			ID:       uuid.New(),
			Amount:   20,
			Currency: "usd",
			Type:     domain.TransactionTypeAffiliatePayout,
		},
		AffLinkID: linkID,
		CreatorID: uuid.New(),
	}
	repo := &payoutRepoStub{
		unfunded:    []domain.UnfundedAffiliatePayout{fundable, stillUnlinked},
		attachClaim: true,
	}
	payments := &paymentClientStub{}
	service := newTestService(repo, payments)

	funded, err := service.RetryUnfundedAffiliatePayouts(context.Background(), 20)
	if err != nil {
		t.Fatalf("RetryUnfundedAffiliatePayouts returned error: %v", err)
	}
	if funded != 1 {
		t.Fatalf("expected exactly one funded payout, got %d", funded)
	}
	if len(payments.calls) != 1 {
		t.Fatalf("expected one transfer call, got %d", len(payments.calls))
	}
	call := payments.calls[0]
	if call.Amount != 1000 {
		t.Fatalf("expected 1000 minor units, got %d", call.Amount)
	}
	wantKey := "affiliate-sale-" + fundable.Transaction.ID.String()
	if call.IdempotencyKey != wantKey {
		t.Fatalf("expected the original idempotency key %q, got %q", wantKey, call.IdempotencyKey)
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{amount: 15, want: 1500},
		{amount: 0.01, want: 1},
		{amount: 19.99, want: 1999},
		{amount: 849.999999, want: 85000},
	}

	for _, tt := range tests {
		if got := minorUnits(tt.amount); got != tt.want {
			t.Fatalf("minorUnits(%f): expected %d, got %d", tt.amount, tt.want, got)
		}
	}
}
