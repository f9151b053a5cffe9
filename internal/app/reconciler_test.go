package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/legitreach/payout-service/internal/domain"
)

func TestReconcilerRunOnce_FundsLinkedCreators(t *testing.T) {
	repo := &payoutRepoStub{
		unfunded: []domain.UnfundedAffiliatePayout{
			{
				Transaction: domain.Transaction{
					ID:       uuid.New(),
					Amount:   10,
					Currency: "usd",
					Type:     domain.TransactionTypeAffiliatePayout,
				},
				AffLinkID:       uuid.New(),
				CreatorID:       uuid.New(),
				StripeAccountID: ptrString("acct_linked"),
			},
		},
		attachClaim: true,
	}
	payments := &paymentClientStub{}
	service := newTestService(repo, payments)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reconciler := NewReconciler(service, logger, "*/5 * * * *", 10)

	reconciler.RunOnce()

	if len(payments.calls) != 1 {
		t.Fatalf("expected one transfer from the retry pass, got %d", len(payments.calls))
	}
	if len(repo.attachedRefs) != 1 {
		t.Fatalf("expected transfer reference attached, got %v", repo.attachedRefs)
	}
}
