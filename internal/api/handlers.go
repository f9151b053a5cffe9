/**
 * @description
 * This file contains the HTTP handlers for the payout-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, validating them before
 * any side effect occurs, calling the appropriate methods on the application
 * service, and writing the HTTP response. They act as the bridge between the web
 * layer and the business logic layer.
 *
 * @notes
 * - Every failure response carries a machine-readable `code` alongside the
 *   human-readable `error` string so callers can distinguish error kinds.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/legitreach/payout-service/internal/app"
	"github.com/legitreach/payout-service/internal/domain"
	"github.com/legitreach/payout-service/internal/store"
)

// Error codes returned in failure response bodies.
const (
	CodeMissingParameter     = "MISSING_PARAMETER"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidReference     = "INVALID_REFERENCE"
	CodeInvalidState         = "INVALID_STATE"
	CodeAlreadyProcessed     = "ALREADY_PROCESSED"
	CodeMissingPayoutAccount = "MISSING_PAYOUT_ACCOUNT"
	CodeRateLimited          = "RATE_LIMITED"
	CodeUpstreamFailure      = "UPSTREAM_FAILURE"
)

// PayoutHandlers holds the application service that handlers will use.
type PayoutHandlers struct {
	service *app.Service
}

// NewPayoutHandlers creates a new instance of PayoutHandlers.
func NewPayoutHandlers(service *app.Service) *PayoutHandlers {
	return &PayoutHandlers{service: service}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type validateBudgetResponse struct {
	Success           bool    `json:"success"`
	IsValid           bool    `json:"is_valid"`
	Message           string  `json:"message"`
	RecommendedBudget float64 `json:"recommended_budget"`
}

type createAffiliateLinkResponse struct {
	Success       bool                  `json:"success"`
	AffiliateLink *domain.AffiliateLink `json:"affiliate_link"`
}

type recordSaleResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	TransactionID string  `json:"transaction_id"`
	TransferID    *string `json:"transfer_id,omitempty"`
}

type transferToCreatorResponse struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	TransferID          string `json:"transfer_id"`
	PayoutTransactionID string `json:"payout_transaction_id"`
}

// ValidateCampaignBudgetHandler handles campaign budget validation requests.
func (h *PayoutHandlers) ValidateCampaignBudgetHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ValidateCampaignBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.CampaignID == "" {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "Missing campaign_id parameter")
		return
	}
	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "campaign_id must be a valid UUID")
		return
	}

	result, err := h.service.ValidateCampaignBudget(r.Context(), campaignID)
	if err != nil {
		h.writeServiceError(w, "validate_budget", err)
		return
	}

	h.writeJSON(w, http.StatusOK, validateBudgetResponse{
		Success:           true,
		IsValid:           result.IsValid,
		Message:           result.Message,
		RecommendedBudget: result.RecommendedBudget,
	})
}

// CreateAffiliateLinkHandler handles tracking-link issuance requests.
func (h *PayoutHandlers) CreateAffiliateLinkHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAffiliateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.BrandID == "" || req.CreatorID == "" || req.OriginalURL == "" || req.PayoutPerSale == nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "Missing required parameters")
		return
	}
	if *req.PayoutPerSale <= 0 {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "payout_per_sale must be a positive number")
		return
	}
	brandID, err := uuid.Parse(req.BrandID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "brand_id must be a valid UUID")
		return
	}
	creatorID, err := uuid.Parse(req.CreatorID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "creator_id must be a valid UUID")
		return
	}

	link, err := h.service.CreateAffiliateLink(r.Context(), brandID, creatorID, req.OriginalURL, *req.PayoutPerSale)
	if err != nil {
		h.writeServiceError(w, "create_affiliate_link", err)
		return
	}

	h.writeJSON(w, http.StatusOK, createAffiliateLinkResponse{
		Success:       true,
		AffiliateLink: link,
	})
}

// RecordAffiliateSaleHandler handles the affiliate sale webhook.
func (h *PayoutHandlers) RecordAffiliateSaleHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordAffiliateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.LegitURL == "" || req.SaleAmount == nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "Missing required parameters")
		return
	}
	if *req.SaleAmount < 0 {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "sale_amount must not be negative")
		return
	}

	result, err := h.service.RecordAffiliateSale(r.Context(), req.LegitURL, *req.SaleAmount)
	if err != nil {
		h.writeServiceError(w, "record_sale", err)
		return
	}

	h.writeJSON(w, http.StatusOK, recordSaleResponse{
		Success:       true,
		Message:       "Affiliate sale recorded successfully",
		TransactionID: result.TransactionID.String(),
		TransferID:    result.TransferID,
	})
}

// TransferToCreatorHandler handles escrow-to-creator payout requests.
func (h *PayoutHandlers) TransferToCreatorHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferToCreatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.TransactionID == "" {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "Missing transaction_id parameter")
		return
	}
	transactionID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "transaction_id must be a valid UUID")
		return
	}

	result, err := h.service.TransferToCreator(r.Context(), transactionID)
	if err != nil {
		h.writeServiceError(w, "transfer_to_creator", err)
		return
	}

	h.writeJSON(w, http.StatusOK, transferToCreatorResponse{
		Success:             true,
		Message:             "Transfer to creator successful",
		TransferID:          result.TransferID,
		PayoutTransactionID: result.PayoutTransactionID.String(),
	})
}

// ClickRedirectHandler resolves a tracking code, bumps the click counter, and
// redirects to the original destination URL.
func (h *PayoutHandlers) ClickRedirectHandler(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, "Missing tracking code")
		return
	}

	originalURL, err := h.service.RecordClick(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, "click_redirect", err)
		return
	}

	http.Redirect(w, r, originalURL, http.StatusFound)
}

// writeServiceError maps service-layer errors onto HTTP status codes and the
// error-code taxonomy.
func (h *PayoutHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	log.Printf("level=warn component=api endpoint=%s outcome=failed err=%v", endpoint, err)

	switch {
	case errors.Is(err, store.ErrCampaignNotFound),
		errors.Is(err, store.ErrAffiliateLinkNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrEscrowCreatorNotFound):
		h.writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidBrandReference),
		errors.Is(err, app.ErrInvalidCreatorReference):
		h.writeError(w, http.StatusBadRequest, CodeInvalidReference, err.Error())
	case errors.Is(err, app.ErrInvalidPayoutPerSale):
		h.writeError(w, http.StatusBadRequest, CodeMissingParameter, err.Error())
	case errors.Is(err, app.ErrNotEscrowCapture):
		h.writeError(w, http.StatusConflict, CodeInvalidState, err.Error())
	case errors.Is(err, app.ErrAlreadyTransferred):
		h.writeError(w, http.StatusConflict, CodeAlreadyProcessed, err.Error())
	case errors.Is(err, app.ErrMissingPayoutAccount):
		h.writeError(w, http.StatusPreconditionFailed, CodeMissingPayoutAccount, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, CodeRateLimited, err.Error())
	default:
		h.writeError(w, http.StatusBadGateway, CodeUpstreamFailure, err.Error())
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PayoutHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PayoutHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorResponse{Success: false, Error: message, Code: code})
}
