package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/pawtalk-api/internal/models"
	"github.com/jmylchreest/pawtalk-api/internal/service"
)

// CreditHandler serves balances and operator credit management.
type CreditHandler struct {
	admission *service.AdmissionService
	credits   *service.CreditService
	logger    *slog.Logger
}

// NewCreditHandler creates a new credit handler.
func NewCreditHandler(admission *service.AdmissionService, credits *service.CreditService, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{
		admission: admission,
		credits:   credits,
		logger:    logger.With("component", "credits_handler"),
	}
}

// GetCreditsOutput is the balance response.
type GetCreditsOutput struct {
	Body struct {
		Credits           int  `json:"credits" doc:"Spendable credits"`
		FreeAvailable     bool `json:"free_available" doc:"Whether a free generation can be started now"`
		RetryAfterMinutes int  `json:"retry_after_minutes,omitempty" doc:"Minutes until the next free generation"`
		SignedIn          bool `json:"signed_in"`
		Unlimited         bool `json:"unlimited,omitempty" doc:"Privileged accounts are never charged"`
	}
}

// GetCredits reports the caller's spendable balance and free-tier availability.
func (h *CreditHandler) GetCredits(ctx context.Context, input *struct{}) (*GetCreditsOutput, error) {
	id, err := getIdentity(ctx)
	if err != nil {
		return nil, err
	}

	credits, free, err := h.admission.Balance(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get balance", "error", err)
		return nil, huma.Error500InternalServerError("failed to get balance")
	}

	out := &GetCreditsOutput{}
	out.Body.Credits = credits
	out.Body.FreeAvailable = free.Allowed
	out.Body.RetryAfterMinutes = free.RetryAfterMinutes
	out.Body.SignedIn = id.HasPersistedAccount
	out.Body.Unlimited = id.Privileged
	return out, nil
}

// AdminCreditsInput changes an account's operator-granted credits.
type AdminCreditsInput struct {
	AccountID string `path:"id" doc:"Account ID"`
	Body      struct {
		Action string `json:"action" enum:"grant,revoke,set" doc:"grant adds, revoke removes (clamped at zero), set replaces"`
		Amount int    `json:"amount" minimum:"0" doc:"Number of credits"`
	}
}

// AdminCreditsOutput reports the account after the change.
type AdminCreditsOutput struct {
	Body struct {
		AccountID        string `json:"account_id"`
		PurchasedCredits int    `json:"purchased_credits"`
		AdminCredits     int    `json:"admin_credits"`
		TotalCredits     int    `json:"total_credits"`
	}
}

// UpdateAdminCredits grants, revokes or sets admin credits. Privileged accounts only.
func (h *CreditHandler) UpdateAdminCredits(ctx context.Context, input *AdminCreditsInput) (*AdminCreditsOutput, error) {
	id, err := getIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if !id.Privileged {
		return nil, huma.Error403Forbidden("privileged access required")
	}

	var acct *models.Account
	switch input.Body.Action {
	case "grant":
		acct, err = h.credits.GrantAdminCredits(ctx, input.AccountID, input.Body.Amount)
	case "revoke":
		acct, err = h.credits.RevokeAdminCredits(ctx, input.AccountID, input.Body.Amount)
	case "set":
		acct, err = h.credits.SetAdminCredits(ctx, input.AccountID, input.Body.Amount)
	default:
		return nil, huma.Error400BadRequest("action must be grant, revoke or set")
	}
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		h.logger.ErrorContext(ctx, "failed to update admin credits", "account_id", input.AccountID, "error", err)
		return nil, huma.Error500InternalServerError("failed to update credits")
	}

	h.logger.InfoContext(ctx, "admin credits updated",
		"account_id", acct.ID,
		"action", input.Body.Action,
		"amount", input.Body.Amount,
		"admin_credits", acct.AdminCredits,
	)

	out := &AdminCreditsOutput{}
	out.Body.AccountID = acct.ID
	out.Body.PurchasedCredits = acct.PurchasedCredits
	out.Body.AdminCredits = acct.AdminCredits
	out.Body.TotalCredits = acct.TotalCredits()
	return out, nil
}

// ListPurchasesInput is the purchase history request.
type ListPurchasesInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"100"`
}

// ListPurchasesOutput is the purchase history response.
type ListPurchasesOutput struct {
	Body struct {
		Purchases []*models.CreditPurchase `json:"purchases"`
	}
}

// ListPurchases returns the signed-in caller's completed purchases, newest first.
func (h *CreditHandler) ListPurchases(ctx context.Context, input *ListPurchasesInput) (*ListPurchasesOutput, error) {
	id, err := getIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if !id.HasPersistedAccount {
		return nil, huma.Error401Unauthorized("sign in to see purchase history")
	}

	purchases, err := h.credits.ListPurchases(ctx, id.AccountID, input.Limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list purchases", "error", err)
		return nil, huma.Error500InternalServerError("failed to list purchases")
	}

	out := &ListPurchasesOutput{}
	out.Body.Purchases = purchases
	if out.Body.Purchases == nil {
		out.Body.Purchases = []*models.CreditPurchase{}
	}
	return out, nil
}
