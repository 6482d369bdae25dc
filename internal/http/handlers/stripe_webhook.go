package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/jmylchreest/pawtalk-api/internal/service"
)

// Checkout session metadata keys set when the checkout is created.
const (
	metaCredits   = "credits"
	metaAccountID = "account_id"
	metaIdentity  = "identity"
)

// StripeWebhookHandler handles Stripe webhook events.
type StripeWebhookHandler struct {
	secret         string
	credits        *service.CreditService
	defaultCredits int
	logger         *slog.Logger
}

// NewStripeWebhookHandler creates a new Stripe webhook handler.
func NewStripeWebhookHandler(secret string, credits *service.CreditService, defaultCredits int, logger *slog.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		secret:         secret,
		credits:        credits,
		defaultCredits: defaultCredits,
		logger:         logger.With("component", "stripe_webhook"),
	}
}

// HandleWebhook processes incoming Stripe webhooks.
// This is a raw HTTP handler since the signature covers the exact body bytes.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.handleEvent(r.Context(), event); err != nil {
		// Purchases are idempotent on the payment id, so a retry is safe.
		h.logger.Error("failed to handle webhook event", "type", event.Type, "id", event.ID, "error", err)
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleEvent routes events to appropriate handlers.
func (h *StripeWebhookHandler) handleEvent(ctx context.Context, event stripe.Event) error {
	h.logger.Info("received Stripe webhook", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return h.handleCheckoutComplete(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleCheckoutComplete credits a paid checkout to an account or an anonymous identity.
func (h *StripeWebhookHandler) handleCheckoutComplete(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logger.Info("checkout not paid yet", "session_id", session.ID, "payment_status", session.PaymentStatus)
		return nil
	}

	in := service.PurchaseInput{
		PaymentRef:  session.ID,
		AccountID:   session.Metadata[metaAccountID],
		Identity:    session.Metadata[metaIdentity],
		Credits:     h.defaultCredits,
		AmountCents: session.AmountTotal,
		Currency:    string(session.Currency),
	}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		in.PaymentRef = session.PaymentIntent.ID
	}
	if raw := session.Metadata[metaCredits]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.logger.Warn("checkout has invalid credits metadata", "session_id", session.ID, "credits", raw)
			return nil
		}
		in.Credits = n
	}

	if in.AccountID == "" && in.Identity == "" {
		h.logger.Warn("checkout session missing buyer metadata", "session_id", session.ID)
		return nil // Don't error - might be a checkout for something else
	}

	purchase, err := h.credits.ApplyPurchase(ctx, in)
	if err != nil {
		if errors.Is(err, service.ErrDuplicatePayment) {
			h.logger.Info("duplicate checkout payment ignored", "payment_ref", in.PaymentRef)
			return nil
		}
		if errors.Is(err, service.ErrInvalidInput) {
			h.logger.Warn("checkout rejected", "session_id", session.ID, "error", err)
			return nil
		}
		return fmt.Errorf("failed to apply purchase: %w", err)
	}

	h.logger.Info("added purchased credits",
		"purchase_id", purchase.ID,
		"account_id", in.AccountID,
		"identity", in.Identity,
		"credits", in.Credits,
		"payment_ref", in.PaymentRef,
	)
	return nil
}
