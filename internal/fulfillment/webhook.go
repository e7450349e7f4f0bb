package fulfillment

import (
	"context"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/metrics"
)

type SessionRetriever interface {
	RetrieveSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error)
}

// Gateway is what the webhook path needs from the payment provider.
type Gateway interface {
	SessionRetriever
	ParseWebhook(payload []byte, signatureHeader string) (*domain.GatewayEvent, error)
}

// WebhookResult describes what a delivery did. Processed is false for
// deliveries that were acknowledged without granting anything.
type WebhookResult struct {
	EventID   string       `json:"event_id"`
	Type      string       `json:"type"`
	Processed bool         `json:"processed"`
	Items     []ItemResult `json:"items,omitempty"`
}

type WebhookHandler struct {
	gateway Gateway
	granter *Granter
	metrics *metrics.Metrics
}

func NewWebhookHandler(gateway Gateway, granter *Granter, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{
		gateway: gateway,
		granter: granter,
		metrics: m,
	}
}

// Handle verifies and processes one gateway delivery. An error means the
// delivery must not be acknowledged: either the signature is invalid or the
// session could not be retrieved and the gateway should redeliver.
func (h *WebhookHandler) Handle(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	event, err := h.gateway.ParseWebhook(payload, signatureHeader)
	if err != nil {
		h.metrics.WebhookEvent("unknown", "invalid_signature")
		logger.FromContext(ctx).Warn().Err(err).Msg("webhook signature rejected")
		return nil, err
	}

	log := logger.FromContext(ctx).With().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("session_id", event.SessionID).
		Logger()
	res := &WebhookResult{EventID: event.ID, Type: event.Type}

	if !event.GrantsOwnership() {
		h.metrics.WebhookEvent(event.Type, "ignored")
		log.Debug().Msg("webhook event ignored")
		return res, nil
	}
	if event.DecodeErr != nil {
		h.metrics.WebhookEvent(event.Type, "malformed")
		log.Error().Err(event.DecodeErr).Msg("webhook event object unreadable, acknowledging")
		return res, nil
	}
	if event.UserID == "" || event.SessionID == "" {
		h.metrics.WebhookEvent(event.Type, "missing_user")
		log.Warn().Msg("checkout session has no user correlation, acknowledging")
		return res, nil
	}

	session, err := h.gateway.RetrieveSession(ctx, event.SessionID)
	if err != nil {
		h.metrics.WebhookEvent(event.Type, "retrieve_failed")
		log.Error().Err(err).Msg("retrieve checkout session failed")
		return nil, err
	}
	if !session.IsPaid() {
		h.metrics.WebhookEvent(event.Type, "unpaid")
		log.Info().
			Str("status", string(session.Status)).
			Str("payment_status", string(session.PaymentStatus)).
			Msg("checkout session not paid yet, acknowledging")
		return res, nil
	}

	res.Items, err = h.granter.Grant(ctx, event.UserID, session.ID, domain.SourceWebhook, session.Items)
	res.Processed = true
	if err != nil {
		h.metrics.WebhookEvent(event.Type, "partial")
		log.Error().Err(err).Msg("webhook grants partially failed")
		return res, nil
	}

	h.metrics.WebhookEvent(event.Type, "processed")
	return res, nil
}
