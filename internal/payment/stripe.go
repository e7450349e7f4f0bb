package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/circuitbreaker"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	// MetadataUserID carries the buyer's identity from checkout to fulfillment.
	MetadataUserID = "userId"
	// MetadataProductID is attached to each line item's product data.
	MetadataProductID = "product_id"

	lineItemPageSize = 100
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BackendURL overrides the Stripe API endpoint. Empty means production.
	BackendURL string
	Breaker    circuitbreaker.Settings
}

// StripeGateway implements session creation, retrieval and webhook
// verification against Stripe Checkout.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	createBreaker *circuitbreaker.Breaker[*stripe.CheckoutSession]
	getBreaker    *circuitbreaker.Breaker[*domain.CheckoutSession]
}

func NewStripeGateway(cfg Config) *StripeGateway {
	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripe.String(cfg.BackendURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg = circuitbreaker.DefaultSettings("stripe")
	}

	return &StripeGateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		createBreaker: circuitbreaker.New[*stripe.CheckoutSession](breakerCfg, isClientError),
		getBreaker:    circuitbreaker.New[*domain.CheckoutSession](breakerCfg, isClientError),
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if req.UserID != "" {
		params.ClientReferenceID = stripe.String(req.UserID)
		params.AddMetadata(MetadataUserID, req.UserID)
	}

	for _, li := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(li.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(li.ProductName),
					Metadata: map[string]string{MetadataProductID: li.ProductID},
				},
			},
			Quantity: stripe.Int64(int64(li.Quantity)),
		})
	}

	s, err := g.createBreaker.Execute(func() (*stripe.CheckoutSession, error) {
		return g.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", domain.ErrUpstream, err)
	}

	return &domain.CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		UserID:        s.Metadata[MetadataUserID],
		Status:        domain.SessionStatus(s.Status),
		PaymentStatus: domain.PaymentStatus(s.PaymentStatus),
	}, nil
}

// RetrieveSession fetches a session together with all of its line items.
// An unknown id yields domain.ErrSessionNotFound.
func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	out, err := g.getBreaker.Execute(func() (*domain.CheckoutSession, error) {
		return g.retrieve(ctx, sessionID)
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve checkout session %s: %v", domain.ErrUpstream, sessionID, err)
	}
	return out, nil
}

func (g *StripeGateway) retrieve(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
		return nil, err
	}

	out := &domain.CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		UserID:        userIDFromSession(s),
		Status:        domain.SessionStatus(s.Status),
		PaymentStatus: domain.PaymentStatus(s.PaymentStatus),
	}

	listParams := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(lineItemPageSize)
	listParams.AddExpand("data.price.product")

	iter := g.api.CheckoutSessions.ListLineItems(listParams)
	for iter.Next() {
		out.Items = append(out.Items, paidItem(iter.LineItem()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}

	return out, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*domain.GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	out := &domain.GatewayEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if !strings.HasPrefix(out.Type, "checkout.session.") || event.Data == nil {
		return out, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		out.DecodeErr = fmt.Errorf("%w: decode checkout session from event %s: %v", domain.ErrDataIntegrity, event.ID, err)
		return out, nil
	}
	out.SessionID = s.ID
	out.UserID = userIDFromSession(&s)
	return out, nil
}

func userIDFromSession(s *stripe.CheckoutSession) string {
	if s.Metadata != nil {
		if id := s.Metadata[MetadataUserID]; id != "" {
			return id
		}
	}
	return ""
}

// paidItem never fails the whole session: a line item without product
// metadata comes back with Err set.
func paidItem(li *stripe.LineItem) domain.PaidItem {
	item := domain.PaidItem{Quantity: int(li.Quantity)}
	if li.Price == nil || li.Price.Product == nil {
		item.Err = fmt.Errorf("%w: line item %s has no product", domain.ErrDataIntegrity, li.ID)
		return item
	}
	item.UnitAmount = li.Price.UnitAmount
	item.ProductID = li.Price.Product.Metadata[MetadataProductID]
	if item.ProductID == "" {
		item.Err = fmt.Errorf("%w: line item %s has no %s metadata", domain.ErrDataIntegrity, li.ID, MetadataProductID)
	}
	return item
}

func isNotFound(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && (se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing)
}

// isClientError keeps 4xx answers from tripping the breaker.
func isClientError(err error) bool {
	if errors.Is(err, domain.ErrSessionNotFound) {
		return true
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}
