package domain

import (
	"time"

	"github.com/google/uuid"
)

// FreeSessionID marks purchases granted without a payment session.
const FreeSessionID = "free"

// PurchaseSource identifies which path granted ownership.
type PurchaseSource string

const (
	SourceWebhook   PurchaseSource = "webhook"
	SourceReconcile PurchaseSource = "reconcile"
	SourceFree      PurchaseSource = "free"
)

type ProductSnapshot struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageRef    string `json:"image_ref"`
	Author      string `json:"author"`
	DownloadURL string `json:"download_url,omitempty"`
	Game        string `json:"game,omitempty"`
}

// Purchase records that a user owns a product. There is at most one per
// (UserID, ProductID).
type Purchase struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	ProductID       string          `json:"product_id"`
	SessionID       string          `json:"session_id"`
	PriceAtPurchase int64           `json:"price_at_purchase"`
	Quantity        int             `json:"quantity"`
	Source          PurchaseSource  `json:"source"`
	Product         ProductSnapshot `json:"product"`
	PurchasedAt     time.Time       `json:"purchased_at"`
}

func NewPurchase(userID, sessionID string, source PurchaseSource, p *Product, item PaidItem) *Purchase {
	qty := item.Quantity
	if qty < 1 {
		qty = 1
	}
	return &Purchase{
		ID:              uuid.New(),
		UserID:          userID,
		ProductID:       p.ID,
		SessionID:       sessionID,
		PriceAtPurchase: item.UnitAmount,
		Quantity:        qty,
		Source:          source,
		Product:         p.Snapshot(),
		PurchasedAt:     time.Now().UTC(),
	}
}

// PurchaseGranted is the broker payload emitted for every new purchase.
type PurchaseGranted struct {
	PurchaseID  uuid.UUID `json:"purchase_id"`
	UserID      string    `json:"user_id"`
	ProductID   string    `json:"product_id"`
	SessionID   string    `json:"session_id"`
	PurchasedAt time.Time `json:"purchased_at"`
}

const EventPurchaseGranted = "purchase.granted"
