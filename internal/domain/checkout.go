package domain

// CheckoutItem is what the client asks to buy. Prices never travel with it.
type CheckoutItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineItem is a priced row sent to the payment gateway.
type LineItem struct {
	ProductID   string
	ProductName string
	UnitAmount  int64
	Quantity    int
}

type SessionRequest struct {
	UserID     string
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
	Currency   string
}

type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "open"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusExpired  SessionStatus = "expired"
)

type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// PaidItem is a purchased line item as reported back by the gateway. Err is
// set when the line item could not be mapped to a catalog product; such an
// item fails on its own without affecting the rest of the session.
type PaidItem struct {
	ProductID  string
	Quantity   int
	UnitAmount int64
	Err        error
}

// CheckoutSession is the gateway's view of a session.
type CheckoutSession struct {
	ID            string
	URL           string
	UserID        string
	Status        SessionStatus
	PaymentStatus PaymentStatus
	Items         []PaidItem
}

func (s *CheckoutSession) IsPaid() bool {
	return s.Status == SessionStatusComplete &&
		(s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired)
}

// Gateway event types that grant ownership.
const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// GatewayEvent is a verified webhook delivery. DecodeErr is set when the
// signature was valid but the event object could not be read.
type GatewayEvent struct {
	ID        string
	Type      string
	SessionID string
	UserID    string
	DecodeErr error
}

func (e *GatewayEvent) GrantsOwnership() bool {
	return e.Type == EventCheckoutCompleted || e.Type == EventCheckoutAsyncPaymentSucceeded
}
