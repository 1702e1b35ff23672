package domain

import "time"

const (
	EventTypeCheckoutSubmitted = "CheckoutSubmitted"
	EventTypePaymentConfirmed  = "PaymentConfirmed"
)

// CheckoutSubmittedPayload is handed to order processing when a wizard
// completes with an offline payment method.
type CheckoutSubmittedPayload struct {
	CheckoutID      string          `json:"checkout_id"`
	UserID          string          `json:"user_id"`
	PersonalInfo    PersonalInfo    `json:"personal_info"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Items           []CartLineItem  `json:"items"`
	TotalAmount     int64           `json:"total_amount"`
	Currency        string          `json:"currency"`
	SubmittedAt     time.Time       `json:"submitted_at"`
}

type PaymentConfirmedPayload struct {
	BuyOrder          string    `json:"buy_order"`
	UserID            string    `json:"user_id"`
	CheckoutID        string    `json:"checkout_id,omitempty"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	AuthorizationCode string    `json:"authorization_code"`
	CardNumber        string    `json:"card_number"`
	PaymentTypeCode   string    `json:"payment_type_code"`
	ConfirmedAt       time.Time `json:"confirmed_at"`
}
