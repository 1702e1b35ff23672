package domain

import "time"

type PaymentSessionStatus string

const (
	PaymentSessionCreated  PaymentSessionStatus = "CREATED"
	PaymentSessionApproved PaymentSessionStatus = "APPROVED"
	PaymentSessionDeclined PaymentSessionStatus = "DECLINED"
	PaymentSessionAborted  PaymentSessionStatus = "ABORTED"
	PaymentSessionExpired  PaymentSessionStatus = "EXPIRED"
)

func (s PaymentSessionStatus) IsTerminal() bool {
	return s != PaymentSessionCreated
}

func (s PaymentSessionStatus) String() string {
	return string(s)
}

// PaymentSession is one redirect payment attempt opened with the card gateway.
type PaymentSession struct {
	Token      string               `json:"token"`
	FormAction string               `json:"formAction"`
	BuyOrderID string               `json:"buyOrder"`
	SessionID  string               `json:"sessionId"`
	UserID     string               `json:"-"`
	CheckoutID string               `json:"-"`
	Amount     int64                `json:"amount"`
	Status     PaymentSessionStatus `json:"status"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// PaymentConfirmation is the normalized commit result of a gateway transaction.
type PaymentConfirmation struct {
	Status            string    `json:"status"`
	Amount            int64     `json:"amount"`
	BuyOrder          string    `json:"buyOrder"`
	SessionID         string    `json:"-"`
	TransactionDate   time.Time `json:"transactionDate"`
	CardNumber        string    `json:"cardNumber"`
	PaymentTypeCode   string    `json:"paymentTypeCode"`
	ResponseCode      int       `json:"responseCode"`
	AuthorizationCode string    `json:"authorizationCode,omitempty"`
	Installments      int       `json:"installmentsNumber,omitempty"`
}

// Approved reports whether the processor authorized the charge. Response
// code 0 is the only approval code.
func (c *PaymentConfirmation) Approved() bool {
	return c.ResponseCode == 0
}

// MaskedCard renders the card tail the gateway returns as ****1234.
func (c *PaymentConfirmation) MaskedCard() string {
	if c.CardNumber == "" {
		return ""
	}
	tail := c.CardNumber
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "****" + tail
}
