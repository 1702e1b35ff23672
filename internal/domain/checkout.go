package domain

import (
	"errors"
	"fmt"
	"strings"
)

type PaymentMethod string

const (
	PaymentMethodBankTransfer     PaymentMethod = "bank_transfer"
	PaymentMethodThirdPartyWallet PaymentMethod = "third_party_wallet"
	PaymentMethodCardGateway      PaymentMethod = "card_gateway"
)

// storefront forms post the Spanish labels
var paymentMethodAliases = map[string]PaymentMethod{
	"transferencia": PaymentMethodBankTransfer,
	"mercadopago":   PaymentMethodThirdPartyWallet,
	"webpay":        PaymentMethodCardGateway,
}

var ErrUnknownPaymentMethod = errors.New("unknown payment method")

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch m := PaymentMethod(s); m {
	case PaymentMethodBankTransfer, PaymentMethodThirdPartyWallet, PaymentMethodCardGateway:
		return m, nil
	}
	if m, ok := paymentMethodAliases[s]; ok {
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, s)
}

// UsesGateway reports whether the method completes through the redirect card gateway.
func (m PaymentMethod) UsesGateway() bool {
	return m == PaymentMethodCardGateway
}

type PersonalInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type ShippingAddress struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
}

type PaymentDetails struct {
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	TermsAccepted bool          `json:"termsAccepted"`
}

// CheckoutData accumulates the validated form sections of the wizard.
type CheckoutData struct {
	PersonalInfo    *PersonalInfo    `json:"personalInfo,omitempty"`
	ShippingAddress *ShippingAddress `json:"shippingAddress,omitempty"`
	PaymentDetails  *PaymentDetails  `json:"paymentDetails,omitempty"`
}
