package domain

import (
	"errors"
	"fmt"
)

type CheckoutStep int

const (
	StepPersonalInfo    CheckoutStep = 1
	StepShippingAddress CheckoutStep = 2
	StepPaymentDetails  CheckoutStep = 3
)

func (s CheckoutStep) String() string {
	switch s {
	case StepPersonalInfo:
		return "personal_info"
	case StepShippingAddress:
		return "shipping_address"
	case StepPaymentDetails:
		return "payment_details"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

type WizardStatus string

const (
	WizardStatusInProgress      WizardStatus = "IN_PROGRESS"
	WizardStatusAwaitingPayment WizardStatus = "AWAITING_PAYMENT"
	WizardStatusSubmitted       WizardStatus = "SUBMITTED"
)

func (s WizardStatus) IsTerminal() bool {
	return s == WizardStatusSubmitted
}

func (s WizardStatus) String() string {
	return string(s)
}

type WizardEvent string

const (
	EventNext                WizardEvent = "NEXT"
	EventBack                WizardEvent = "BACK"
	EventSubmitPersonalInfo  WizardEvent = "SUBMIT_PERSONAL_INFO"
	EventSubmitShipping      WizardEvent = "SUBMIT_SHIPPING_ADDRESS"
	EventSubmitPayment       WizardEvent = "SUBMIT_PAYMENT_DETAILS"
	EventSubmitGatewayMethod WizardEvent = "SUBMIT_GATEWAY_PAYMENT_DETAILS"
)

var ErrInvalidTransition = errors.New("invalid wizard transition")

type InvalidTransitionError struct {
	Step   CheckoutStep
	Status WizardStatus
	Event  WizardEvent
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid wizard transition: %s on step %d (%s)", e.Event, e.Step, e.Status)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// WizardState is the position of one checkout wizard.
type WizardState struct {
	Step   CheckoutStep `json:"step"`
	Status WizardStatus `json:"status"`
}

func InitialWizardState() WizardState {
	return WizardState{Step: StepPersonalInfo, Status: WizardStatusInProgress}
}

// Transition is the wizard's pure step function. Next and Back clamp to the
// step range; form submissions are only legal on their own step.
func Transition(state WizardState, event WizardEvent) (WizardState, error) {
	if state.Status.IsTerminal() {
		return state, &InvalidTransitionError{Step: state.Step, Status: state.Status, Event: event}
	}

	switch event {
	case EventNext:
		return WizardState{Step: clampStep(state.Step + 1), Status: WizardStatusInProgress}, nil
	case EventBack:
		return WizardState{Step: clampStep(state.Step - 1), Status: WizardStatusInProgress}, nil
	case EventSubmitPersonalInfo:
		if state.Step == StepPersonalInfo {
			return WizardState{Step: StepShippingAddress, Status: WizardStatusInProgress}, nil
		}
	case EventSubmitShipping:
		if state.Step == StepShippingAddress {
			return WizardState{Step: StepPaymentDetails, Status: WizardStatusInProgress}, nil
		}
	case EventSubmitPayment:
		if state.Step == StepPaymentDetails {
			return WizardState{Step: StepPaymentDetails, Status: WizardStatusSubmitted}, nil
		}
	case EventSubmitGatewayMethod:
		// the card gateway keeps the wizard on the last step until the
		// shopper triggers payment
		if state.Step == StepPaymentDetails {
			return WizardState{Step: StepPaymentDetails, Status: WizardStatusAwaitingPayment}, nil
		}
	}

	return state, &InvalidTransitionError{Step: state.Step, Status: state.Status, Event: event}
}

func clampStep(s CheckoutStep) CheckoutStep {
	if s < StepPersonalInfo {
		return StepPersonalInfo
	}
	if s > StepPaymentDetails {
		return StepPaymentDetails
	}
	return s
}
