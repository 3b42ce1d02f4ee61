package service

import (
	"fmt"

	"github.com/qmuntal/stateless"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

// Triggers are the target statuses themselves, so firing a transition reads
// as "move to X".

func paymentMachine(current domain.PaymentIntentStatus) *stateless.StateMachine {
	machine := stateless.NewStateMachine(current)

	machine.Configure(domain.PaymentIntentStatusPending).
		Permit(domain.PaymentIntentStatusProcessing, domain.PaymentIntentStatusProcessing).
		Permit(domain.PaymentIntentStatusSucceeded, domain.PaymentIntentStatusSucceeded).
		Permit(domain.PaymentIntentStatusFailed, domain.PaymentIntentStatusFailed).
		Permit(domain.PaymentIntentStatusCanceled, domain.PaymentIntentStatusCanceled)

	machine.Configure(domain.PaymentIntentStatusProcessing).
		Permit(domain.PaymentIntentStatusSucceeded, domain.PaymentIntentStatusSucceeded).
		Permit(domain.PaymentIntentStatusFailed, domain.PaymentIntentStatusFailed).
		Permit(domain.PaymentIntentStatusCanceled, domain.PaymentIntentStatusCanceled)

	// a failed attempt can be retried on the same hosted session
	machine.Configure(domain.PaymentIntentStatusFailed).
		Permit(domain.PaymentIntentStatusProcessing, domain.PaymentIntentStatusProcessing).
		Permit(domain.PaymentIntentStatusSucceeded, domain.PaymentIntentStatusSucceeded)

	machine.Configure(domain.PaymentIntentStatusSucceeded).
		Permit(domain.PaymentIntentStatusRefunded, domain.PaymentIntentStatusRefunded)

	machine.Configure(domain.PaymentIntentStatusRefunded).
		PermitReentry(domain.PaymentIntentStatusRefunded)

	machine.Configure(domain.PaymentIntentStatusCanceled)

	return machine
}

func subscriptionMachine(current domain.SubscriptionStatus) *stateless.StateMachine {
	machine := stateless.NewStateMachine(current)

	machine.Configure(domain.SubscriptionStatusIncomplete).
		Permit(domain.SubscriptionStatusTrialing, domain.SubscriptionStatusTrialing).
		Permit(domain.SubscriptionStatusActive, domain.SubscriptionStatusActive).
		Permit(domain.SubscriptionStatusPastDue, domain.SubscriptionStatusPastDue).
		Permit(domain.SubscriptionStatusCanceled, domain.SubscriptionStatusCanceled)

	machine.Configure(domain.SubscriptionStatusTrialing).
		Permit(domain.SubscriptionStatusActive, domain.SubscriptionStatusActive).
		Permit(domain.SubscriptionStatusPastDue, domain.SubscriptionStatusPastDue).
		Permit(domain.SubscriptionStatusCanceled, domain.SubscriptionStatusCanceled).
		Permit(domain.SubscriptionStatusUnpaid, domain.SubscriptionStatusUnpaid)

	machine.Configure(domain.SubscriptionStatusActive).
		Permit(domain.SubscriptionStatusPastDue, domain.SubscriptionStatusPastDue).
		Permit(domain.SubscriptionStatusCanceled, domain.SubscriptionStatusCanceled).
		Permit(domain.SubscriptionStatusUnpaid, domain.SubscriptionStatusUnpaid)

	machine.Configure(domain.SubscriptionStatusPastDue).
		Permit(domain.SubscriptionStatusActive, domain.SubscriptionStatusActive).
		Permit(domain.SubscriptionStatusCanceled, domain.SubscriptionStatusCanceled).
		Permit(domain.SubscriptionStatusUnpaid, domain.SubscriptionStatusUnpaid)

	machine.Configure(domain.SubscriptionStatusUnpaid).
		Permit(domain.SubscriptionStatusActive, domain.SubscriptionStatusActive).
		Permit(domain.SubscriptionStatusPastDue, domain.SubscriptionStatusPastDue).
		Permit(domain.SubscriptionStatusCanceled, domain.SubscriptionStatusCanceled)

	machine.Configure(domain.SubscriptionStatusCanceled)

	return machine
}

// transitionPayment returns nil when moving from -> to is allowed. Staying in
// the same status is always allowed.
func transitionPayment(from, to domain.PaymentIntentStatus) error {
	if from == to {
		return nil
	}
	if err := paymentMachine(from).Fire(to); err != nil {
		return fmt.Errorf("%w: payment %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	return nil
}

func transitionSubscription(from, to domain.SubscriptionStatus) error {
	if from == to {
		return nil
	}
	if err := subscriptionMachine(from).Fire(to); err != nil {
		return fmt.Errorf("%w: subscription %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	return nil
}
