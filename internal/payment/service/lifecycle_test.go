package service

import (
	"testing"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
)

func TestPaymentTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.PaymentIntentStatus
		ok       bool
	}{
		{domain.PaymentIntentStatusPending, domain.PaymentIntentStatusProcessing, true},
		{domain.PaymentIntentStatusPending, domain.PaymentIntentStatusSucceeded, true},
		{domain.PaymentIntentStatusProcessing, domain.PaymentIntentStatusFailed, true},
		{domain.PaymentIntentStatusFailed, domain.PaymentIntentStatusSucceeded, true},
		{domain.PaymentIntentStatusSucceeded, domain.PaymentIntentStatusRefunded, true},
		{domain.PaymentIntentStatusRefunded, domain.PaymentIntentStatusRefunded, true},
		{domain.PaymentIntentStatusSucceeded, domain.PaymentIntentStatusSucceeded, true},
		{domain.PaymentIntentStatusSucceeded, domain.PaymentIntentStatusProcessing, false},
		{domain.PaymentIntentStatusSucceeded, domain.PaymentIntentStatusFailed, false},
		{domain.PaymentIntentStatusPending, domain.PaymentIntentStatusRefunded, false},
		{domain.PaymentIntentStatusCanceled, domain.PaymentIntentStatusSucceeded, false},
		{domain.PaymentIntentStatusRefunded, domain.PaymentIntentStatusSucceeded, false},
	}
	for _, tc := range cases {
		err := transitionPayment(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestSubscriptionTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.SubscriptionStatus
		ok       bool
	}{
		{domain.SubscriptionStatusTrialing, domain.SubscriptionStatusActive, true},
		{domain.SubscriptionStatusActive, domain.SubscriptionStatusPastDue, true},
		{domain.SubscriptionStatusPastDue, domain.SubscriptionStatusActive, true},
		{domain.SubscriptionStatusPastDue, domain.SubscriptionStatusUnpaid, true},
		{domain.SubscriptionStatusActive, domain.SubscriptionStatusCanceled, true},
		{domain.SubscriptionStatusIncomplete, domain.SubscriptionStatusActive, true},
		{domain.SubscriptionStatusActive, domain.SubscriptionStatusActive, true},
		{domain.SubscriptionStatusCanceled, domain.SubscriptionStatusActive, false},
		{domain.SubscriptionStatusActive, domain.SubscriptionStatusTrialing, false},
		{domain.SubscriptionStatusActive, domain.SubscriptionStatusIncomplete, false},
	}
	for _, tc := range cases {
		err := transitionSubscription(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		}
	}
}
