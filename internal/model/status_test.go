package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_CanTransition(t *testing.T) {
	allowed := map[OrderStatus]map[OrderStatus]bool{
		OrderStatusPending:        {OrderStatusConfirmed: true, OrderStatusCancelled: true, OrderStatusRejected: true},
		OrderStatusConfirmed:      {OrderStatusPreparing: true, OrderStatusCancelled: true, OrderStatusRejected: true},
		OrderStatusPreparing:      {OrderStatusReady: true, OrderStatusCancelled: true},
		OrderStatusReady:          {OrderStatusOutForDelivery: true, OrderStatusDelivered: true, OrderStatusCancelled: true},
		OrderStatusOutForDelivery: {OrderStatusDelivered: true, OrderStatusCancelled: true},
	}

	for _, from := range AllOrderStatuses() {
		for _, to := range AllOrderStatuses() {
			want := allowed[from][to]
			assert.Equalf(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestOrderStatus_TerminalHaveNoTransitions(t *testing.T) {
	for _, s := range AllOrderStatuses() {
		if !s.IsTerminal() {
			assert.NotEmpty(t, s.NextStatuses(), "non-terminal %s must have transitions", s)
			continue
		}
		assert.Empty(t, s.NextStatuses(), "terminal %s must not have transitions", s)
	}
}

func TestOrderStatus_ReadyCannotGoBackToConfirmed(t *testing.T) {
	assert.False(t, OrderStatusReady.CanTransition(OrderStatusConfirmed))
	assert.False(t, OrderStatusReady.CanTransition(OrderStatusPreparing))
	assert.False(t, OrderStatusDelivered.CanTransition(OrderStatusReady))
}

func TestOrderStatus_Valid(t *testing.T) {
	assert.True(t, OrderStatusOutForDelivery.Valid())
	assert.False(t, OrderStatus("COOKING").Valid())
}

func TestPaymentStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentStatusPending, PaymentStatusPaid, true},
		{PaymentStatusPending, PaymentStatusExpired, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPaid, PaymentStatusRefunded, true},
		{PaymentStatusPending, PaymentStatusRefunded, false},
		{PaymentStatusPaid, PaymentStatusPending, false},
		{PaymentStatusPaid, PaymentStatusPaid, false},
		{PaymentStatusExpired, PaymentStatusPaid, false},
		{PaymentStatusFailed, PaymentStatusPaid, false},
		{PaymentStatusRefunded, PaymentStatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}
