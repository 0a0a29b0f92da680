package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestVerificationEffect(t *testing.T) {
	tests := []struct {
		name       string
		current    VerificationStatus
		target     VerificationStatus
		wantEffect BalanceEffect
		wantChange bool
		wantErr    bool
	}{
		{
			name:       "approve pending credits points",
			current:    SalePending,
			target:     SaleApproved,
			wantEffect: EffectCredit,
			wantChange: true,
		},
		{
			name:       "approve rejected credits points",
			current:    SaleRejected,
			target:     SaleApproved,
			wantEffect: EffectCredit,
			wantChange: true,
		},
		{
			name:       "reject approved reverses points",
			current:    SaleApproved,
			target:     SaleRejected,
			wantEffect: EffectReverse,
			wantChange: true,
		},
		{
			name:       "reject pending changes status only",
			current:    SalePending,
			target:     SaleRejected,
			wantEffect: EffectNone,
			wantChange: true,
		},
		{
			name:       "re-approve is a notes-only no-op",
			current:    SaleApproved,
			target:     SaleApproved,
			wantEffect: EffectNone,
			wantChange: false,
		},
		{
			name:       "re-reject is a notes-only no-op",
			current:    SaleRejected,
			target:     SaleRejected,
			wantEffect: EffectNone,
			wantChange: false,
		},
		{
			name:       "pending to pending is a notes-only no-op",
			current:    SalePending,
			target:     SalePending,
			wantEffect: EffectNone,
			wantChange: false,
		},
		{
			name:       "back to pending from approved is not a transition",
			current:    SaleApproved,
			target:     SalePending,
			wantEffect: EffectNone,
			wantChange: false,
		},
		{
			name:    "unknown target status",
			current: SalePending,
			target:  VerificationStatus("escalated"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect, changed, err := VerificationEffect(tt.current, tt.target)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation), "got error %v", err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantEffect, effect)
			assert.Equal(t, tt.wantChange, changed)
		})
	}
}

func TestIsDecisionChange(t *testing.T) {
	assert.True(t, IsDecisionChange(SaleApproved, SaleRejected))
	assert.True(t, IsDecisionChange(SaleRejected, SaleApproved))

	// Первое решение по pending и возврат в pending исправлениями не считаются.
	assert.False(t, IsDecisionChange(SalePending, SaleApproved))
	assert.False(t, IsDecisionChange(SalePending, SaleRejected))
	assert.False(t, IsDecisionChange(SaleApproved, SalePending))
	assert.False(t, IsDecisionChange(SaleApproved, SaleApproved))
}

func TestCanAdvanceOrder(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderPending, OrderConfirmed, true},
		{OrderConfirmed, OrderProcessing, true},
		{OrderProcessing, OrderShipped, true},
		{OrderShipped, OrderDelivered, true},

		{OrderPending, OrderProcessing, false},
		{OrderPending, OrderDelivered, false},
		{OrderConfirmed, OrderPending, false},
		{OrderDelivered, OrderShipped, false},
		{OrderCancelled, OrderConfirmed, false},
		{OrderDelivered, OrderDelivered, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanAdvanceOrder(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestCanCancelOrder(t *testing.T) {
	assert.True(t, CanCancelOrder(OrderPending))
	assert.True(t, CanCancelOrder(OrderConfirmed))

	assert.False(t, CanCancelOrder(OrderProcessing))
	assert.False(t, CanCancelOrder(OrderShipped))
	assert.False(t, CanCancelOrder(OrderDelivered))
	assert.False(t, CanCancelOrder(OrderCancelled))
}

func TestTransactionBalanceEffect(t *testing.T) {
	tests := []struct {
		txnType TransactionType
		want    int64
	}{
		{TxnEarning, 100},
		{TxnRefund, 100},
		{TxnBonus, 100},
		{TxnReversal, -100},
		{TxnRedemption, -100},
		{TxnWithdrawal, -100},
	}

	for _, tt := range tests {
		txn := Transaction{Type: tt.txnType, Amount: 100}
		assert.Equal(t, tt.want, txn.BalanceEffect(), "type %s", tt.txnType)
	}
}

func TestPrizeIsAvailable(t *testing.T) {
	now := mustParseTime(t, "2025-06-01T12:00:00Z")
	future := mustParseTime(t, "2025-07-01T00:00:00Z")
	past := mustParseTime(t, "2025-05-01T00:00:00Z")

	assert.True(t, Prize{IsActive: true, Quantity: 1, ExpiresAt: &future}.IsAvailable(now))
	assert.True(t, Prize{IsActive: true, Quantity: 1}.IsAvailable(now))

	assert.False(t, Prize{IsActive: false, Quantity: 1}.IsAvailable(now))
	assert.False(t, Prize{IsActive: true, Quantity: 0}.IsAvailable(now))
	assert.False(t, Prize{IsActive: true, Quantity: 1, ExpiresAt: &past}.IsAvailable(now))
	assert.False(t, Prize{IsActive: true, Quantity: 1, ExpiresAt: &now}.IsAvailable(now))
}

func TestCartTotalCost(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{PrizeID: 1, Quantity: 2, PriceAtTime: 100},
		{PrizeID: 2, Quantity: 1, PriceAtTime: 250},
	}}

	assert.Equal(t, int64(450), cart.TotalCost())
	assert.Equal(t, int64(0), Cart{}.TotalCost())
}
