package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

func TestAddToCart_MergesExistingLine(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	prizeID := seedPrize(t, svc, "mug", 30, 10)

	cart, err := svc.AddToCart(ctx, userID, prizeID, 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(2), cart.Items[0].Quantity)

	cart, err = svc.AddToCart(ctx, userID, prizeID, 3)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(5), cart.Items[0].Quantity)
	assert.Equal(t, int64(150), cart.TotalCost())
}

func TestAddToCart_PriceFixedAtFirstAdd(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	prizeID := seedPrize(t, svc, "mug", 30, 10)

	_, err := svc.AddToCart(ctx, userID, prizeID, 1)
	require.NoError(t, err)

	// Подорожание приза не меняет цену уже лежащей в корзине строки.
	require.NoError(t, svc.UpdatePrize(ctx, adminScope(), &model.Prize{
		ID:       prizeID,
		Name:     "mug",
		Cost:     50,
		Quantity: 10,
		IsActive: true,
	}))

	cart, err := svc.AddToCart(ctx, userID, prizeID, 1)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(30), cart.Items[0].PriceAtTime)
	assert.Equal(t, int64(60), cart.TotalCost())
}

func TestAddToCart_RejectsBeyondStock(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	prizeID := seedPrize(t, svc, "mug", 30, 2)

	_, err := svc.AddToCart(ctx, userID, prizeID, 2)
	require.NoError(t, err)

	_, err = svc.AddToCart(ctx, userID, prizeID, 1)
	assert.True(t, errors.Is(err, model.ErrInsufficientStock), "got error %v", err)
}

func TestAddToCart_InactivePrize(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	prizeID := seedPrize(t, svc, "mug", 30, 5)

	require.NoError(t, svc.UpdatePrize(ctx, adminScope(), &model.Prize{
		ID:       prizeID,
		Name:     "mug",
		Cost:     30,
		Quantity: 5,
		IsActive: false,
	}))

	_, err := svc.AddToCart(ctx, userID, prizeID, 1)
	assert.True(t, errors.Is(err, model.ErrPrizeUnavailable), "got error %v", err)
}

func TestAddToCart_NonPositiveQuantity(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	prizeID := seedPrize(t, svc, "mug", 30, 5)

	_, err := svc.AddToCart(ctx, userID, prizeID, 0)
	assert.True(t, errors.Is(err, model.ErrValidation), "got error %v", err)

	_, err = svc.AddToCart(ctx, userID, prizeID, -1)
	assert.True(t, errors.Is(err, model.ErrValidation), "got error %v", err)
}

func TestUpdateCartItem_ChangesQuantity(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	prizeID := seedPrize(t, svc, "mug", 30, 10)

	_, err := svc.AddToCart(ctx, userID, prizeID, 2)
	require.NoError(t, err)

	cart, err := svc.UpdateCartItem(ctx, userID, prizeID, 5)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(5), cart.Items[0].Quantity)
}

func TestUpdateCartItem_ZeroRemovesLine(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	prizeID := seedPrize(t, svc, "mug", 30, 10)

	_, err := svc.AddToCart(ctx, userID, prizeID, 2)
	require.NoError(t, err)

	cart, err := svc.UpdateCartItem(ctx, userID, prizeID, 0)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestUpdateCartItem_MissingLine(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	prizeID := seedPrize(t, svc, "mug", 30, 10)

	_, err := svc.UpdateCartItem(ctx, userID, prizeID, 1)
	assert.True(t, errors.Is(err, model.ErrNotFound), "got error %v", err)
}

func TestRemoveCartItem(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	mugID := seedPrize(t, svc, "mug", 30, 10)
	shakerID := seedPrize(t, svc, "shaker", 20, 10)

	_, err := svc.AddToCart(ctx, userID, mugID, 1)
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, userID, shakerID, 1)
	require.NoError(t, err)

	cart, err := svc.RemoveCartItem(ctx, userID, mugID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, shakerID, cart.Items[0].PrizeID)
}

func TestClearCart(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, _ := registerBartender(t, svc, "bartender1")
	prizeID := seedPrize(t, svc, "mug", 30, 10)

	_, err := svc.AddToCart(ctx, userID, prizeID, 2)
	require.NoError(t, err)

	require.NoError(t, svc.ClearCart(ctx, userID))

	cart, err := svc.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}
