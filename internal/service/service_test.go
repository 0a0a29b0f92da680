package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/barpoints-system/internal/model"
	"github.com/mmeshcher/barpoints-system/internal/role"
)

func TestRegisterUser_DuplicateLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.RegisterUser(ctx, "bartender1", "pass", "bartender", nil, nil)
	require.NoError(t, err)

	_, err = svc.RegisterUser(ctx, "bartender1", "other", "bartender", nil, nil)
	assert.True(t, errors.Is(err, model.ErrUserExists), "got error %v", err)
}

func TestRegisterUser_RoleRefForms(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	// Три формы ссылки на роль равнозначны.
	for _, ref := range []string{"bar_manager", "role:bar_manager", "3"} {
		login := "manager-" + ref
		id, err := svc.RegisterUser(ctx, login, "pass", ref, nil, nil)
		require.NoError(t, err, "role ref %q", ref)

		scope, err := svc.ScopeForUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.RoleBarManager, scope.Role)
	}
}

func TestRegisterUser_UnknownRoleRef(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.RegisterUser(ctx, "user", "pass", "boss", nil, nil)
	assert.True(t, errors.Is(err, model.ErrValidation), "got error %v", err)
}

func TestAuthenticateUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	id, err := svc.RegisterUser(ctx, "bartender1", "secret", "bartender", nil, nil)
	require.NoError(t, err)

	u, err := svc.AuthenticateUser(ctx, "bartender1", "secret")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	_, err = svc.AuthenticateUser(ctx, "bartender1", "wrong")
	require.Error(t, err)

	_, err = svc.AuthenticateUser(ctx, "nobody", "secret")
	assert.True(t, errors.Is(err, model.ErrNotFound), "got error %v", err)
}

func TestAuthenticateUser_Deactivated(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	id, err := svc.RegisterUser(ctx, "bartender1", "secret", "bartender", nil, nil)
	require.NoError(t, err)
	require.NoError(t, svc.repo.DeactivateUser(ctx, id))

	_, err = svc.AuthenticateUser(ctx, "bartender1", "secret")
	assert.True(t, errors.Is(err, model.ErrForbidden), "got error %v", err)
}

func TestGetBalance_ScopeEnforced(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	aliceID, aliceScope := registerBartender(t, svc, "alice")
	_, bobScope := registerBartender(t, svc, "bob")

	_, err := svc.GetBalance(ctx, aliceScope, aliceID)
	require.NoError(t, err)

	// Чужой баланс бармену недоступен, администратору доступен.
	_, err = svc.GetBalance(ctx, bobScope, aliceID)
	assert.True(t, errors.Is(err, model.ErrForbidden), "got error %v", err)

	_, err = svc.GetBalance(ctx, adminScope(), aliceID)
	require.NoError(t, err)
}

func TestGrantBonus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	userID, scope := registerBartender(t, svc, "bartender1")

	require.NoError(t, svc.GrantBonus(ctx, adminScope(), userID, 25, "contest winner"))

	balance, err := svc.GetBalance(ctx, scope, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance.Points)
	assert.Equal(t, int64(25), balance.TotalEarnings)

	err = svc.GrantBonus(ctx, scope, userID, 25, "self service")
	assert.True(t, errors.Is(err, model.ErrForbidden), "got error %v", err)

	err = svc.GrantBonus(ctx, adminScope(), userID, 0, "empty")
	assert.True(t, errors.Is(err, model.ErrValidation), "got error %v", err)
}

func TestCreateProduct_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.CreateProduct(ctx, adminScope(), &model.Product{
		Name:              "broken",
		BottlePrice:       decimal.NewFromInt(1000),
		PortionsPerBottle: 0,
	})
	assert.True(t, errors.Is(err, model.ErrValidation), "got error %v", err)

	_, scope := registerBartender(t, svc, "bartender1")
	_, err = svc.CreateProduct(ctx, scope, &model.Product{
		Name:              "smuggled",
		BottlePrice:       decimal.NewFromInt(1000),
		PortionsPerBottle: 10,
	})
	assert.True(t, errors.Is(err, model.ErrForbidden), "got error %v", err)
}

func TestListPrizes_ActiveOnlyForNonAdmins(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	activeID := seedPrize(t, svc, "mug", 30, 5)
	retiredID := seedPrize(t, svc, "retired mug", 30, 5)
	require.NoError(t, svc.UpdatePrize(ctx, adminScope(), &model.Prize{
		ID:       retiredID,
		Name:     "retired mug",
		Cost:     30,
		Quantity: 5,
		IsActive: false,
	}))

	_, scope := registerBartender(t, svc, "bartender1")

	prizes, err := svc.ListPrizes(ctx, scope)
	require.NoError(t, err)
	require.Len(t, prizes, 1)
	assert.Equal(t, activeID, prizes[0].ID)

	prizes, err = svc.ListPrizes(ctx, adminScope())
	require.NoError(t, err)
	assert.Len(t, prizes, 2)
}

func TestCreatePrize_DefaultsOriginalQuantity(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	id := seedPrize(t, svc, "mug", 30, 7)

	prize, err := svc.repo.GetPrize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), prize.OriginalQuantity)
}

func TestCreatePrize_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.CreatePrize(ctx, adminScope(), &model.Prize{Name: "free", Cost: 0, Quantity: 1})
	assert.True(t, errors.Is(err, model.ErrValidation), "got error %v", err)

	_, err = svc.CreatePrize(ctx, adminScope(), &model.Prize{Name: "negative", Cost: 10, Quantity: -1})
	assert.True(t, errors.Is(err, model.ErrValidation), "got error %v", err)

	_, scope := registerBartender(t, svc, "bartender1")
	_, err = svc.CreatePrize(ctx, scope, &model.Prize{Name: "smuggled", Cost: 10, Quantity: 1})
	assert.True(t, errors.Is(err, model.ErrForbidden), "got error %v", err)
}

func TestScopeForUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	barID := int64(7)
	id, err := svc.RegisterUser(ctx, "manager", "pass", "bar_manager", &barID, nil)
	require.NoError(t, err)

	scope, err := svc.ScopeForUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RoleBarManager, scope.Role)
	require.NotNil(t, scope.BarID)
	assert.Equal(t, barID, *scope.BarID)
	assert.True(t, scope.CanModerate())

	repID, err := svc.RegisterUser(ctx, "rep", "pass", "brand_representative", nil, []string{"Glen Test"})
	require.NoError(t, err)

	repScope, err := svc.ScopeForUser(ctx, repID)
	require.NoError(t, err)
	assert.Equal(t, role.Scope{
		Role:   model.RoleBrandRep,
		UserID: repID,
		Brands: []string{"Glen Test"},
	}, repScope)
}
