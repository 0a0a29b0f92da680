package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/barpoints-system/internal/middleware"
	"github.com/mmeshcher/barpoints-system/internal/model"
	"github.com/mmeshcher/barpoints-system/internal/role"
	"github.com/mmeshcher/barpoints-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	scope    role.Scope
	scopeErr error

	balanceResp *model.Balance
	balanceErr  error

	ledgerResp []model.Transaction
	ledgerErr  error

	summaryResp map[model.TransactionType]int64

	bonusErr error

	productID  int64
	productErr error

	saleResp *model.Sale
	saleErr  error

	salesResp []model.Sale
	salesErr  error

	prizesResp []model.Prize
	prizeID    int64
	prizeErr   error

	cartResp *model.Cart
	cartErr  error

	orderResp  *model.Order
	orderErr   error
	ordersResp []model.Order
}

func (s *stubService) RegisterUser(ctx context.Context, login, password, roleRef string, barID *int64, brands []string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) ScopeForUser(ctx context.Context, userID int64) (role.Scope, error) {
	return s.scope, s.scopeErr
}

func (s *stubService) GetBalance(ctx context.Context, actor role.Scope, userID int64) (*model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) ListLedger(ctx context.Context, actor role.Scope, userID int64, f service.LedgerFilter) ([]model.Transaction, error) {
	return s.ledgerResp, s.ledgerErr
}

func (s *stubService) LedgerSummary(ctx context.Context, actor role.Scope, userID int64) (map[model.TransactionType]int64, error) {
	return s.summaryResp, nil
}

func (s *stubService) GrantBonus(ctx context.Context, actor role.Scope, userID, amount int64, description string) error {
	return s.bonusErr
}

func (s *stubService) CreateProduct(ctx context.Context, actor role.Scope, p *model.Product) (int64, error) {
	return s.productID, s.productErr
}

func (s *stubService) SubmitSale(ctx context.Context, userID int64, in service.SubmitSaleInput) (*model.Sale, error) {
	return s.saleResp, s.saleErr
}

func (s *stubService) VerifySale(ctx context.Context, actor role.Scope, saleID int64, target model.VerificationStatus, notes string) (*model.Sale, error) {
	return s.saleResp, s.saleErr
}

func (s *stubService) ListSales(ctx context.Context, actor role.Scope, status *model.VerificationStatus) ([]model.Sale, error) {
	return s.salesResp, s.salesErr
}

func (s *stubService) GetSale(ctx context.Context, actor role.Scope, saleID int64) (*model.Sale, error) {
	return s.saleResp, s.saleErr
}

func (s *stubService) ListPrizes(ctx context.Context, actor role.Scope) ([]model.Prize, error) {
	return s.prizesResp, s.prizeErr
}

func (s *stubService) CreatePrize(ctx context.Context, actor role.Scope, p *model.Prize) (int64, error) {
	return s.prizeID, s.prizeErr
}

func (s *stubService) UpdatePrize(ctx context.Context, actor role.Scope, p *model.Prize) error {
	return s.prizeErr
}

func (s *stubService) GetCart(ctx context.Context, userID int64) (*model.Cart, error) {
	return s.cartResp, s.cartErr
}

func (s *stubService) AddToCart(ctx context.Context, userID, prizeID, quantity int64) (*model.Cart, error) {
	return s.cartResp, s.cartErr
}

func (s *stubService) UpdateCartItem(ctx context.Context, userID, prizeID, quantity int64) (*model.Cart, error) {
	return s.cartResp, s.cartErr
}

func (s *stubService) RemoveCartItem(ctx context.Context, userID, prizeID int64) (*model.Cart, error) {
	return s.cartResp, s.cartErr
}

func (s *stubService) ClearCart(ctx context.Context, userID int64) error {
	return s.cartErr
}

func (s *stubService) Checkout(ctx context.Context, userID int64) (*model.Order, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) CancelOrder(ctx context.Context, actor role.Scope, orderID int64, reason string) (*model.Order, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) UpdateOrderStatus(ctx context.Context, actor role.Scope, orderID int64, target model.OrderStatus, note string) (*model.Order, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) GetOrder(ctx context.Context, actor role.Scope, orderID int64) (*model.Order, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.ordersResp, s.orderErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

// authRequest добавляет к запросу действующий cookie авторизации.
func authRequest(h *Handler, req *http.Request, userID int64) *http.Request {
	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, userID)
	req.AddCookie(rec.Result().Cookies()[0])
	return req
}

// withURLParam кладёт path-параметр chi в контекст запроса для вызова
// обработчика напрямую, без прохода через роутер.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func serveAuthed(h *Handler, fn http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.authMiddleware.Middleware(fn).ServeHTTP(rec, req)
	return rec
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{registerUserID: 42}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{
		Login:    "bartender1",
		Password: "pass",
		Role:     "bartender",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie not set")
	}
}

func TestRegister_ConflictOnDuplicate(t *testing.T) {
	svc := &stubService{registerErr: model.ErrUserExists}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{Login: "dup", Password: "pass", Role: "bartender"})

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body)))

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestRegister_BadRoleRef(t *testing.T) {
	svc := &stubService{registerErr: fmt.Errorf("unknown role reference %q: %w", "boss", model.ErrValidation)}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{Login: "user", Password: "pass", Role: "boss"})

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body)))

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestLogin_UnauthorizedOnBadCredentials(t *testing.T) {
	svc := &stubService{authErr: model.ErrUserNotFound}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(loginRequest{Login: "user", Password: "wrong"})

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body)))

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetBalance_JSONResponse(t *testing.T) {
	svc := &stubService{
		scope:       role.Scope{Role: model.RoleBartender, UserID: 1},
		balanceResp: &model.Balance{Points: 120, TotalEarnings: 200},
	}
	h := newTestHandler(t, svc)

	req := authRequest(h, httptest.NewRequest(http.MethodGet, "/api/user/balance", nil), 1)
	rec := serveAuthed(h, h.GetBalance, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var balance model.Balance
	if err := json.NewDecoder(res.Body).Decode(&balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.Points != 120 || balance.TotalEarnings != 200 {
		t.Fatalf("balance = %+v", balance)
	}
}

func TestListSales_NoContent(t *testing.T) {
	svc := &stubService{
		scope: role.Scope{Role: model.RoleBartender, UserID: 1},
	}
	h := newTestHandler(t, svc)

	req := authRequest(h, httptest.NewRequest(http.MethodGet, "/api/sales", nil), 1)
	rec := serveAuthed(h, h.ListSales, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestVerifySale_ForbiddenForBartender(t *testing.T) {
	svc := &stubService{
		scope:   role.Scope{Role: model.RoleBartender, UserID: 1},
		saleErr: fmt.Errorf("role %q cannot moderate sales: %w", model.RoleBartender, model.ErrForbidden),
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(verifySaleRequest{Status: "approved"})
	req := httptest.NewRequest(http.MethodPost, "/api/sales/7/verify", bytes.NewReader(body))
	req = withURLParam(req, "saleID", "7")
	req = authRequest(h, req, 1)

	rec := serveAuthed(h, h.VerifySale, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestVerifySale_ConflictOnRepeatedDecisionChange(t *testing.T) {
	svc := &stubService{
		scope:   role.Scope{Role: model.RoleAdmin, UserID: 1},
		saleErr: fmt.Errorf("sale decision already changed once: %w", model.ErrInvalidState),
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(verifySaleRequest{Status: "rejected"})
	req := httptest.NewRequest(http.MethodPost, "/api/sales/7/verify", bytes.NewReader(body))
	req = withURLParam(req, "saleID", "7")
	req = authRequest(h, req, 1)

	rec := serveAuthed(h, h.VerifySale, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestCheckout_PaymentRequiredOnShortfall(t *testing.T) {
	svc := &stubService{
		orderErr: fmt.Errorf("need 50 more points: %w", model.ErrInsufficientPoints),
	}
	h := newTestHandler(t, svc)

	req := authRequest(h, httptest.NewRequest(http.MethodPost, "/api/orders", nil), 1)
	rec := serveAuthed(h, h.Checkout, req)

	res := rec.Result()
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusPaymentRequired)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	svc := &stubService{
		scope:    role.Scope{Role: model.RoleBartender, UserID: 1},
		orderErr: model.ErrOrderNotFound,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/99", nil)
	req = withURLParam(req, "orderID", "99")
	req = authRequest(h, req, 1)

	rec := serveAuthed(h, h.GetOrder, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestGetOrder_BadID(t *testing.T) {
	svc := &stubService{
		scope: role.Scope{Role: model.RoleBartender, UserID: 1},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/abc", nil)
	req = withURLParam(req, "orderID", "abc")
	req = authRequest(h, req, 1)

	rec := serveAuthed(h, h.GetOrder, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestAddToCart_ConflictOnStock(t *testing.T) {
	svc := &stubService{
		cartErr: fmt.Errorf("%w: mug has 1 left, requested 3", model.ErrInsufficientStock),
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(cartItemRequest{PrizeID: 1, Quantity: 3})
	req := authRequest(h, httptest.NewRequest(http.MethodPost, "/api/cart/items", bytes.NewReader(body)), 1)

	rec := serveAuthed(h, h.AddToCart, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestProtectedRoute_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}
