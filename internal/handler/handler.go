// Package handler содержит HTTP-обработчики API сервиса баллов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/barpoints-system/internal/middleware"
	"github.com/mmeshcher/barpoints-system/internal/model"
	"github.com/mmeshcher/barpoints-system/internal/role"
	"github.com/mmeshcher/barpoints-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, roleRef string, barID *int64, brands []string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	ScopeForUser(ctx context.Context, userID int64) (role.Scope, error)

	GetBalance(ctx context.Context, actor role.Scope, userID int64) (*model.Balance, error)
	ListLedger(ctx context.Context, actor role.Scope, userID int64, f service.LedgerFilter) ([]model.Transaction, error)
	LedgerSummary(ctx context.Context, actor role.Scope, userID int64) (map[model.TransactionType]int64, error)
	GrantBonus(ctx context.Context, actor role.Scope, userID, amount int64, description string) error

	CreateProduct(ctx context.Context, actor role.Scope, p *model.Product) (int64, error)

	SubmitSale(ctx context.Context, userID int64, in service.SubmitSaleInput) (*model.Sale, error)
	VerifySale(ctx context.Context, actor role.Scope, saleID int64, target model.VerificationStatus, notes string) (*model.Sale, error)
	ListSales(ctx context.Context, actor role.Scope, status *model.VerificationStatus) ([]model.Sale, error)
	GetSale(ctx context.Context, actor role.Scope, saleID int64) (*model.Sale, error)

	ListPrizes(ctx context.Context, actor role.Scope) ([]model.Prize, error)
	CreatePrize(ctx context.Context, actor role.Scope, p *model.Prize) (int64, error)
	UpdatePrize(ctx context.Context, actor role.Scope, p *model.Prize) error

	GetCart(ctx context.Context, userID int64) (*model.Cart, error)
	AddToCart(ctx context.Context, userID, prizeID, quantity int64) (*model.Cart, error)
	UpdateCartItem(ctx context.Context, userID, prizeID, quantity int64) (*model.Cart, error)
	RemoveCartItem(ctx context.Context, userID, prizeID int64) (*model.Cart, error)
	ClearCart(ctx context.Context, userID int64) error

	Checkout(ctx context.Context, userID int64) (*model.Order, error)
	CancelOrder(ctx context.Context, actor role.Scope, orderID int64, reason string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, actor role.Scope, orderID int64, target model.OrderStatus, note string) (*model.Order, error)
	GetOrder(ctx context.Context, actor role.Scope, orderID int64) (*model.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]model.Order, error)
}

// Handler реализует HTTP-обработчики API сервиса баллов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит ошибку движка в HTTP-статус. Категории ошибок
// проверяются через errors.Is, поэтому обёрнутые ошибки с контекстом
// (например, размер нехватки баллов) доходят до клиента как есть.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInsufficientPoints):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// actor восстанавливает область видимости текущего пользователя.
// Второй результат false означает, что ответ уже записан.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (role.Scope, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return role.Scope{}, false
	}

	actor, err := h.service.ScopeForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return role.Scope{}, false
	}
	return actor, true
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.ErrValidation
	}
	return id, nil
}

type registerRequest struct {
	Login    string   `json:"login"`
	Password string   `json:"password"`
	Role     string   `json:"role"`
	BarID    *int64   `json:"bar_id,omitempty"`
	Brands   []string `json:"brands,omitempty"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.Role, req.BarID, req.Brands)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	w.WriteHeader(http.StatusOK)
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), actor, actor.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

type transactionResponse struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	BalanceEffect int64  `json:"balance_effect"`
	Status        string `json:"status"`
	SaleID        *int64 `json:"sale_id,omitempty"`
	OrderID       *int64 `json:"order_id,omitempty"`
	Description   string `json:"description,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// GetLedger возвращает журнал баланса текущего пользователя.
// Фильтры по типу и статусу записи передаются query-параметрами.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var f service.LedgerFilter
	if v := r.URL.Query().Get("type"); v != "" {
		t := model.TransactionType(v)
		f.Type = &t
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := model.TransactionStatus(v)
		f.Status = &st
	}

	txns, err := h.service.ListLedger(r.Context(), actor, actor.UserID, f)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(txns) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		resp = append(resp, transactionResponse{
			ID:            t.ID,
			Type:          string(t.Type),
			Amount:        t.Amount,
			BalanceEffect: t.BalanceEffect(),
			Status:        string(t.Status),
			SaleID:        t.SaleID,
			OrderID:       t.OrderID,
			Description:   t.Description,
			CreatedAt:     t.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetLedgerSummary возвращает суммы журнала по типам записей.
func (h *Handler) GetLedgerSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	summary, err := h.service.LedgerSummary(r.Context(), actor, actor.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

type bonusRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// GrantBonus начисляет пользователю бонусные баллы (административная операция).
func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	userID, err := pathID(r, "userID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req bonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.GrantBonus(r.Context(), actor, userID, req.Amount, req.Description); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type productRequest struct {
	Name              string          `json:"name"`
	Brand             string          `json:"brand"`
	CalculationType   string          `json:"calculation_type"`
	PointsPerRuble    decimal.Decimal `json:"points_per_ruble"`
	PointsPerPortion  int64           `json:"points_per_portion"`
	PortionSizeGrams  int64           `json:"portion_size_grams"`
	BottlePrice       decimal.Decimal `json:"bottle_price"`
	PortionsPerBottle int64           `json:"portions_per_bottle"`
}

// CreateProduct сохраняет конфигурацию товара (административная операция).
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateProduct(r.Context(), actor, &model.Product{
		Name:              req.Name,
		Brand:             req.Brand,
		CalculationType:   model.PointsCalculationType(req.CalculationType),
		PointsPerRuble:    req.PointsPerRuble,
		PointsPerPortion:  req.PointsPerPortion,
		PortionSizeGrams:  req.PortionSizeGrams,
		BottlePrice:       req.BottlePrice,
		PortionsPerBottle: req.PortionsPerBottle,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

type submitSaleRequest struct {
	ProductID int64  `json:"product_id"`
	BarID     int64  `json:"bar_id"`
	Bar       string `json:"bar"`
	Quantity  int64  `json:"quantity"`
	ProofRef  string `json:"proof_ref"`
}

type saleResponse struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"user_id"`
	BarID              int64           `json:"bar_id"`
	Bar                string          `json:"bar"`
	Product            string          `json:"product"`
	Brand              string          `json:"brand"`
	Quantity           int64           `json:"quantity"`
	Price              decimal.Decimal `json:"price"`
	PointsEarned       int64           `json:"points_earned"`
	ProofRef           string          `json:"proof_ref,omitempty"`
	VerificationStatus string          `json:"verification_status"`
	VerifiedBy         *int64          `json:"verified_by,omitempty"`
	VerifiedAt         *string         `json:"verified_at,omitempty"`
	VerificationNotes  string          `json:"verification_notes,omitempty"`
	CreatedAt          string          `json:"created_at"`
}

func toSaleResponse(s *model.Sale) saleResponse {
	resp := saleResponse{
		ID:                 s.ID,
		UserID:             s.UserID,
		BarID:              s.BarID,
		Bar:                s.Bar,
		Product:            s.Product,
		Brand:              s.Brand,
		Quantity:           s.Quantity,
		Price:              s.Price,
		PointsEarned:       s.PointsEarned,
		ProofRef:           s.ProofRef,
		VerificationStatus: string(s.VerificationStatus),
		VerifiedBy:         s.VerifiedBy,
		VerificationNotes:  s.VerificationNotes,
		CreatedAt:          s.CreatedAt.Format(time.RFC3339),
	}
	if s.VerifiedAt != nil {
		at := s.VerifiedAt.Format(time.RFC3339)
		resp.VerifiedAt = &at
	}
	return resp
}

// SubmitSale регистрирует продажу от текущего пользователя.
func (h *Handler) SubmitSale(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req submitSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sale, err := h.service.SubmitSale(r.Context(), userID, service.SubmitSaleInput{
		ProductID: req.ProductID,
		BarID:     req.BarID,
		Bar:       req.Bar,
		Quantity:  req.Quantity,
		ProofRef:  req.ProofRef,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, toSaleResponse(sale))
}

// ListSales возвращает продажи в области видимости текущей роли.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var status *model.VerificationStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := model.VerificationStatus(v)
		status = &st
	}

	sales, err := h.service.ListSales(r.Context(), actor, status)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(sales) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]saleResponse, 0, len(sales))
	for i := range sales {
		resp = append(resp, toSaleResponse(&sales[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetSale возвращает одну продажу, если она в области видимости.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	saleID, err := pathID(r, "saleID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	sale, err := h.service.GetSale(r.Context(), actor, saleID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

type verifySaleRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// VerifySale выполняет решение модерации по продаже.
func (h *Handler) VerifySale(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	saleID, err := pathID(r, "saleID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req verifySaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sale, err := h.service.VerifySale(r.Context(), actor, saleID, model.VerificationStatus(req.Status), req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

type prizeRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Cost        int64   `json:"cost"`
	Quantity    int64   `json:"quantity"`
	IsActive    *bool   `json:"is_active,omitempty"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

type prizeResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Cost        int64   `json:"cost"`
	Quantity    int64   `json:"quantity"`
	IsActive    bool    `json:"is_active"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

func toPrizeResponse(p *model.Prize) prizeResponse {
	resp := prizeResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Cost:        p.Cost,
		Quantity:    p.Quantity,
		IsActive:    p.IsActive,
	}
	if p.ExpiresAt != nil {
		at := p.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &at
	}
	return resp
}

func (h *Handler) decodePrize(w http.ResponseWriter, r *http.Request) (*model.Prize, bool) {
	var req prizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}

	p := &model.Prize{
		Name:        req.Name,
		Description: req.Description,
		Cost:        req.Cost,
		Quantity:    req.Quantity,
		IsActive:    true,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if req.ExpiresAt != nil {
		at, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			http.Error(w, "expires_at must be RFC3339", http.StatusBadRequest)
			return nil, false
		}
		p.ExpiresAt = &at
	}
	return p, true
}

// ListPrizes возвращает каталог призов.
func (h *Handler) ListPrizes(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	prizes, err := h.service.ListPrizes(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]prizeResponse, 0, len(prizes))
	for i := range prizes {
		resp = append(resp, toPrizeResponse(&prizes[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// CreatePrize добавляет приз в каталог (административная операция).
func (h *Handler) CreatePrize(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	p, ok := h.decodePrize(w, r)
	if !ok {
		return
	}

	id, err := h.service.CreatePrize(r.Context(), actor, p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// UpdatePrize обновляет приз (административная операция).
func (h *Handler) UpdatePrize(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	prizeID, err := pathID(r, "prizeID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	p, ok := h.decodePrize(w, r)
	if !ok {
		return
	}
	p.ID = prizeID

	if err := h.service.UpdatePrize(r.Context(), actor, p); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type cartItemResponse struct {
	PrizeID     int64  `json:"prize_id"`
	PrizeName   string `json:"prize_name"`
	Quantity    int64  `json:"quantity"`
	PriceAtTime int64  `json:"price_at_time"`
}

type cartResponse struct {
	Items     []cartItemResponse `json:"items"`
	TotalCost int64              `json:"total_cost"`
}

func toCartResponse(c *model.Cart) cartResponse {
	resp := cartResponse{
		Items:     make([]cartItemResponse, 0, len(c.Items)),
		TotalCost: c.TotalCost(),
	}
	for _, it := range c.Items {
		resp.Items = append(resp.Items, cartItemResponse{
			PrizeID:     it.PrizeID,
			PrizeName:   it.PrizeName,
			Quantity:    it.Quantity,
			PriceAtTime: it.PriceAtTime,
		})
	}
	return resp
}

// GetCart возвращает корзину текущего пользователя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cart, err := h.service.GetCart(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartResponse(cart))
}

type cartItemRequest struct {
	PrizeID  int64 `json:"prize_id"`
	Quantity int64 `json:"quantity"`
}

// AddToCart добавляет приз в корзину текущего пользователя.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req cartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cart, err := h.service.AddToCart(r.Context(), userID, req.PrizeID, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartResponse(cart))
}

type cartQuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

// UpdateCartItem меняет количество строки корзины; ноль удаляет строку.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	prizeID, err := pathID(r, "prizeID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req cartQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cart, err := h.service.UpdateCartItem(r.Context(), userID, prizeID, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartResponse(cart))
}

// RemoveCartItem удаляет строку приза из корзины.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	prizeID, err := pathID(r, "prizeID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	cart, err := h.service.RemoveCartItem(r.Context(), userID, prizeID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartResponse(cart))
}

// ClearCart очищает корзину текущего пользователя.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.ClearCart(r.Context(), userID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type orderItemResponse struct {
	PrizeID  int64  `json:"prize_id"`
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

type statusChangeResponse struct {
	Status    string `json:"status"`
	ChangedAt string `json:"changed_at"`
	Note      string `json:"note,omitempty"`
}

type orderResponse struct {
	ID                int64                  `json:"id"`
	Number            string                 `json:"number"`
	Items             []orderItemResponse    `json:"items"`
	TotalCost         int64                  `json:"total_cost"`
	Status            string                 `json:"status"`
	History           []statusChangeResponse `json:"history"`
	TransactionID     string                 `json:"transaction_id"`
	EstimatedDelivery string                 `json:"estimated_delivery"`
	ActualDelivery    *string                `json:"actual_delivery,omitempty"`
	CreatedAt         string                 `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		Number:            o.Number,
		Items:             make([]orderItemResponse, 0, len(o.Items)),
		TotalCost:         o.TotalCost,
		Status:            string(o.Status),
		History:           make([]statusChangeResponse, 0, len(o.History)),
		TransactionID:     o.TransactionID,
		EstimatedDelivery: o.EstimatedDelivery.Format(time.RFC3339),
		CreatedAt:         o.CreatedAt.Format(time.RFC3339),
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			PrizeID:  it.PrizeID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
		})
	}
	for _, sc := range o.History {
		resp.History = append(resp.History, statusChangeResponse{
			Status:    string(sc.Status),
			ChangedAt: sc.ChangedAt.Format(time.RFC3339),
			Note:      sc.Note,
		})
	}
	if o.ActualDelivery != nil {
		at := o.ActualDelivery.Format(time.RFC3339)
		resp.ActualDelivery = &at
	}
	return resp
}

// Checkout обменивает корзину текущего пользователя на заказ.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	order, err := h.service.Checkout(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// ListOrders возвращает заказы текущего пользователя.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListOrders(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает один заказ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	order, err := h.service.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder отменяет заказ с возвратом баллов и остатков.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.CancelOrder(r.Context(), actor, orderID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type orderStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// UpdateOrderStatus продвигает заказ по жизненному циклу исполнения.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), actor, orderID, model.OrderStatus(req.Status), req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}
