package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

// Memory — хранилище в памяти с той же семантикой, что и Postgres: каждая
// операция движка — атомарная единица, сериализованная общим мьютексом.
// Используется в тестах и для запуска без БД.
type Memory struct {
	mu sync.Mutex

	users        map[int64]*model.User
	products     map[int64]*model.Product
	prizes       map[int64]*model.Prize
	sales        map[int64]*model.Sale
	orders       map[int64]*model.Order
	transactions map[string]*model.Transaction
	carts        map[int64][]model.CartItem

	nextUserID    int64
	nextProductID int64
	nextPrizeID   int64
	nextSaleID    int64
	nextOrderID   int64
	nextItemID    int64
}

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{
		users:        make(map[int64]*model.User),
		products:     make(map[int64]*model.Product),
		prizes:       make(map[int64]*model.Prize),
		sales:        make(map[int64]*model.Sale),
		orders:       make(map[int64]*model.Order),
		transactions: make(map[string]*model.Transaction),
		carts:        make(map[int64][]model.CartItem),
	}
}

// Close ничего не освобождает, метод есть для совместимости с контрактом.
func (m *Memory) Close() error { return nil }

func copyUser(u *model.User) *model.User {
	cp := *u
	cp.Brands = append([]string(nil), u.Brands...)
	return &cp
}

func copySale(s *model.Sale) *model.Sale {
	cp := *s
	return &cp
}

func copyOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	cp.History = append([]model.StatusChange(nil), o.History...)
	return &cp
}

// CreateUser создаёт нового пользователя.
func (m *Memory) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Login == u.Login {
			return 0, fmt.Errorf("%w: %s", model.ErrUserExists, u.Login)
		}
	}

	m.nextUserID++
	cp := copyUser(u)
	cp.ID = m.nextUserID
	cp.IsActive = true
	cp.CreatedAt = time.Now()
	m.users[cp.ID] = cp
	return cp.ID, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (m *Memory) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Login == login {
			return copyUser(u), nil
		}
	}
	return nil, model.ErrUserNotFound
}

// GetUserByID возвращает пользователя по идентификатору.
func (m *Memory) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return copyUser(u), nil
}

// DeactivateUser помечает пользователя неактивным.
func (m *Memory) DeactivateUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.IsActive = false
	return nil
}

// CreateProduct сохраняет конфигурацию товара.
func (m *Memory) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextProductID++
	cp := *p
	cp.ID = m.nextProductID
	cp.CreatedAt = time.Now()
	m.products[cp.ID] = &cp
	return cp.ID, nil
}

// GetProduct возвращает конфигурацию товара.
func (m *Memory) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, model.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// CreatePrize сохраняет новый приз.
func (m *Memory) CreatePrize(ctx context.Context, p *model.Prize) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPrizeID++
	cp := *p
	cp.ID = m.nextPrizeID
	cp.CreatedAt = time.Now()
	m.prizes[cp.ID] = &cp
	return cp.ID, nil
}

// GetPrize возвращает приз по идентификатору.
func (m *Memory) GetPrize(ctx context.Context, id int64) (*model.Prize, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prizes[id]
	if !ok {
		return nil, model.ErrPrizeNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPrizes возвращает призы; при activeOnly — только активные.
func (m *Memory) ListPrizes(ctx context.Context, activeOnly bool) ([]model.Prize, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Prize
	for _, p := range m.prizes {
		if activeOnly && !p.IsActive {
			continue
		}
		res = append(res, *p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// UpdatePrize обновляет описание и остатки приза.
func (m *Memory) UpdatePrize(ctx context.Context, p *model.Prize) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.prizes[p.ID]
	if !ok {
		return model.ErrPrizeNotFound
	}
	cp := *p
	cp.CreatedAt = existing.CreatedAt
	m.prizes[p.ID] = &cp
	return nil
}

func (m *Memory) addTransaction(t *model.Transaction) error {
	if _, ok := m.transactions[t.ID]; ok {
		return fmt.Errorf("%w: %s", model.ErrDuplicateTransaction, t.ID)
	}
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.transactions[cp.ID] = &cp
	return nil
}

// CreateTransaction добавляет запись журнала и применяет её эффект к балансу.
func (m *Memory) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[t.UserID]
	if !ok {
		return model.ErrUserNotFound
	}

	if err := m.addTransaction(t); err != nil {
		return err
	}

	effect := t.BalanceEffect()
	u.Points += effect
	if u.Points < 0 {
		u.Points = 0
	}
	if effect > 0 {
		u.TotalEarnings += effect
	}
	return nil
}

// ListTransactions возвращает записи журнала по фильтру, новые первыми.
func (m *Memory) ListTransactions(ctx context.Context, f TxnFilter) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Transaction
	for _, t := range m.transactions {
		if f.UserID != nil && t.UserID != *f.UserID {
			continue
		}
		if f.Type != nil && t.Type != *f.Type {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		res = append(res, *t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// SumTransactionsByType агрегирует суммы журнала пользователя по типам.
func (m *Memory) SumTransactionsByType(ctx context.Context, userID int64) (map[model.TransactionType]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make(map[model.TransactionType]int64)
	for _, t := range m.transactions {
		if t.UserID == userID {
			res[t.Type] += t.Amount
		}
	}
	return res, nil
}

// CreateSale сохраняет продажу.
func (m *Memory) CreateSale(ctx context.Context, s *model.Sale) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSaleID++
	cp := copySale(s)
	cp.ID = m.nextSaleID
	cp.CreatedAt = time.Now()
	m.sales[cp.ID] = cp
	return cp.ID, nil
}

// GetSale возвращает продажу по идентификатору.
func (m *Memory) GetSale(ctx context.Context, id int64) (*model.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[id]
	if !ok {
		return nil, model.ErrSaleNotFound
	}
	return copySale(s), nil
}

// ListSales возвращает продажи по фильтру, новые первыми.
func (m *Memory) ListSales(ctx context.Context, f SaleFilter) ([]model.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Sale
	for _, s := range m.sales {
		if f.UserID != nil && s.UserID != *f.UserID {
			continue
		}
		if f.BarID != nil && s.BarID != *f.BarID {
			continue
		}
		if f.Brands != nil {
			found := false
			for _, b := range f.Brands {
				if b == s.Brand {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if f.Status != nil && s.VerificationStatus != *f.Status {
			continue
		}
		res = append(res, *s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

// ApplyVerification выполняет переход статуса продажи под общим мьютексом,
// эффект вычисляется по актуальному статусу так же, как в Postgres.
func (m *Memory) ApplyVerification(ctx context.Context, upd VerificationUpdate) (*model.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[upd.SaleID]
	if !ok {
		return nil, model.ErrSaleNotFound
	}

	effect, statusChanges, err := model.VerificationEffect(s.VerificationStatus, upd.Target)
	if err != nil {
		return nil, err
	}

	// Коллизия идентификатора записи проверяется до любых изменений,
	// чтобы отказ не оставил частичного эффекта.
	if effect != model.EffectNone {
		if _, ok := m.transactions[upd.TxnID]; ok {
			return nil, fmt.Errorf("%w: %s", model.ErrDuplicateTransaction, upd.TxnID)
		}
	}

	u, ok := m.users[s.UserID]
	if !ok {
		return nil, model.ErrUserNotFound
	}

	// Счётчик правок меняется только после всех проверок.
	if model.IsDecisionChange(s.VerificationStatus, upd.Target) {
		if s.Revisions >= 1 {
			return nil, fmt.Errorf("sale %d: moderation decision already corrected once: %w",
				s.ID, model.ErrInvalidState)
		}
		s.Revisions++
	}

	switch effect {
	case model.EffectCredit:
		if err := m.addTransaction(&model.Transaction{
			ID:          upd.TxnID,
			UserID:      s.UserID,
			Type:        model.TxnEarning,
			Amount:      s.PointsEarned,
			Status:      model.TxnCompleted,
			SaleID:      &s.ID,
			Description: fmt.Sprintf("points for sale of %s", s.Product),
		}); err != nil {
			return nil, err
		}
		u.Points += s.PointsEarned
		u.TotalEarnings += s.PointsEarned
	case model.EffectReverse:
		if err := m.addTransaction(&model.Transaction{
			ID:          upd.TxnID,
			UserID:      s.UserID,
			Type:        model.TxnReversal,
			Amount:      s.PointsEarned,
			Status:      model.TxnCompleted,
			SaleID:      &s.ID,
			Description: fmt.Sprintf("reversal for rejected sale of %s", s.Product),
		}); err != nil {
			return nil, err
		}
		u.Points -= s.PointsEarned
		if u.Points < 0 {
			u.Points = 0
		}
		u.TotalEarnings -= s.PointsEarned
		if u.TotalEarnings < 0 {
			u.TotalEarnings = 0
		}
	}

	if statusChanges {
		s.VerificationStatus = upd.Target
	}
	verifiedBy := upd.VerifiedBy
	verifiedAt := upd.VerifiedAt
	s.VerifiedBy = &verifiedBy
	s.VerifiedAt = &verifiedAt
	s.VerificationNotes = upd.Notes

	return copySale(s), nil
}

// GetCart собирает корзину пользователя.
func (m *Memory) GetCart(ctx context.Context, userID int64) (*model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart := &model.Cart{UserID: userID}
	cart.Items = append(cart.Items, m.carts[userID]...)
	return cart, nil
}

// SetCartItem записывает строку корзины.
func (m *Memory) SetCartItem(ctx context.Context, userID int64, item model.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.carts[userID]
	for i := range items {
		if items[i].PrizeID == item.PrizeID {
			items[i].Quantity = item.Quantity
			return nil
		}
	}

	m.nextItemID++
	item.ID = m.nextItemID
	m.carts[userID] = append(items, item)
	return nil
}

// RemoveCartItem удаляет строку приза из корзины.
func (m *Memory) RemoveCartItem(ctx context.Context, userID, prizeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.carts[userID]
	for i := range items {
		if items[i].PrizeID == prizeID {
			m.carts[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cart item for prize %d: %w", prizeID, model.ErrNotFound)
}

// ClearCart удаляет корзину пользователя.
func (m *Memory) ClearCart(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, userID)
	return nil
}

// Checkout атомарно применяет снимок заказа: предусловия перепроверяются
// под мьютексом, при любой ошибке состояние не меняется.
func (m *Memory) Checkout(ctx context.Context, co CheckoutOrder) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[co.UserID]
	if !ok {
		return nil, model.ErrUserNotFound
	}

	// Снимок сверяется с актуальной корзиной: конкурентный чекаут той же
	// корзины получит Conflict вместо повторного списания.
	if !cartMatchesOrder(m.carts[co.UserID], co.Items) {
		return nil, model.ErrCartChanged
	}

	if u.Points < co.TotalCost {
		return nil, fmt.Errorf("%w: need %d more points", model.ErrInsufficientPoints, co.TotalCost-u.Points)
	}

	now := time.Now()
	for _, it := range co.Items {
		p, ok := m.prizes[it.PrizeID]
		if !ok {
			return nil, model.ErrPrizeNotFound
		}
		if !p.IsAvailable(now) {
			return nil, fmt.Errorf("%w: %s", model.ErrPrizeUnavailable, p.Name)
		}
		if p.Quantity < it.Quantity {
			return nil, fmt.Errorf("%w: %s has %d left, requested %d",
				model.ErrInsufficientStock, p.Name, p.Quantity, it.Quantity)
		}
	}

	m.nextOrderID++
	order := &model.Order{
		ID:                m.nextOrderID,
		UserID:            co.UserID,
		Number:            co.Number,
		Items:             append([]model.OrderItem(nil), co.Items...),
		TotalCost:         co.TotalCost,
		Status:            model.OrderPending,
		History:           []model.StatusChange{{Status: model.OrderPending, ChangedAt: now, Note: "order created"}},
		TransactionID:     co.TxnID,
		EstimatedDelivery: co.EstimatedDelivery,
		CreatedAt:         now,
	}

	if err := m.addTransaction(&model.Transaction{
		ID:          co.TxnID,
		UserID:      co.UserID,
		Type:        model.TxnRedemption,
		Amount:      co.TotalCost,
		Status:      model.TxnCompleted,
		OrderID:     &order.ID,
		Description: fmt.Sprintf("redemption for order %s", co.Number),
	}); err != nil {
		return nil, err
	}

	u.Points -= co.TotalCost
	for _, it := range co.Items {
		m.prizes[it.PrizeID].Quantity -= it.Quantity
	}
	m.orders[order.ID] = order
	delete(m.carts, co.UserID)

	return copyOrder(order), nil
}

// CancelOrder атомарно отменяет заказ с возвратом баллов и остатков.
func (m *Memory) CancelOrder(ctx context.Context, upd CancelUpdate) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[upd.OrderID]
	if !ok {
		return nil, model.ErrOrderNotFound
	}

	if !model.CanCancelOrder(o.Status) {
		return nil, fmt.Errorf("order %s cannot be cancelled from status %q: %w",
			o.Number, o.Status, model.ErrInvalidState)
	}

	u, ok := m.users[o.UserID]
	if !ok {
		return nil, model.ErrUserNotFound
	}

	if err := m.addTransaction(&model.Transaction{
		ID:          upd.TxnID,
		UserID:      o.UserID,
		Type:        model.TxnRefund,
		Amount:      o.TotalCost,
		Status:      model.TxnCompleted,
		OrderID:     &o.ID,
		Description: fmt.Sprintf("refund for cancelled order %s", o.Number),
	}); err != nil {
		return nil, err
	}

	u.Points += o.TotalCost
	for _, it := range o.Items {
		if p, ok := m.prizes[it.PrizeID]; ok {
			p.Quantity += it.Quantity
		}
	}

	o.Status = model.OrderCancelled
	o.History = append(o.History, model.StatusChange{
		Status:    model.OrderCancelled,
		ChangedAt: upd.CancelledAt,
		Note:      upd.Note,
	})

	return copyOrder(o), nil
}

// AdvanceOrder продвигает заказ к следующему статусу исполнения.
func (m *Memory) AdvanceOrder(ctx context.Context, upd AdvanceUpdate) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[upd.OrderID]
	if !ok {
		return nil, model.ErrOrderNotFound
	}

	if !model.CanAdvanceOrder(o.Status, upd.Target) {
		return nil, fmt.Errorf("order %s cannot move from %q to %q: %w",
			o.Number, o.Status, upd.Target, model.ErrInvalidState)
	}

	o.Status = upd.Target
	if upd.Target == model.OrderDelivered {
		at := upd.ChangedAt
		o.ActualDelivery = &at
	}
	o.History = append(o.History, model.StatusChange{
		Status:    upd.Target,
		ChangedAt: upd.ChangedAt,
		Note:      upd.Note,
	})

	return copyOrder(o), nil
}

// GetOrder возвращает заказ со строками и историей.
func (m *Memory) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (m *Memory) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			res = append(res, *copyOrder(o))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}
