package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/model"
)

type balanceKey struct {
	tenantID   uuid.UUID
	customerID uuid.UUID
}

type gatewayKey struct {
	tenantID uuid.UUID
	provider model.PaymentProvider
	method   model.PaymentMethod
}

// MemoryRepository хранит данные в памяти с той же семантикой, что и PostgresRepository.
// Каждая операция выполняется под одной блокировкой, что соответствует транзакции.
type MemoryRepository struct {
	mu sync.Mutex

	customers       map[uuid.UUID]model.Customer
	customerByPhone map[string]uuid.UUID
	tenantCustomers map[balanceKey]bool

	products map[uuid.UUID]model.Product
	addons   map[uuid.UUID]model.Addon
	coupons  map[uuid.UUID]*model.Coupon

	orders map[uuid.UUID]*model.Order

	programs            []model.LoyaltyProgram
	balances            map[balanceKey]*model.CustomerLoyaltyBalance
	loyaltyTransactions []model.LoyaltyTransaction

	gateways      map[gatewayKey]*model.GatewayConfig
	payments      map[uuid.UUID]*model.Payment
	paymentEvents []model.PaymentTransactionEvent
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		customers:       make(map[uuid.UUID]model.Customer),
		customerByPhone: make(map[string]uuid.UUID),
		tenantCustomers: make(map[balanceKey]bool),
		products:        make(map[uuid.UUID]model.Product),
		addons:          make(map[uuid.UUID]model.Addon),
		coupons:         make(map[uuid.UUID]*model.Coupon),
		orders:          make(map[uuid.UUID]*model.Order),
		balances:        make(map[balanceKey]*model.CustomerLoyaltyBalance),
		gateways:        make(map[gatewayKey]*model.GatewayConfig),
		payments:        make(map[uuid.UUID]*model.Payment),
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error { return nil }

// Ping всегда успешен.
func (m *MemoryRepository) Ping(context.Context) error { return nil }

// AddProduct добавляет товар в каталог.
func (m *MemoryRepository) AddProduct(p model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// AddAddon добавляет дополнение в каталог.
func (m *MemoryRepository) AddAddon(a model.Addon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addons[a.ID] = a
}

// AddCoupon добавляет купон.
func (m *MemoryRepository) AddCoupon(c model.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[c.ID] = &c
}

// Coupon возвращает текущее состояние купона.
func (m *MemoryRepository) Coupon(id uuid.UUID) (model.Coupon, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok {
		return model.Coupon{}, false
	}
	return *c, true
}

// AddLoyaltyProgram добавляет программу лояльности.
func (m *MemoryRepository) AddLoyaltyProgram(p model.LoyaltyProgram) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs = append(m.programs, p)
}

// SetLoyaltyBalance задаёт баланс клиента.
func (m *MemoryRepository) SetLoyaltyBalance(b model.CustomerLoyaltyBalance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{b.TenantID, b.CustomerID}] = &b
}

// LoyaltyTransactions возвращает журнал баллов клиента.
func (m *MemoryRepository) LoyaltyTransactions(tenantID, customerID uuid.UUID) []model.LoyaltyTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.LoyaltyTransaction
	for _, t := range m.loyaltyTransactions {
		if t.TenantID == tenantID && t.CustomerID == customerID {
			res = append(res, t)
		}
	}
	return res
}

// OrderCount возвращает число сохранённых заказов, включая удалённые.
func (m *MemoryRepository) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// UpsertCustomer находит клиента по телефону или создаёт нового.
func (m *MemoryRepository) UpsertCustomer(_ context.Context, tenantID uuid.UUID, c model.Customer) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.customerByPhone[c.Phone]; ok {
		existing := m.customers[id]
		if existing.Email == nil && c.Email != nil {
			existing.Email = c.Email
			m.customers[id] = existing
		}
		m.tenantCustomers[balanceKey{tenantID, id}] = true
		return &existing, nil
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.customers[c.ID] = c
	m.customerByPhone[c.Phone] = c.ID
	m.tenantCustomers[balanceKey{tenantID, c.ID}] = true
	return &c, nil
}

// FindCustomerByPhone ищет клиента арендатора по нормализованному телефону.
func (m *MemoryRepository) FindCustomerByPhone(_ context.Context, tenantID uuid.UUID, phone string) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.customerByPhone[phone]
	if !ok || !m.tenantCustomers[balanceKey{tenantID, id}] {
		return nil, apperr.NotFound("customer")
	}
	c := m.customers[id]
	return &c, nil
}

// CustomerCount возвращает число клиентов. Используется в тестах.
func (m *MemoryRepository) CustomerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.customers)
}

// GetCustomer возвращает клиента арендатора.
func (m *MemoryRepository) GetCustomer(_ context.Context, tenantID, customerID uuid.UUID) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tenantCustomers[balanceKey{tenantID, customerID}] {
		return nil, apperr.NotFound("customer")
	}
	c := m.customers[customerID]
	return &c, nil
}

// GetProducts возвращает товары арендатора.
func (m *MemoryRepository) GetProducts(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make(map[uuid.UUID]model.Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok && p.TenantID == tenantID {
			res[id] = p
		}
	}
	return res, nil
}

// GetAddons возвращает дополнения арендатора.
func (m *MemoryRepository) GetAddons(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]model.Addon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make(map[uuid.UUID]model.Addon, len(ids))
	for _, id := range ids {
		if a, ok := m.addons[id]; ok && a.TenantID == tenantID {
			res[id] = a
		}
	}
	return res, nil
}

// GetCouponByCode возвращает купон арендатора по коду.
func (m *MemoryRepository) GetCouponByCode(_ context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.TenantID == tenantID && c.Code == code && c.DeletedAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("coupon")
}

// InsertOrder сохраняет заказ атомарно вместе с купоном и списанием баллов.
// Все проверки выполняются до любых изменений.
func (m *MemoryRepository) InsertOrder(_ context.Context, in OrderInsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := in.Order

	var coupon *model.Coupon
	if in.Coupon != nil {
		c, ok := m.coupons[in.Coupon.CouponID]
		if !ok || c.TenantID != o.TenantID || !c.Active || c.DeletedAt != nil ||
			(c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit) {
			return apperr.Conflict("coupon %s is no longer redeemable", in.Coupon.Code)
		}
		coupon = c
	}

	var balance *model.CustomerLoyaltyBalance
	if in.Loyalty != nil {
		b, ok := m.balances[balanceKey{o.TenantID, in.Loyalty.CustomerID}]
		if !ok || b.Balance < in.Loyalty.Points {
			return apperr.Validation("insufficient loyalty balance")
		}
		balance = b
	}

	if _, exists := m.orders[o.ID]; exists {
		return apperr.Conflict("order %s already exists", o.ID)
	}

	if coupon != nil {
		coupon.UsageCount++
	}
	if balance != nil {
		balance.Balance -= in.Loyalty.Points
		balance.TotalRedeemed += in.Loyalty.Points
		balance.UpdatedAt = o.CreatedAt
		programID := in.Loyalty.ProgramID
		orderID := o.ID
		m.loyaltyTransactions = append(m.loyaltyTransactions, model.LoyaltyTransaction{
			ID:         uuid.New(),
			TenantID:   o.TenantID,
			CustomerID: in.Loyalty.CustomerID,
			ProgramID:  &programID,
			OrderID:    &orderID,
			Type:       model.LoyaltyRedeem,
			Points:     in.Loyalty.Points,
			CreatedAt:  o.CreatedAt,
		})
	}

	m.orders[o.ID] = copyOrder(o)
	return nil
}

// GetOrder возвращает заказ арендатора. Удалённые заказы не возвращаются.
func (m *MemoryRepository) GetOrder(_ context.Context, tenantID, orderID uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.TenantID != tenantID || o.DeletedAt != nil {
		return nil, apperr.NotFound("order")
	}
	return copyOrder(o), nil
}

// TransitionOrder меняет статус, если текущий статус равен ожидаемому.
func (m *MemoryRepository) TransitionOrder(_ context.Context, t OrderTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[t.OrderID]
	if !ok || o.TenantID != t.TenantID || o.DeletedAt != nil || o.Status != t.From {
		return apperr.InvalidState("order %s is no longer %s", t.OrderID, t.From)
	}
	if t.Rejection != nil && o.Rejection != nil {
		return apperr.Conflict("order %s is already rejected", t.OrderID)
	}

	o.Status = t.Entry.Status
	if t.EstimatedDeliveryAt != nil {
		eta := *t.EstimatedDeliveryAt
		o.EstimatedDeliveryAt = &eta
	}
	o.UpdatedAt = t.Entry.ChangedAt
	o.Version++
	o.History = append(o.History, t.Entry)
	if t.Rejection != nil {
		rec := *t.Rejection
		o.Rejection = &rec
	}
	return nil
}

// AppendOrderLines добавляет позиции с проверкой версии.
func (m *MemoryRepository) AppendOrderLines(_ context.Context, in LinesAppend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[in.OrderID]
	if !ok || o.TenantID != in.TenantID || o.DeletedAt != nil || o.Version != in.ExpectedVersion || o.Status.IsTerminal() {
		return apperr.Conflict("order %s was modified concurrently", in.OrderID)
	}

	o.Lines = append(o.Lines, copyLines(in.Lines)...)
	o.Subtotal = in.Subtotal
	o.Total = in.Total
	o.UpdatedAt = in.At
	o.Version++
	return nil
}

// SoftDeleteOrder помечает заказ удалённым.
func (m *MemoryRepository) SoftDeleteOrder(_ context.Context, tenantID, orderID uuid.UUID, from model.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.TenantID != tenantID || o.DeletedAt != nil || o.Status != from {
		return apperr.InvalidState("order %s is no longer %s", orderID, from)
	}
	now := time.Now()
	o.DeletedAt = &now
	o.UpdatedAt = now
	return nil
}

// GetActivePrograms возвращает активные программы арендатора в порядке создания.
func (m *MemoryRepository) GetActivePrograms(_ context.Context, tenantID uuid.UUID) ([]model.LoyaltyProgram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.LoyaltyProgram
	for _, p := range m.programs {
		if p.TenantID == tenantID && p.Active {
			res = append(res, p)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// GetLoyaltyBalance возвращает баланс клиента или нулевой баланс.
func (m *MemoryRepository) GetLoyaltyBalance(_ context.Context, tenantID, customerID uuid.UUID) (*model.CustomerLoyaltyBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[balanceKey{tenantID, customerID}]; ok {
		cp := *b
		return &cp, nil
	}
	return &model.CustomerLoyaltyBalance{TenantID: tenantID, CustomerID: customerID}, nil
}

// RecordAccrual записывает начисления и увеличивает баланс.
func (m *MemoryRepository) RecordAccrual(_ context.Context, a Accrual) error {
	if a.TotalPoints <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loyaltyTransactions = append(m.loyaltyTransactions, a.Transactions...)

	key := balanceKey{a.TenantID, a.CustomerID}
	b, ok := m.balances[key]
	if !ok {
		b = &model.CustomerLoyaltyBalance{TenantID: a.TenantID, CustomerID: a.CustomerID}
		m.balances[key] = b
	}
	b.Balance += a.TotalPoints
	b.TotalEarned += a.TotalPoints
	b.UpdatedAt = a.At
	return nil
}

func copyOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Lines = copyLines(o.Lines)
	cp.History = append([]model.StatusHistoryEntry(nil), o.History...)
	if o.Rejection != nil {
		rec := *o.Rejection
		cp.Rejection = &rec
	}
	return &cp
}

func copyLines(lines []model.OrderLine) []model.OrderLine {
	if lines == nil {
		return nil
	}
	res := make([]model.OrderLine, len(lines))
	for i, l := range lines {
		res[i] = l
		res[i].Addons = append([]model.LineAddon(nil), l.Addons...)
	}
	return res
}
