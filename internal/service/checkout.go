package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/coupon"
	"github.com/mmeshcher/orderflow/internal/loyalty"
	"github.com/mmeshcher/orderflow/internal/metrics"
	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/notify"
	"github.com/mmeshcher/orderflow/internal/repository"
	"github.com/mmeshcher/orderflow/internal/validation"
)

const (
	// maxItemQuantity ограничивает количество единиц товара или добавки в одной позиции.
	maxItemQuantity = 1000
	// maxOrderAmount ограничивает сумму позиций и стоимость доставки заказа, в центах.
	maxOrderAmount int64 = 1_000_000_000
)

// CustomerInput содержит данные клиента в запросе оформления.
type CustomerInput struct {
	Name  string
	Phone string
	Email *string
}

// AddonInput описывает добавку к позиции.
type AddonInput struct {
	AddonID  uuid.UUID
	Quantity int64
}

// LineInput описывает позицию корзины. Цена берётся из каталога.
type LineInput struct {
	ProductID uuid.UUID
	Quantity  int64
	Notes     *string
	Addons    []AddonInput
}

// CheckoutRequest содержит запрос оформления заказа.
type CheckoutRequest struct {
	Customer              CustomerInput
	Type                  model.OrderType
	DeliveryAddress       *string
	TableID               *uuid.UUID
	Notes                 *string
	Lines                 []LineInput
	CouponCode            *string
	DeliveryFee           *int64
	LoyaltyPointsToRedeem int64
}

// CheckoutResult содержит результат оформления заказа.
type CheckoutResult struct {
	Order        *model.Order
	PointsEarned int64
	SideEffects  SideEffects
}

// Checkout оформляет заказ. Заказ, позиции, погашение купона и списание баллов
// записываются одной атомарной операцией; начисление баллов и уведомление выполняются после неё.
func (s *Service) Checkout(ctx context.Context, scope model.Scope, req CheckoutRequest) (*CheckoutResult, error) {
	phone, err := validateCheckout(req)
	if err != nil {
		return nil, err
	}

	lines, err := s.priceLines(ctx, scope.TenantID, req.Lines)
	if err != nil {
		return nil, err
	}

	var (
		programs []model.LoyaltyProgram
		program  *model.LoyaltyProgram
	)
	if req.LoyaltyPointsToRedeem > 0 {
		programs, err = s.repo.GetActivePrograms(ctx, scope.TenantID)
		if err != nil {
			return nil, classify("get loyalty programs", err)
		}
		program, err = s.checkRedemption(ctx, scope.TenantID, phone, programs, req.LoyaltyPointsToRedeem)
		if err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	customer, err := s.repo.UpsertCustomer(ctx, scope.TenantID, model.Customer{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(req.Customer.Name),
		Phone:     phone,
		Email:     req.Customer.Email,
		CreatedAt: now,
	})
	if err != nil {
		return nil, classify("upsert customer", err)
	}

	order := &model.Order{
		ID:              uuid.New(),
		TenantID:        scope.TenantID,
		CustomerID:      customer.ID,
		Type:            req.Type,
		Status:          model.OrderStatusPending,
		TableID:         req.TableID,
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
		Lines:           lines,
		History: []model.StatusHistoryEntry{{
			Status:    model.OrderStatusPending,
			ChangedAt: now,
			ActorID:   scope.UserID,
		}},
	}
	if req.Type == model.OrderTypeDelivery && req.DeliveryFee != nil {
		order.DeliveryFee = *req.DeliveryFee
	}
	order.Recalculate()

	in := repository.OrderInsert{Order: order}
	if red := s.applyCoupon(ctx, scope.TenantID, req.CouponCode, order.Subtotal); red != nil {
		code := red.Code
		order.CouponCode = &code
		order.DiscountAmount = red.Discount
		order.Recalculate()
		in.Coupon = red
	}

	if program != nil {
		if red := loyaltyRedemption(order, program, req.LoyaltyPointsToRedeem); red != nil {
			order.LoyaltyPointsUsed = red.Points
			order.LoyaltyDiscountAmount = red.Discount
			order.Recalculate()
			in.Loyalty = red
		}
	}

	if err := s.repo.InsertOrder(ctx, in); err != nil {
		return nil, classify("insert order", err)
	}

	metrics.OrderCreated()
	if in.Coupon != nil {
		metrics.CouponRedeemed()
	}
	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("tenant_id", order.TenantID.String()),
		zap.Int64("total", order.Total),
	)

	res := &CheckoutResult{Order: order}
	res.PointsEarned, res.SideEffects.Loyalty = s.accrueLoyalty(ctx, order, programs)
	res.SideEffects.Notification = s.notify(ctx, notify.NewOrderEvent(notify.OrderCreated, order, now))
	return res, nil
}

// validateCheckout проверяет запрос без обращения к хранилищу и возвращает нормализованный телефон.
func validateCheckout(req CheckoutRequest) (string, error) {
	if len(req.Lines) == 0 {
		return "", apperr.Validation("order must contain at least one item")
	}
	if strings.TrimSpace(req.Customer.Name) == "" {
		return "", apperr.Validation("customer name is required")
	}
	phone := validation.NormalizePhone(req.Customer.Phone)
	if phone == "" {
		return "", apperr.Validation("customer phone is required")
	}
	if !validation.IsValidPhone(phone) {
		return "", apperr.Validation("invalid customer phone %q", req.Customer.Phone)
	}
	if !req.Type.Valid() {
		return "", apperr.Validation("unknown order type %q", req.Type)
	}
	if req.Type == model.OrderTypeDelivery && (req.DeliveryAddress == nil || strings.TrimSpace(*req.DeliveryAddress) == "") {
		return "", apperr.Validation("delivery address is required for delivery orders")
	}
	if req.Type.NeedsTable() && req.TableID == nil {
		return "", apperr.Validation("table is required for %s orders", req.Type)
	}
	if req.DeliveryFee != nil && *req.DeliveryFee < 0 {
		return "", apperr.Validation("delivery fee must not be negative")
	}
	if req.DeliveryFee != nil && *req.DeliveryFee > maxOrderAmount {
		return "", apperr.Validation("delivery fee exceeds limit")
	}
	if req.LoyaltyPointsToRedeem < 0 {
		return "", apperr.Validation("loyalty points to redeem must not be negative")
	}
	if err := validateLines(req.Lines); err != nil {
		return "", err
	}
	return phone, nil
}

func validateLines(lines []LineInput) error {
	for i, l := range lines {
		if l.Quantity <= 0 {
			return apperr.Validation("item %d: quantity must be positive", i+1)
		}
		if l.Quantity > maxItemQuantity {
			return apperr.Validation("item %d: quantity must not exceed %d", i+1, maxItemQuantity)
		}
		for _, a := range l.Addons {
			if a.Quantity <= 0 {
				return apperr.Validation("item %d: addon quantity must be positive", i+1)
			}
			if a.Quantity > maxItemQuantity {
				return apperr.Validation("item %d: addon quantity must not exceed %d", i+1, maxItemQuantity)
			}
		}
	}
	return nil
}

// priceLines проверяет позиции по каталогу арендатора и рассчитывает их стоимость.
func (s *Service) priceLines(ctx context.Context, tenantID uuid.UUID, in []LineInput) ([]model.OrderLine, error) {
	if err := validateLines(in); err != nil {
		return nil, err
	}

	productIDs := make([]uuid.UUID, 0, len(in))
	var addonIDs []uuid.UUID
	for _, l := range in {
		productIDs = append(productIDs, l.ProductID)
		for _, a := range l.Addons {
			addonIDs = append(addonIDs, a.AddonID)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.CatalogTimeout)
	defer cancel()

	products, err := s.catalog.GetProducts(cctx, tenantID, productIDs)
	if err != nil {
		return nil, catalogError(err)
	}
	addons := map[uuid.UUID]model.Addon{}
	if len(addonIDs) > 0 {
		addons, err = s.catalog.GetAddons(cctx, tenantID, addonIDs)
		if err != nil {
			return nil, catalogError(err)
		}
	}

	var total int64
	lines := make([]model.OrderLine, 0, len(in))
	for i, l := range in {
		p, ok := products[l.ProductID]
		if !ok || !p.Active {
			return nil, apperr.Validation("item %d: product %s is not available", i+1, l.ProductID)
		}
		subtotal, ok := lineAmount(p.Price, l.Quantity)
		if !ok {
			return nil, errOrderAmount
		}
		line := model.OrderLine{
			ID:          uuid.New(),
			ProductID:   p.ID,
			ProductName: p.Name,
			CategoryID:  p.CategoryID,
			UnitPrice:   p.Price,
			Quantity:    l.Quantity,
			Notes:       l.Notes,
			Subtotal:    subtotal,
		}
		if total, ok = addAmount(total, subtotal); !ok {
			return nil, errOrderAmount
		}
		for _, ai := range l.Addons {
			a, ok := addons[ai.AddonID]
			if !ok || !a.Active {
				return nil, apperr.Validation("item %d: addon %s is not available", i+1, ai.AddonID)
			}
			subtotal, ok := lineAmount(a.Price, ai.Quantity)
			if !ok {
				return nil, errOrderAmount
			}
			if total, ok = addAmount(total, subtotal); !ok {
				return nil, errOrderAmount
			}
			line.Addons = append(line.Addons, model.LineAddon{
				ID:        uuid.New(),
				AddonID:   a.ID,
				Name:      a.Name,
				UnitPrice: a.Price,
				Quantity:  ai.Quantity,
				Subtotal:  subtotal,
			})
		}
		lines = append(lines, line)
	}
	return lines, nil
}

var errOrderAmount = apperr.Validation("order amount exceeds limit")

// lineAmount умножает цену на количество, не выходя за maxOrderAmount.
func lineAmount(price, quantity int64) (int64, bool) {
	if price < 0 || quantity <= 0 || price > maxOrderAmount/quantity {
		return 0, false
	}
	return price * quantity, true
}

func addAmount(sum, amount int64) (int64, bool) {
	if amount > maxOrderAmount-sum {
		return 0, false
	}
	return sum + amount, true
}

func catalogError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.ExternalProvider("catalog", err)
	}
	return classify("read catalog", err)
}

// applyCoupon возвращает погашение купона или nil, если купон не применим.
func (s *Service) applyCoupon(ctx context.Context, tenantID uuid.UUID, code *string, subtotal int64) *model.CouponRedemption {
	if code == nil {
		return nil
	}
	normalized := validation.NormalizeCouponCode(*code)
	if normalized == "" {
		return nil
	}

	c, err := s.repo.GetCouponByCode(ctx, tenantID, normalized)
	if err != nil {
		s.logger.Debug("coupon ignored", zap.String("code", normalized), zap.Error(err))
		return nil
	}
	red, err := coupon.Redeem(c, subtotal, s.now())
	if err != nil {
		s.logger.Debug("coupon ignored", zap.String("code", normalized), zap.Error(err))
		return nil
	}
	if red.Discount == 0 {
		return nil
	}
	return red
}

// checkRedemption проверяет программу списания и баланс клиента до записи клиента и заказа.
// Баланс проверяется повторно под блокировкой строки при записи заказа.
func (s *Service) checkRedemption(ctx context.Context, tenantID uuid.UUID, phone string, programs []model.LoyaltyProgram, requested int64) (*model.LoyaltyProgram, error) {
	program, ok := loyalty.RedemptionProgram(programs)
	if !ok {
		return nil, apperr.Validation("loyalty redemption is not available")
	}

	var have int64
	customer, err := s.repo.FindCustomerByPhone(ctx, tenantID, phone)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
	case err != nil:
		return nil, classify("find customer", err)
	default:
		balance, err := s.repo.GetLoyaltyBalance(ctx, tenantID, customer.ID)
		if err != nil {
			return nil, classify("get loyalty balance", err)
		}
		have = balance.Balance
	}
	if have < requested {
		return nil, apperr.Validation("insufficient loyalty balance: have %d, requested %d", have, requested)
	}
	return program, nil
}

// loyaltyRedemption рассчитывает списание баллов в пределах суммы заказа.
func loyaltyRedemption(order *model.Order, program *model.LoyaltyProgram, requested int64) *model.LoyaltyRedemption {
	points, discount := loyalty.RedeemDiscount(program, requested, order.Total)
	if points == 0 {
		return nil
	}
	return &model.LoyaltyRedemption{
		CustomerID: order.CustomerID,
		ProgramID:  program.ID,
		Points:     points,
		Discount:   discount,
	}
}
