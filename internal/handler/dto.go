package handler

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/service"
)

// money форматирует сумму в центах как десятичное число с двумя знаками.
func money(cents int64) json.Number {
	return json.Number(decimal.New(cents, -2).StringFixed(2))
}

var maxCents = decimal.NewFromInt(math.MaxInt64)

// cents переводит денежную сумму в центы. Дробные центы не допускаются.
func cents(field string, d decimal.Decimal) (int64, error) {
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, apperr.Validation("%s must have at most two decimal places", field)
	}
	if shifted.Abs().GreaterThan(maxCents) {
		return 0, apperr.Validation("%s is out of range", field)
	}
	return shifted.IntPart(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

type customerRequest struct {
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email *string `json:"email"`
}

type addonRequest struct {
	AddonID  uuid.UUID `json:"addonId"`
	Quantity int64     `json:"quantity"`
}

type lineRequest struct {
	ProductID uuid.UUID      `json:"productId"`
	Quantity  int64          `json:"quantity"`
	Notes     *string        `json:"notes"`
	Addons    []addonRequest `json:"addons"`
}

func toLineInputs(lines []lineRequest) []service.LineInput {
	res := make([]service.LineInput, 0, len(lines))
	for _, l := range lines {
		in := service.LineInput{ProductID: l.ProductID, Quantity: l.Quantity, Notes: l.Notes}
		for _, a := range l.Addons {
			in.Addons = append(in.Addons, service.AddonInput{AddonID: a.AddonID, Quantity: a.Quantity})
		}
		res = append(res, in)
	}
	return res
}

type checkoutRequest struct {
	Customer              customerRequest  `json:"customer"`
	Type                  string           `json:"type"`
	DeliveryAddress       *string          `json:"deliveryAddress"`
	TableID               *uuid.UUID       `json:"tableId"`
	Notes                 *string          `json:"notes"`
	Items                 []lineRequest    `json:"items"`
	CouponCode            *string          `json:"couponCode"`
	DeliveryFee           *decimal.Decimal `json:"deliveryFee"`
	LoyaltyPointsToRedeem int64            `json:"loyaltyPointsToRedeem"`
}

func (r checkoutRequest) toService() (service.CheckoutRequest, error) {
	req := service.CheckoutRequest{
		Customer: service.CustomerInput{
			Name:  r.Customer.Name,
			Phone: r.Customer.Phone,
			Email: r.Customer.Email,
		},
		Type:                  model.OrderType(r.Type),
		DeliveryAddress:       r.DeliveryAddress,
		TableID:               r.TableID,
		Notes:                 r.Notes,
		Lines:                 toLineInputs(r.Items),
		CouponCode:            r.CouponCode,
		LoyaltyPointsToRedeem: r.LoyaltyPointsToRedeem,
	}
	if r.DeliveryFee != nil {
		fee, err := cents("deliveryFee", *r.DeliveryFee)
		if err != nil {
			return service.CheckoutRequest{}, err
		}
		req.DeliveryFee = &fee
	}
	return req, nil
}

type addonResponse struct {
	AddonID   uuid.UUID   `json:"addonId"`
	Name      string      `json:"name"`
	UnitPrice json.Number `json:"unitPrice"`
	Quantity  int64       `json:"quantity"`
	Subtotal  json.Number `json:"subtotal"`
}

type lineResponse struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"productId"`
	ProductName string          `json:"productName"`
	UnitPrice   json.Number     `json:"unitPrice"`
	Quantity    int64           `json:"quantity"`
	Notes       *string         `json:"notes,omitempty"`
	Subtotal    json.Number     `json:"subtotal"`
	Addons      []addonResponse `json:"addons,omitempty"`
}

type historyResponse struct {
	Status    string     `json:"status"`
	ChangedAt string     `json:"changedAt"`
	ActorID   *uuid.UUID `json:"actorId,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

type rejectionResponse struct {
	Reason     string     `json:"reason"`
	Notes      *string    `json:"notes,omitempty"`
	RejectedBy *uuid.UUID `json:"rejectedBy,omitempty"`
	RejectedAt string     `json:"rejectedAt"`
}

type orderResponse struct {
	ID                    uuid.UUID          `json:"id"`
	TenantID              uuid.UUID          `json:"tenantId"`
	CustomerID            uuid.UUID          `json:"customerId"`
	Type                  string             `json:"type"`
	Status                string             `json:"status"`
	Subtotal              json.Number        `json:"subtotal"`
	DeliveryFee           json.Number        `json:"deliveryFee"`
	DiscountAmount        json.Number        `json:"discountAmount"`
	LoyaltyDiscountAmount json.Number        `json:"loyaltyDiscountAmount"`
	LoyaltyPointsUsed     int64              `json:"loyaltyPointsUsed"`
	Total                 json.Number        `json:"total"`
	CouponCode            *string            `json:"couponCode,omitempty"`
	TableID               *uuid.UUID         `json:"tableId,omitempty"`
	DeliveryAddress       *string            `json:"deliveryAddress,omitempty"`
	Notes                 *string            `json:"notes,omitempty"`
	EstimatedDeliveryAt   *string            `json:"estimatedDeliveryAt,omitempty"`
	CreatedAt             string             `json:"createdAt"`
	UpdatedAt             string             `json:"updatedAt"`
	Version               int64              `json:"version"`
	Items                 []lineResponse     `json:"items"`
	History               []historyResponse  `json:"history"`
	Rejection             *rejectionResponse `json:"rejection,omitempty"`
	NextStatuses          []string           `json:"nextStatuses"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:                    o.ID,
		TenantID:              o.TenantID,
		CustomerID:            o.CustomerID,
		Type:                  string(o.Type),
		Status:                string(o.Status),
		Subtotal:              money(o.Subtotal),
		DeliveryFee:           money(o.DeliveryFee),
		DiscountAmount:        money(o.DiscountAmount),
		LoyaltyDiscountAmount: money(o.LoyaltyDiscountAmount),
		LoyaltyPointsUsed:     o.LoyaltyPointsUsed,
		Total:                 money(o.Total),
		CouponCode:            o.CouponCode,
		TableID:               o.TableID,
		DeliveryAddress:       o.DeliveryAddress,
		Notes:                 o.Notes,
		EstimatedDeliveryAt:   formatTimePtr(o.EstimatedDeliveryAt),
		CreatedAt:             formatTime(o.CreatedAt),
		UpdatedAt:             formatTime(o.UpdatedAt),
		Version:               o.Version,
		Items:                 make([]lineResponse, 0, len(o.Lines)),
		History:               make([]historyResponse, 0, len(o.History)),
		NextStatuses:          make([]string, 0),
	}
	for _, l := range o.Lines {
		line := lineResponse{
			ID:          l.ID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			UnitPrice:   money(l.UnitPrice),
			Quantity:    l.Quantity,
			Notes:       l.Notes,
			Subtotal:    money(l.Subtotal),
		}
		for _, a := range l.Addons {
			line.Addons = append(line.Addons, addonResponse{
				AddonID:   a.AddonID,
				Name:      a.Name,
				UnitPrice: money(a.UnitPrice),
				Quantity:  a.Quantity,
				Subtotal:  money(a.Subtotal),
			})
		}
		resp.Items = append(resp.Items, line)
	}
	for _, e := range o.History {
		resp.History = append(resp.History, historyResponse{
			Status:    string(e.Status),
			ChangedAt: formatTime(e.ChangedAt),
			ActorID:   e.ActorID,
			Notes:     e.Notes,
		})
	}
	if o.Rejection != nil {
		resp.Rejection = &rejectionResponse{
			Reason:     o.Rejection.Reason,
			Notes:      o.Rejection.Notes,
			RejectedBy: o.Rejection.RejectedBy,
			RejectedAt: formatTime(o.Rejection.RejectedAt),
		}
	}
	for _, s := range o.Status.NextStatuses() {
		resp.NextStatuses = append(resp.NextStatuses, string(s))
	}
	return resp
}

// orderEnvelope оборачивает ответ на операции над заказом. Warnings перечисляет неудавшиеся побочные эффекты.
type orderEnvelope struct {
	Order        orderResponse `json:"order"`
	PointsEarned *int64        `json:"pointsEarned,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

func warnings(e service.SideEffects) []string {
	var res []string
	if e.Notification != nil {
		res = append(res, "notification failed")
	}
	if e.Loyalty != nil {
		res = append(res, "loyalty accrual failed")
	}
	return res
}

type acceptRequest struct {
	EstimatedPrepMinutes int     `json:"estimatedPrepMinutes"`
	Notes                *string `json:"notes"`
}

type rejectRequest struct {
	Reason string  `json:"reason"`
	Notes  *string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type statusRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes"`
}

type addItemsRequest struct {
	Items []lineRequest `json:"items"`
}

type pixChargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type pixChargeResponse struct {
	PaymentID         uuid.UUID   `json:"paymentId"`
	Provider          string      `json:"provider"`
	ProviderPaymentID string      `json:"providerPaymentId"`
	QRCode            string      `json:"qrCode"`
	QRCodeBase64      string      `json:"qrCodeBase64"`
	Amount            json.Number `json:"amount"`
	ExpiresAt         string      `json:"expiresAt"`
}

type advanceResponse struct {
	Advanced bool          `json:"advanced"`
	Order    orderResponse `json:"order"`
	Warnings []string      `json:"warnings,omitempty"`
}

type gatewayConfigRequest struct {
	Provider      string `json:"provider"`
	Method        string `json:"method"`
	AccessToken   string `json:"accessToken"`
	WebhookSecret string `json:"webhookSecret"`
	Sandbox       bool   `json:"sandbox"`
	Active        bool   `json:"active"`
}

// gatewayConfigResponse не содержит токенов и секретов.
type gatewayConfigResponse struct {
	ID        uuid.UUID `json:"id"`
	Provider  string    `json:"provider"`
	Method    string    `json:"method"`
	Sandbox   bool      `json:"sandbox"`
	Active    bool      `json:"active"`
	UpdatedAt string    `json:"updatedAt"`
}

type loyaltyBalanceResponse struct {
	CustomerID    uuid.UUID `json:"customerId"`
	Balance       int64     `json:"balance"`
	TotalEarned   int64     `json:"totalEarned"`
	TotalRedeemed int64     `json:"totalRedeemed"`
}

type webhookResponse struct {
	Applied bool   `json:"applied"`
	EventID string `json:"eventId,omitempty"`
	Status  string `json:"status,omitempty"`
}
