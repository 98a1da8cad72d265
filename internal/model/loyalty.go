package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoyaltyProgramType описывает правило начисления баллов.
type LoyaltyProgramType string

const (
	LoyaltyPointsPerValue LoyaltyProgramType = "POINTS_PER_VALUE"
	LoyaltyOrderCount     LoyaltyProgramType = "ORDER_COUNT"
	LoyaltyItemCount      LoyaltyProgramType = "ITEM_COUNT"
)

// LoyaltyProgram описывает программу лояльности арендатора.
//
// CurrencyUnitValue задаёт стоимость одного балла в центах при списании.
type LoyaltyProgram struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	Name               string
	Type               LoyaltyProgramType
	PointsPerCurrency  decimal.Decimal
	CurrencyUnitValue  int64
	MinOrderValue      int64
	PointsValidityDays *int
	RewardType         string
	RewardValue        decimal.Decimal
	TargetCount        *int64
	Active             bool
	Filters            []LoyaltyFilter
	CreatedAt          time.Time
}

// LoyaltyFilter ограничивает позиции, учитываемые программой ITEM_COUNT.
type LoyaltyFilter struct {
	ProductID  *uuid.UUID
	CategoryID *uuid.UUID
}

// CustomerLoyaltyBalance содержит баланс баллов клиента у арендатора.
type CustomerLoyaltyBalance struct {
	TenantID      uuid.UUID
	CustomerID    uuid.UUID
	Balance       int64
	TotalEarned   int64
	TotalRedeemed int64
	UpdatedAt     time.Time
}

// LoyaltyTransactionType описывает тип операции с баллами.
type LoyaltyTransactionType string

const (
	LoyaltyEarn   LoyaltyTransactionType = "EARN"
	LoyaltyRedeem LoyaltyTransactionType = "REDEEM"
)

// LoyaltyTransaction описывает запись журнала начисления или списания баллов.
type LoyaltyTransaction struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	CustomerID  uuid.UUID
	ProgramID   *uuid.UUID
	OrderID     *uuid.UUID
	Type        LoyaltyTransactionType
	Points      int64
	Description string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// LoyaltyRedemption описывает списание баллов при оформлении заказа.
type LoyaltyRedemption struct {
	CustomerID uuid.UUID
	ProgramID  uuid.UUID
	Points     int64
	Discount   int64
}
