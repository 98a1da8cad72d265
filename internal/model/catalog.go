package model

import "github.com/google/uuid"

// Product описывает товар каталога, как его видит модуль заказов.
type Product struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Name       string
	Price      int64
	CategoryID *uuid.UUID
	Active     bool
}

// Addon описывает дополнение к товару.
type Addon struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Price    int64
	Active   bool
}
