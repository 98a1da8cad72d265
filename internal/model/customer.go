package model

import (
	"time"

	"github.com/google/uuid"
)

// Customer описывает клиента, идентифицируемого номером телефона.
type Customer struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	Email     *string
	CreatedAt time.Time
}

// Role описывает роль действующего лица.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleStaff    Role = "STAFF"
)

// Scope содержит контекст арендатора и пользователя, передаваемый в каждую операцию.
type Scope struct {
	TenantID uuid.UUID
	UserID   *uuid.UUID
	Role     Role
}

// IsStaff сообщает, действует ли пользователь от имени ресторана.
func (s Scope) IsStaff() bool {
	return s.Role == RoleStaff
}
