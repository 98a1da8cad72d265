// Package apperr описывает классы ошибок, возвращаемых ядром заказов.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation возвращается при некорректных или противоречивых входных данных.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound возвращается, если сущность не найдена или принадлежит другому арендатору.
	ErrNotFound = errors.New("not found")
	// ErrConflict возвращается при конфликте с текущим состоянием данных.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState возвращается при недопустимом переходе статуса.
	ErrInvalidState = errors.New("invalid state")
	// ErrExternalProvider возвращается, если внешний провайдер недоступен или отклонил запрос.
	ErrExternalProvider = errors.New("external provider error")
	// ErrInternal возвращается при непредвиденной ошибке.
	ErrInternal = errors.New("internal error")
)

// Validation создаёт ошибку валидации с описанием.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound создаёт ошибку отсутствия сущности.
func NotFound(entity string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, entity)
}

// Conflict создаёт ошибку конфликта.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// InvalidState создаёт ошибку недопустимого перехода.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// ExternalProvider оборачивает ошибку внешнего провайдера.
func ExternalProvider(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalProvider, provider, err)
}

// Internal оборачивает непредвиденную ошибку.
func Internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// Kind возвращает класс ошибки. Неклассифицированные ошибки считаются внутренними.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrInvalidState, ErrExternalProvider} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// IsExpected сообщает, что ошибка относится к ожидаемым (не является инцидентом).
func IsExpected(err error) bool {
	switch Kind(err) {
	case ErrValidation, ErrNotFound, ErrConflict, ErrInvalidState:
		return true
	}
	return false
}
