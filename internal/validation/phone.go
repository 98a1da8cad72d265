// Package validation содержит функции нормализации и проверки входных данных.
package validation

import (
	"strings"
	"unicode"
)

// NormalizePhone оставляет в номере телефона только цифры.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, ch := range phone {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// IsValidPhone проверяет нормализованный номер: от 8 до 15 цифр (E.164 без префикса).
func IsValidPhone(digits string) bool {
	if len(digits) < 8 || len(digits) > 15 {
		return false
	}
	for _, ch := range digits {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// NormalizeCouponCode приводит код купона к каноническому виду.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
