// Package validation содержит функции валидации входных данных.
package validation

import (
	"github.com/google/uuid"
)

// IsValidCurrency проверяет код валюты: ровно три латинские буквы.
func IsValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}

	for i := 0; i < len(code); i++ {
		ch := code[i]
		if (ch < 'a' || ch > 'z') && (ch < 'A' || ch > 'Z') {
			return false
		}
	}

	return true
}

// IsValidVisitorToken проверяет формат анонимного токена посетителя (UUID).
func IsValidVisitorToken(token string) bool {
	if token == "" {
		return false
	}

	_, err := uuid.Parse(token)
	return err == nil
}
