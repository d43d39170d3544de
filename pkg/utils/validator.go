package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// validator.go - валидация входных данных операторского API и конфигурации

// Ошибки валидации
var (
	ErrInvalidAddress  = errors.New("invalid EVM address")
	ErrInvalidToken    = errors.New("invalid token symbol")
	ErrInvalidFraction = errors.New("value must be within [0, 1]")
	ErrNotPositive     = errors.New("value must be positive")
	ErrNegative        = errors.New("value must not be negative")
)

var tokenSymbolRe = regexp.MustCompile(`^[A-Za-z0-9.\-]{1,20}$`)

// ValidateAddress проверяет формат EVM-адреса (0x + 40 hex)
func ValidateAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// NormalizeAddress возвращает адрес в checksum-формате (EIP-55)
func NormalizeAddress(addr string) (string, error) {
	if err := ValidateAddress(addr); err != nil {
		return "", err
	}
	return common.HexToAddress(addr).Hex(), nil
}

// ValidateToken проверяет символ токена (WETH, USDC.e, ...)
//
// Допускается и адрес контракта токена.
func ValidateToken(token string) error {
	if common.IsHexAddress(token) || tokenSymbolRe.MatchString(token) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidToken, token)
}

// NormalizeToken приводит символ к верхнему регистру, адрес - к checksum
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if common.IsHexAddress(token) {
		return common.HexToAddress(token).Hex()
	}
	return strings.ToUpper(token)
}

// ValidateFraction проверяет долю в диапазоне [0, 1]
func ValidateFraction(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidFraction, v)
	}
	return nil
}

// ValidatePositive проверяет v > 0
func ValidatePositive(v float64) error {
	if v <= 0 {
		return fmt.Errorf("%w: %v", ErrNotPositive, v)
	}
	return nil
}

// ValidateNonNegative проверяет v >= 0
func ValidateNonNegative(v float64) error {
	if v < 0 {
		return fmt.Errorf("%w: %v", ErrNegative, v)
	}
	return nil
}

// ============================================================
// ValidationErrors
// ============================================================

// FieldError ошибка конкретного поля
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors накапливает ошибки всех полей, чтобы отклонить обновление целиком
type ValidationErrors []FieldError

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// AddError добавляет ошибку, если err != nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors возвращает true если есть хотя бы одна ошибка
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// Err возвращает nil при отсутствии ошибок (удобно для return v.Err())
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
