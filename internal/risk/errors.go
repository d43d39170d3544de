package risk

import "errors"

// Ошибки риск-движка
//
// Наружу возвращаются только ошибки конструирования и валидации обновлений,
// остальные операции отдают структурированные результаты.
var (
	ErrInvalidConfig   = errors.New("invalid risk config")
	ErrInvalidLimits   = errors.New("invalid position limits")
	ErrInvalidTriggers = errors.New("invalid emergency triggers")
	ErrUnknownMode     = errors.New("unknown trading mode")
	ErrNoAddress       = errors.New("no portfolio address")
	ErrNotActive       = errors.New("emergency stop is not active")
	ErrReasonRequired  = errors.New("reason is required")
	ErrMissingGateway  = errors.New("market state and execution gateways are required")
)
