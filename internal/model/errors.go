package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound возвращается, если аренда или платёж не найдены.
	ErrNotFound = errors.New("not found")
	// ErrConflict возвращается, если версия аренды не совпала и после повтора.
	ErrConflict = errors.New("concurrent modification")
	// ErrInvalidState возвращается при попытке изменить закрытую аренду или завершённый платёж.
	ErrInvalidState = errors.New("invalid state")
	// ErrSignature возвращается, если подпись уведомления банка не совпала.
	ErrSignature = errors.New("signature mismatch")
)

// ValidationError описывает нарушение ограничения входных данных.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// GatewayError описывает сбой обращения к платёжному шлюзу: сетевую ошибку,
// ответ не 2xx или явный отказ банка (Success=false).
type GatewayError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	case e.Code != "":
		return fmt.Sprintf("gateway %s: rejected with code %s: %s", e.Op, e.Code, e.Message)
	default:
		return fmt.Sprintf("gateway %s: unexpected status %d", e.Op, e.StatusCode)
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Rejected сообщает, что банк отклонил запрос, а не произошёл транспортный сбой.
func (e *GatewayError) Rejected() bool {
	return e.Code != ""
}
