package qrgateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured возвращается, если не заданы ключи шлюза.
	ErrNotConfigured = errors.New("qr gateway is not configured")
	// ErrInvalidCallback возвращается, если ключ или подпись входящего уведомления не совпали.
	ErrInvalidCallback = errors.New("invalid deposit callback")
)

// GatewayError описывает ошибку шлюза в единой форме независимо от источника:
// локальная проверка, транспорт или конверт ошибки провайдера.
type GatewayError struct {
	Status  int
	Code    int
	Message string
	Cause   string

	err error
}

func (e *GatewayError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("qr gateway: %d %s (%s)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("qr gateway: %d %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.err
}

func invalidRequest(msg string) *GatewayError {
	return &GatewayError{
		Status:  http.StatusBadRequest,
		Code:    http.StatusBadRequest,
		Message: msg,
	}
}

func notConfigured(err error) *GatewayError {
	return &GatewayError{
		Status:  http.StatusInternalServerError,
		Code:    http.StatusInternalServerError,
		Message: "payment gateway is not configured",
		err:     err,
	}
}

func transportError(status int, err error) *GatewayError {
	return &GatewayError{
		Status:  status,
		Code:    status,
		Message: "connection error",
		err:     err,
	}
}
