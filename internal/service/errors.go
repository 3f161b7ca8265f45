package service

import "fmt"

// Kind классифицирует ошибку сервиса для выбора HTTP-статуса и политики записи в историю.
type Kind int

const (
	// KindValidation: некорректный ввод или слип, не прошедший локальные правила.
	KindValidation Kind = iota + 1
	// KindConfiguration: не заданы настройки или ключи провайдера.
	KindConfiguration
	// KindProviderRejection: провайдер явно отклонил запрос.
	KindProviderRejection
	// KindTransport: сетевая ошибка или таймаут при обращении к провайдеру.
	KindTransport
	// KindConflict: слип уже использован, заказ уже подтверждён или сумма не совпала.
	KindConflict
	// KindInvariant: провайдер сообщил об успехе, но не вернул пригодных данных.
	KindInvariant
	// KindNotFound: запрошенный заказ не найден.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindProviderRejection:
		return "provider_rejection"
	case KindTransport:
		return "transport"
	case KindConflict:
		return "conflict"
	case KindInvariant:
		return "invariant"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error описывает ошибку сервиса. Message можно показывать пользователю как есть.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Сообщения, которые видит пользователь.
const (
	msgPayloadRequired  = "qr payload is required"
	msgOrderNotFound    = "order not found"
	msgNotConfigured    = "slip verification is not configured"
	msgConnection       = "connection error"
	msgVerifyFailed     = "slip verification failed"
	msgUnreadableSlip   = "unreadable slip"
	msgAlreadyUsed      = "slip already used"
	msgAlreadyConfirmed = "order already confirmed"
	msgBankMismatch     = "receiving bank account does not match"
	msgAmountTooLow     = "amount below minimum"
	msgInvalidCallback  = "invalid signature"
	msgGatewayDisabled  = "payment gateway is not configured"
)
