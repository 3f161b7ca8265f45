package slipok

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Code содержит числовой код ошибки провайдера проверки слипов.
type Code int

// Известные коды ошибок провайдера.
const (
	CodeMissingData     Code = 1000
	CodeBranchNotFound  Code = 1001
	CodeUnauthorized    Code = 1002
	CodePackageExpired  Code = 1003
	CodeQuotaExceeded   Code = 1004
	CodeNotImage        Code = 1005
	CodeInvalidImage    Code = 1006
	CodeNoQRCode        Code = 1007
	CodeNotPaymentQR    Code = 1008
	CodeBankUnavailable Code = 1009
	CodeBankDelay       Code = 1010
	CodeQRExpired       Code = 1011
	CodeDuplicateSlip   Code = 1012
	CodeAmountMismatch  Code = 1013
	CodeAccountMismatch Code = 1014
)

// Category группирует коды ошибок по способу их обработки.
type Category int

const (
	// CategoryOther: любой другой отказ, включая неизвестные коды.
	CategoryOther Category = iota
	// CategoryUnrecoverable: окончательный отказ на стороне провайдера.
	CategoryUnrecoverable
	// CategoryAmountMismatch: сумма не совпала с ожидаемой.
	CategoryAmountMismatch
	// CategoryAccountMismatch: счёт получателя не совпал с настроенным у провайдера.
	CategoryAccountMismatch
)

// Category возвращает категорию кода.
func (c Code) Category() Category {
	switch c {
	case CodeBankDelay, CodeDuplicateSlip:
		return CategoryUnrecoverable
	case CodeAmountMismatch:
		return CategoryAmountMismatch
	case CodeAccountMismatch:
		return CategoryAccountMismatch
	default:
		return CategoryOther
	}
}

// Account описывает номер счёта или прокси (PromptPay) участника перевода.
type Account struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Party описывает отправителя или получателя перевода.
type Party struct {
	DisplayName string  `json:"displayName"`
	Name        string  `json:"name"`
	Proxy       Account `json:"proxy"`
	Account     Account `json:"account"`
}

// SlipData содержит данные перевода, распознанные провайдером.
type SlipData struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	RqUID           string          `json:"rqUID"`
	Language        string          `json:"language"`
	TransRef        string          `json:"transRef"`
	SendingBank     string          `json:"sendingBank"`
	ReceivingBank   string          `json:"receivingBank"`
	TransDate       string          `json:"transDate"`
	TransTime       string          `json:"transTime"`
	TransTimestamp  string          `json:"transTimestamp"`
	Sender          Party           `json:"sender"`
	Receiver        Party           `json:"receiver"`
	Amount          decimal.Decimal `json:"amount"`
	PaidLocalAmount decimal.Decimal `json:"paidLocalAmount"`
	CountryCode     string          `json:"countryCode"`
	TransFeeAmount  decimal.Decimal `json:"transFeeAmount"`
	Ref1            string          `json:"ref1"`
	Ref2            string          `json:"ref2"`
	Ref3            string          `json:"ref3"`
}

// ReceiverAccount возвращает номер счёта получателя, а при его отсутствии значение прокси.
func (d *SlipData) ReceiverAccount() string {
	if d.Receiver.Account.Value != "" {
		return d.Receiver.Account.Value
	}
	return d.Receiver.Proxy.Value
}

// Result описывает ответ провайдера: Success или Failure.
type Result interface {
	result()
}

// Success означает, что провайдер подтвердил слип.
type Success struct {
	Data SlipData
	Raw  json.RawMessage
}

// Failure означает, что провайдер отклонил слип. Некоторые коды сопровождаются данными
// слипа, которые нужно проверить локально.
type Failure struct {
	Code    Code
	Message string
	Data    *SlipData
	Raw     json.RawMessage
}

func (Success) result() {}
func (Failure) result() {}
