// Package model содержит доменные сущности платёжного сервиса витрины.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusCompleted},
}

// CanTransition сообщает, допустим ли переход заказа из статуса from в статус to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order описывает заказ покупателя.
type Order struct {
	ID          string
	Number      string
	UserID      string
	Status      OrderStatus
	TotalAmount decimal.Decimal
	Shipping    Shipping
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Shipping содержит данные доставки заказа.
type Shipping struct {
	Name    string
	Address string
	Phone   string
}

// OrderStatusHistory описывает запись журнала смены статусов заказа.
type OrderStatusHistory struct {
	OrderID   string
	Status    OrderStatus
	Note      string
	CreatedAt time.Time
}

// SlipStatus описывает итог попытки проверки слипа.
type SlipStatus string

const (
	SlipStatusSuccess SlipStatus = "success"
	SlipStatusFailed  SlipStatus = "failed"
)

// SlipHistory описывает запись о попытке проверки банковского слипа.
// Записи только добавляются и никогда не изменяются.
type SlipHistory struct {
	ID           int64
	UserID       string
	OrderID      *string
	TransRef     *string
	Amount       *decimal.Decimal
	QRPayload    string
	Status       SlipStatus
	ErrorMessage *string
	// Overridden отмечает успешную запись, для которой отказ провайдера
	// был переопределён локальными правилами. ErrorMessage в этом случае
	// хранит исходное сообщение провайдера.
	Overridden       bool
	ProviderResponse json.RawMessage
	CreatedAt        time.Time
}

// BankAccount описывает банковский счёт получателя.
// Номер может содержать маскирующие символы x/X и дефисы.
type BankAccount struct {
	AccountName string `json:"account_name"`
	AccountNo   string `json:"account_no"`
	BankCode    string `json:"bank_code"`
}

// SlipVerificationSettings содержит настройки провайдера проверки слипов.
type SlipVerificationSettings struct {
	Provider      string
	BranchID      string
	APIKey        string
	MinimumAmount decimal.Decimal
	BankAccounts  []BankAccount
	Active        bool
}

// Configured сообщает, что настройки активны и содержат учётные данные.
func (s *SlipVerificationSettings) Configured() bool {
	return s != nil && s.Active && s.BranchID != "" && s.APIKey != ""
}
