// Package service реализует проверку оплаты заказов: сверку банковских слипов
// и обработку депозитов через QR-шлюз.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/qrgateway"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/slipok"
)

// Store описывает административный доступ к хранилищу, используемый сервисом.
type Store interface {
	GetSlipSettings(ctx context.Context, provider string) (*model.SlipVerificationSettings, error)
	AppendSlipHistory(ctx context.Context, rec model.SlipHistory) error
	FindSlipHistoryByTransactionOrPayload(ctx context.Context, transRef, qrPayload string, status model.SlipStatus) (*model.SlipHistory, error)
	CommitSlipPayment(ctx context.Context, c repository.SlipPaymentCommit) error
	ConfirmOrderByNumber(ctx context.Context, number, note string) (bool, error)
}

// OrderScope даёт доступ к заказам одного пользователя. Передаётся в каждый вызов,
// чтобы сервис не мог прочитать чужой заказ.
type OrderScope interface {
	UserID() string
	GetOrder(ctx context.Context, id string) (*model.Order, error)
}

// SlipVerifier проверяет слип у внешнего провайдера.
type SlipVerifier interface {
	VerifySlip(ctx context.Context, qrPayload, branchID, apiKey string, expectedAmount decimal.Decimal) (slipok.Result, error)
}

// DepositGateway создаёт QR-коды депозитов и проверяет уведомления шлюза.
type DepositGateway interface {
	RequestDepositQR(ctx context.Context, req qrgateway.DepositRequest) (*qrgateway.DepositResult, error)
	ParseCallback(apiKey, sig string, body []byte) (*qrgateway.DepositEvent, error)
}

// Service содержит бизнес-логику проверки оплаты.
type Service struct {
	store    Store
	slips    SlipVerifier
	gateway  DepositGateway
	logger   *zap.Logger
	provider string
}

// NewService создаёт сервис. provider задаёт имя строки в slip_verification_settings.
func NewService(store Store, slips SlipVerifier, gateway DepositGateway, logger *zap.Logger, provider string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		slips:    slips,
		gateway:  gateway,
		logger:   logger,
		provider: provider,
	}
}

// GetOrderStatus возвращает заказ пользователя для опроса статуса оплаты.
func (s *Service) GetOrderStatus(ctx context.Context, scope OrderScope, orderID string) (*model.Order, error) {
	order, err := scope.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, newError(KindNotFound, msgOrderNotFound, err)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}
