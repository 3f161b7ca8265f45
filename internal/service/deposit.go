package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/qrgateway"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/signature"
)

// RequestDepositQR создаёт QR-код депозита от имени пользователя userID.
// Ошибки шлюза возвращаются как *qrgateway.GatewayError.
func (s *Service) RequestDepositQR(ctx context.Context, userID string, req qrgateway.DepositRequest) (*qrgateway.DepositResult, error) {
	req.UserID = userID

	res, err := s.gateway.RequestDepositQR(ctx, req)
	if err != nil {
		var gwErr *qrgateway.GatewayError
		if errors.As(err, &gwErr) && gwErr.Status >= 500 {
			s.logger.Error("request deposit qr",
				zap.Error(err),
				zap.String("refId", req.RefID),
				zap.String("userID", userID),
			)
		}
		return nil, err
	}

	s.logger.Info("deposit qr created",
		zap.String("refId", req.RefID),
		zap.String("transactionId", res.TransactionID),
		zap.String("userID", userID),
	)
	return res, nil
}

// HandleDepositCallback проверяет уведомление шлюза и при статусе PAID
// подтверждает заказ, номер которого совпадает с refId. Неизвестные и уже
// подтверждённые заказы только журналируются.
func (s *Service) HandleDepositCallback(ctx context.Context, apiKey, sig string, body []byte) error {
	ev, err := s.gateway.ParseCallback(apiKey, sig, body)
	if err != nil {
		switch {
		case errors.Is(err, qrgateway.ErrInvalidCallback):
			s.logger.Warn("deposit callback rejected", zap.Error(err))
			return newError(KindValidation, msgInvalidCallback, err)
		case errors.Is(err, qrgateway.ErrNotConfigured), errors.Is(err, signature.ErrMissingSecretKey):
			s.logger.Error("deposit callback", zap.Error(err))
			return newError(KindConfiguration, msgGatewayDisabled, err)
		default:
			return fmt.Errorf("parse callback: %w", err)
		}
	}

	log := s.logger.With(
		zap.String("refId", ev.RefID),
		zap.String("transactionId", ev.TransactionID),
		zap.String("status", ev.Status),
	)

	if ev.Status != qrgateway.StatusPaid {
		log.Info("deposit callback ignored")
		return nil
	}

	note := "paid via qr gateway, transaction " + ev.TransactionID
	confirmed, err := s.store.ConfirmOrderByNumber(ctx, ev.RefID, note)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			log.Warn("deposit callback for unknown order")
			return nil
		}
		return fmt.Errorf("confirm order %s: %w", ev.RefID, err)
	}

	if !confirmed {
		log.Info("deposit callback for order that is no longer pending")
		return nil
	}

	log.Info("order confirmed by deposit callback", zap.String("amount", ev.Amount.StringFixed(2)))
	return nil
}
