package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/slipok"
	"github.com/mmeshcher/storefront-payments/internal/validation"
)

// amountTolerance задаёт допустимое расхождение суммы слипа и суммы заказа.
var amountTolerance = decimal.New(1, -2)

// VerifyRequest описывает запрос на проверку слипа.
type VerifyRequest struct {
	QRPayload string
	// OrderID необязателен: заказ, который нужно подтвердить.
	OrderID string
}

// SlipSummary содержит сведения о переводе для пользователя.
type SlipSummary struct {
	TransRef      string
	SendingBank   string
	ReceivingBank string
	TransDate     string
	TransTime     string
}

// Receipt описывает результат успешной проверки слипа.
type Receipt struct {
	Message           string
	TransactionAmount decimal.Decimal
	Slip              SlipSummary
	OrderID           string
	// Overridden: отказ провайдера был снят локальными правилами.
	Overridden bool
}

// attempt накапливает сведения о попытке для записи в slip_history.
type attempt struct {
	userID  string
	payload string
	orderID *string
	slip    *slipok.SlipData
	raw     []byte
}

func (a *attempt) record(status model.SlipStatus, errMsg string, overridden bool) model.SlipHistory {
	rec := model.SlipHistory{
		UserID:           a.userID,
		OrderID:          a.orderID,
		QRPayload:        a.payload,
		Status:           status,
		Overridden:       overridden,
		ProviderResponse: a.raw,
	}
	if errMsg != "" {
		rec.ErrorMessage = &errMsg
	}
	if a.slip != nil {
		if a.slip.TransRef != "" {
			ref := a.slip.TransRef
			rec.TransRef = &ref
		}
		amount := a.slip.Amount
		rec.Amount = &amount
	}
	return rec
}

// fail записывает неудачную попытку и возвращает e. Запись выполняется в
// контексте, не зависящем от отмены запроса.
func (s *Service) fail(ctx context.Context, a *attempt, e *Error) *Error {
	rec := a.record(model.SlipStatusFailed, e.Message, false)
	if err := s.store.AppendSlipHistory(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("append slip history",
			zap.Error(err),
			zap.String("userID", a.userID),
			zap.String("reason", e.Message),
		)
	}

	s.logger.Info("slip rejected",
		zap.String("userID", a.userID),
		zap.Stringer("kind", e.Kind),
		zap.String("reason", e.Message),
		zap.NamedError("cause", e.Err),
	)
	return e
}

// VerifySlip сверяет слип у провайдера, проверяет сумму, счёт получателя и
// повторное использование и, если указан заказ, подтверждает его.
// Каждая попытка после проверки входных данных оставляет ровно одну запись в
// slip_history.
func (s *Service) VerifySlip(ctx context.Context, scope OrderScope, req VerifyRequest) (*Receipt, error) {
	payload := strings.TrimSpace(req.QRPayload)
	if payload == "" {
		return nil, newError(KindValidation, msgPayloadRequired, nil)
	}

	a := &attempt{userID: scope.UserID(), payload: payload}

	var order *model.Order
	if req.OrderID != "" {
		o, err := scope.GetOrder(ctx, req.OrderID)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				return nil, newError(KindValidation, msgOrderNotFound, err)
			}
			return nil, fmt.Errorf("get order: %w", err)
		}
		order = o
		a.orderID = &o.ID
	}

	settings, err := s.store.GetSlipSettings(ctx, s.provider)
	if err != nil && !errors.Is(err, repository.ErrSettingsNotFound) {
		return nil, fmt.Errorf("get slip settings: %w", err)
	}
	if !settings.Configured() {
		return nil, s.fail(ctx, a, newError(KindConfiguration, msgNotConfigured, err))
	}

	if order != nil && order.Status != model.OrderStatusPending {
		return nil, s.fail(ctx, a, newError(KindConflict, msgAlreadyConfirmed, repository.ErrOrderNotPending))
	}

	expected := decimal.Zero
	if order != nil {
		expected = order.TotalAmount
	}

	res, err := s.slips.VerifySlip(ctx, payload, settings.BranchID, settings.APIKey, expected)
	if err != nil {
		return nil, s.fail(ctx, a, newError(KindTransport, msgConnection, err))
	}

	t := triage(res, settings)
	a.slip = t.data
	a.raw = t.raw

	if t.outcome == outcomeRejected {
		return nil, s.fail(ctx, a, t.reason)
	}

	slip := t.data
	if slip == nil || (slip.TransRef == "" && slip.Amount.IsZero()) {
		return nil, s.fail(ctx, a, newError(KindInvariant, msgUnreadableSlip, nil))
	}

	if err := validation.ValidateAmount(slip.Amount, settings.MinimumAmount); err != nil {
		msg := fmt.Sprintf("%s: %s < %s", msgAmountTooLow, slip.Amount.StringFixed(2), settings.MinimumAmount.StringFixed(2))
		return nil, s.fail(ctx, a, newError(KindValidation, msg, err))
	}

	if err := validation.ValidateBankAccount(slip, settings.BankAccounts); err != nil {
		return nil, s.fail(ctx, a, newError(KindValidation, msgBankMismatch, err))
	}

	if _, err := s.store.FindSlipHistoryByTransactionOrPayload(ctx, slip.TransRef, payload, model.SlipStatusSuccess); err == nil {
		return nil, s.fail(ctx, a, newError(KindConflict, msgAlreadyUsed, repository.ErrSlipAlreadyUsed))
	} else if !errors.Is(err, repository.ErrSlipHistoryNotFound) {
		return nil, fmt.Errorf("find slip history: %w", err)
	}

	if order != nil && slip.Amount.Sub(order.TotalAmount).Abs().GreaterThan(amountTolerance) {
		msg := fmt.Sprintf("slip amount %s does not match order total %s",
			slip.Amount.StringFixed(2), order.TotalAmount.StringFixed(2))
		return nil, s.fail(ctx, a, newError(KindConflict, msg, nil))
	}

	overridden := t.outcome == outcomeOverridden
	var auditMsg string
	if overridden {
		auditMsg = t.providerMessage
	}

	commit := repository.SlipPaymentCommit{
		Slip: a.record(model.SlipStatusSuccess, auditMsg, overridden),
	}
	if order != nil {
		commit.OrderID = order.ID
		commit.Note = "payment verified by bank slip " + slip.TransRef
	}

	// Слип уже засчитан у провайдера, поэтому результат сохраняется даже
	// после отмены запроса.
	if err := s.store.CommitSlipPayment(context.WithoutCancel(ctx), commit); err != nil {
		switch {
		case errors.Is(err, repository.ErrSlipAlreadyUsed):
			return nil, s.fail(ctx, a, newError(KindConflict, msgAlreadyUsed, err))
		case errors.Is(err, repository.ErrOrderNotPending):
			return nil, s.fail(ctx, a, newError(KindConflict, msgAlreadyConfirmed, err))
		default:
			return nil, fmt.Errorf("commit slip payment: %w", err)
		}
	}

	s.logger.Info("slip verified",
		zap.String("userID", a.userID),
		zap.String("transRef", slip.TransRef),
		zap.String("amount", slip.Amount.StringFixed(2)),
		zap.Stringer("outcome", t.outcome),
		zap.String("orderID", commit.OrderID),
	)

	return &Receipt{
		Message:           "slip verified",
		TransactionAmount: slip.Amount,
		Slip: SlipSummary{
			TransRef:      slip.TransRef,
			SendingBank:   slip.SendingBank,
			ReceivingBank: slip.ReceivingBank,
			TransDate:     slip.TransDate,
			TransTime:     slip.TransTime,
		},
		OrderID:    commit.OrderID,
		Overridden: overridden,
	}, nil
}
