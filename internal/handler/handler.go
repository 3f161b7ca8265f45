// Package handler содержит HTTP-обработчики API платёжного сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/middleware"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/qrgateway"
	"github.com/mmeshcher/storefront-payments/internal/service"
)

const maxBodySize = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	VerifySlip(ctx context.Context, scope service.OrderScope, req service.VerifyRequest) (*service.Receipt, error)
	RequestDepositQR(ctx context.Context, userID string, req qrgateway.DepositRequest) (*qrgateway.DepositResult, error)
	HandleDepositCallback(ctx context.Context, apiKey, sig string, body []byte) error
	GetOrderStatus(ctx context.Context, scope service.OrderScope, orderID string) (*model.Order, error)
}

// ScopeFunc возвращает доступ к заказам указанного пользователя.
type ScopeFunc func(userID string) service.OrderScope

// Handler реализует HTTP-обработчики API платёжного сервиса.
type Handler struct {
	service        Service
	scope          ScopeFunc
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, scope ScopeFunc, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		scope:          scope,
		logger:         logger,
		authMiddleware: auth,
	}
}

type resultResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type gatewayResponse struct {
	Code  int    `json:"code"`
	Data  any    `json:"data,omitempty"`
	Msg   string `json:"msg"`
	Cause string `json:"cause,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusForKind(k service.Kind) int {
	switch k {
	case service.KindValidation, service.KindProviderRejection:
		return http.StatusBadRequest
	case service.KindConfiguration:
		return http.StatusInternalServerError
	case service.KindTransport:
		return http.StatusBadGateway
	case service.KindConflict:
		return http.StatusConflict
	case service.KindInvariant:
		return http.StatusUnprocessableEntity
	case service.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError отдаёт пользователю только сообщение ошибки сервиса. Прочие
// ошибки журналируются и скрываются.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		writeJSON(w, statusForKind(svcErr.Kind), resultResponse{Error: svcErr.Message})
		return
	}

	h.logger.Error("request failed", zap.Error(err), zap.String("path", r.URL.Path))
	writeJSON(w, http.StatusInternalServerError, resultResponse{Error: http.StatusText(http.StatusInternalServerError)})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, resultResponse{Error: http.StatusText(http.StatusUnauthorized)})
	}
	return userID, ok
}

type verifySlipRequest struct {
	QRPayload string `json:"qrPayload"`
	OrderID   string `json:"orderId"`
}

type slipDataResponse struct {
	TransRef      string `json:"transRef"`
	SendingBank   string `json:"sendingBank"`
	ReceivingBank string `json:"receivingBank"`
	TransDate     string `json:"transDate"`
	TransTime     string `json:"transTime"`
}

type receiptResponse struct {
	Message           string           `json:"message"`
	TransactionAmount decimal.Decimal  `json:"transactionAmount"`
	SlipData          slipDataResponse `json:"slipData"`
	OrderID           string           `json:"orderId,omitempty"`
	Overridden        bool             `json:"overridden,omitempty"`
}

// VerifySlip проверяет банковский слип текущего пользователя.
func (h *Handler) VerifySlip(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req verifySlipRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, resultResponse{Error: "invalid request body"})
		return
	}

	if req.OrderID != "" {
		if _, err := uuid.Parse(req.OrderID); err != nil {
			writeJSON(w, http.StatusBadRequest, resultResponse{Error: "order not found"})
			return
		}
	}

	receipt, err := h.service.VerifySlip(r.Context(), h.scope(userID), service.VerifyRequest{
		QRPayload: req.QRPayload,
		OrderID:   req.OrderID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resultResponse{
		Success: true,
		Data: receiptResponse{
			Message:           receipt.Message,
			TransactionAmount: receipt.TransactionAmount,
			SlipData: slipDataResponse{
				TransRef:      receipt.Slip.TransRef,
				SendingBank:   receipt.Slip.SendingBank,
				ReceivingBank: receipt.Slip.ReceivingBank,
				TransDate:     receipt.Slip.TransDate,
				TransTime:     receipt.Slip.TransTime,
			},
			OrderID:    receipt.OrderID,
			Overridden: receipt.Overridden,
		},
	})
}

type depositRequest struct {
	RefID        string          `json:"refId"`
	Amount       decimal.Decimal `json:"amount"`
	UserID       string          `json:"userId"`
	AccountName  string          `json:"accountName"`
	AccountNo    string          `json:"accountNo"`
	BankCode     string          `json:"bankCode"`
	Timestamp    json.RawMessage `json:"timestamp"`
	ExtendParams map[string]any  `json:"extendParams"`
}

// DepositQR создаёт QR-код депозита через платёжный шлюз. userId и
// timestamp из тела игнорируются: их задают токен и время вызова.
func (h *Handler) DepositQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, gatewayResponse{Code: http.StatusBadRequest, Msg: "invalid request body"})
		return
	}

	res, err := h.service.RequestDepositQR(r.Context(), userID, qrgateway.DepositRequest{
		RefID:        req.RefID,
		Amount:       req.Amount,
		AccountName:  req.AccountName,
		AccountNo:    req.AccountNo,
		BankCode:     req.BankCode,
		ExtendParams: req.ExtendParams,
	})
	if err != nil {
		var gwErr *qrgateway.GatewayError
		if errors.As(err, &gwErr) {
			writeJSON(w, gwErr.Status, gatewayResponse{Code: gwErr.Code, Msg: gwErr.Message, Cause: gwErr.Cause})
			return
		}
		h.logger.Error("deposit qr failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, gatewayResponse{Code: http.StatusInternalServerError, Msg: "internal error"})
		return
	}

	var data any = res
	if len(res.Data) > 0 {
		data = res.Data
	}
	writeJSON(w, http.StatusOK, gatewayResponse{Code: 0, Data: data, Msg: "success"})
}

// DepositCallback принимает уведомление платёжного шлюза о депозите.
func (h *Handler) DepositCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, gatewayResponse{Code: http.StatusBadRequest, Msg: "invalid request body"})
		return
	}

	err = h.service.HandleDepositCallback(r.Context(), r.Header.Get("x-api-key"), r.Header.Get("x-signature"), body)
	if err != nil {
		var svcErr *service.Error
		if errors.As(err, &svcErr) {
			status := statusForKind(svcErr.Kind)
			writeJSON(w, status, gatewayResponse{Code: status, Msg: svcErr.Message})
			return
		}
		h.logger.Error("deposit callback failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, gatewayResponse{Code: http.StatusInternalServerError, Msg: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, gatewayResponse{Code: 0, Msg: "success"})
}

type orderStatusResponse struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	UpdatedAt   string          `json:"updatedAt"`
}

// OrderStatus возвращает статус заказа текущего пользователя.
func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	orderID := chi.URLParam(r, "orderID")
	if _, err := uuid.Parse(orderID); err != nil {
		writeJSON(w, http.StatusNotFound, resultResponse{Error: "order not found"})
		return
	}

	order, err := h.service.GetOrderStatus(r.Context(), h.scope(userID), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resultResponse{
		Success: true,
		Data: orderStatusResponse{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Status:      string(order.Status),
			TotalAmount: order.TotalAmount,
			UpdatedAt:   order.UpdatedAt.Format(time.RFC3339),
		},
	})
}
