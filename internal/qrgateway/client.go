// Package qrgateway предоставляет клиент платёжного шлюза QR-депозитов с подписью запросов.
package qrgateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/mmeshcher/storefront-payments/internal/breaker"
	"github.com/mmeshcher/storefront-payments/internal/signature"
)

const depositPath = "/payment/deposit/qrcode"

// Config содержит параметры подключения к шлюзу.
type Config struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	PartnerID string
	Timeout   time.Duration
}

// DepositRequest описывает запрос на создание QR-кода для депозита.
type DepositRequest struct {
	RefID        string
	Amount       decimal.Decimal
	UserID       string
	AccountName  string
	AccountNo    string
	BankCode     string
	ExtendParams map[string]any
}

// DepositResult содержит ответ шлюза на создание QR-кода.
type DepositResult struct {
	Status        string          `json:"status"`
	TransactionID string          `json:"transactionId"`
	QRCode        string          `json:"qrcode"`
	Fee           decimal.Decimal `json:"fee"`
	// Data хранит исходный объект data из ответа шлюза.
	Data json.RawMessage `json:"-"`
}

// DepositEvent описывает уведомление шлюза о статусе депозита.
type DepositEvent struct {
	RefID         string          `json:"refId"`
	TransactionID string          `json:"transactionId"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
}

// StatusPaid обозначает оплаченный депозит в уведомлении шлюза.
const StatusPaid = "PAID"

type envelope struct {
	Code  int             `json:"code"`
	Data  json.RawMessage `json:"data"`
	Msg   string          `json:"msg"`
	Cause json.RawMessage `json:"cause"`
}

type rawResponse struct {
	status int
	body   []byte
}

// Client подписывает и отправляет запросы в шлюз QR-депозитов.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[rawResponse]
	now        func() time.Time
}

// NewClient создаёт клиент шлюза.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	cfg.BaseURL = strings.TrimRight(base, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cb:  breaker.New[rawResponse]("qrgateway", 30*time.Second),
		now: time.Now,
	}
}

func validate(req DepositRequest) *GatewayError {
	required := []struct {
		name  string
		value string
	}{
		{"refId", req.RefID},
		{"userId", req.UserID},
		{"accountName", req.AccountName},
		{"accountNo", req.AccountNo},
		{"bankCode", req.BankCode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return invalidRequest(f.name + " is required")
		}
	}
	if !req.Amount.IsPositive() {
		return invalidRequest("amount must be greater than zero")
	}
	return nil
}

// RequestDepositQR создаёт QR-код депозита. Все ошибки возвращаются как *GatewayError.
// Повторы не выполняются: решение о повторе принимает вызывающая сторона.
func (c *Client) RequestDepositQR(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if gwErr := validate(req); gwErr != nil {
		return nil, gwErr
	}
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return nil, notConfigured(ErrNotConfigured)
	}

	payload := map[string]any{
		"refId":       req.RefID,
		"amount":      json.Number(req.Amount.String()),
		"userId":      req.UserID,
		"accountName": req.AccountName,
		"accountNo":   req.AccountNo,
		"bankCode":    req.BankCode,
		"timestamp":   c.now().UnixMilli(),
	}
	if len(req.ExtendParams) > 0 {
		payload["extendParams"] = req.ExtendParams
	}

	sig, err := signature.Sign(payload, c.cfg.SecretKey, c.cfg.PartnerID)
	if err != nil {
		return nil, notConfigured(err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, invalidRequest("payload is not serializable")
	}

	if err := ctx.Err(); err != nil {
		return nil, transportError(http.StatusBadGateway, err)
	}

	raw, err := c.cb.Execute(func() (rawResponse, error) {
		return c.do(ctx, sig, body)
	})
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, transportError(http.StatusServiceUnavailable, err)
	}

	return parseDepositResponse(raw)
}

func (c *Client) do(ctx context.Context, sig string, body []byte) (rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+depositPath, bytes.NewReader(body))
	if err != nil {
		return rawResponse{}, transportError(http.StatusBadGateway, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("x-signature", sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		return rawResponse{}, transportError(status, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, transportError(http.StatusBadGateway, fmt.Errorf("read body: %w", err))
	}

	raw := rawResponse{status: resp.StatusCode, body: data}
	if resp.StatusCode >= http.StatusInternalServerError {
		// Ответ возвращается вместе с ошибкой, чтобы предохранитель учёл сбой.
		return raw, parseUpstreamError(raw)
	}
	return raw, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func parseDepositResponse(raw rawResponse) (*DepositResult, error) {
	if raw.status < 200 || raw.status >= 300 {
		return nil, parseUpstreamError(raw)
	}

	var env envelope
	if err := json.Unmarshal(raw.body, &env); err != nil {
		return nil, transportError(http.StatusBadGateway, fmt.Errorf("decode response: %w", err))
	}

	if env.Code != 0 {
		return nil, &GatewayError{
			Status:  http.StatusUnprocessableEntity,
			Code:    env.Code,
			Message: messageOr(env.Msg, "payment gateway rejected the request"),
			Cause:   causeString(env.Cause),
		}
	}

	result := &DepositResult{Data: env.Data}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return nil, transportError(http.StatusBadGateway, fmt.Errorf("decode data: %w", err))
		}
	}
	return result, nil
}

func parseUpstreamError(raw rawResponse) *GatewayError {
	gwErr := &GatewayError{
		Status:  raw.status,
		Code:    raw.status,
		Message: http.StatusText(raw.status),
	}

	var env envelope
	if err := json.Unmarshal(raw.body, &env); err == nil {
		if env.Code != 0 {
			gwErr.Code = env.Code
		}
		gwErr.Message = messageOr(env.Msg, gwErr.Message)
		gwErr.Cause = causeString(env.Cause)
	}
	return gwErr
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

func causeString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ParseCallback проверяет ключ и подпись уведомления шлюза и разбирает его.
// Подпись пересчитывается по всему телу уведомления.
func (c *Client) ParseCallback(apiKey, sig string, body []byte) (*DepositEvent, error) {
	if c.cfg.APIKey == "" || c.cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(c.cfg.APIKey)) != 1 {
		return nil, fmt.Errorf("%w: api key mismatch", ErrInvalidCallback)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrInvalidCallback, err)
	}

	ok, err := signature.Verify(payload, c.cfg.SecretKey, c.cfg.PartnerID, sig)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidCallback)
	}

	var ev DepositEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: decode event: %v", ErrInvalidCallback, err)
	}
	return &ev, nil
}
