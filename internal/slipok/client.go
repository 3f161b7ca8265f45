// Package slipok предоставляет клиент внешнего API проверки банковских слипов.
package slipok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/mmeshcher/storefront-payments/internal/breaker"
)

// DefaultBaseURL задаёт адрес публичного API провайдера.
const DefaultBaseURL = "https://api.slipok.com"

// ErrTransport возвращается при сетевой ошибке, таймауте или недоступности провайдера.
// Такой отказ не является решением провайдера по слипу.
var ErrTransport = errors.New("slip provider transport error")

type rawResponse struct {
	status int
	body   []byte
}

// Client инкапсулирует HTTP-взаимодействие с провайдером проверки слипов.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[rawResponse]
}

// NewClient создаёт клиент провайдера с ограничением времени на запрос.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cb: breaker.New[rawResponse]("slipok", 30*time.Second),
	}
}

type verifyRequest struct {
	Data   string      `json:"data"`
	Log    bool        `json:"log"`
	Amount json.Number `json:"amount,omitempty"`
}

type envelope struct {
	Success *bool           `json:"success"`
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// VerifySlip отправляет QR-содержимое слипа провайдеру. expectedAmount
// передаётся как подсказка, если больше нуля. Ошибка возвращается только
// при транспортных сбоях; отказ провайдера приходит как Failure.
func (c *Client) VerifySlip(ctx context.Context, qrPayload, branchID, apiKey string, expectedAmount decimal.Decimal) (Result, error) {
	body := verifyRequest{Data: qrPayload, Log: true}
	if expectedAmount.IsPositive() {
		body.Amount = json.Number(expectedAmount.String())
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/line/apikey/%s", c.baseURL, url.PathEscape(branchID))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	raw, err := c.cb.Execute(func() (rawResponse, error) {
		return c.do(ctx, endpoint, apiKey, buf)
	})
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return parseResponse(raw)
}

func (c *Client) do(ctx context.Context, endpoint, apiKey string, body []byte) (rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return rawResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-authorization", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rawResponse{}, fmt.Errorf("%w: do request: %w", ErrTransport, ctxErr)
		}
		return rawResponse{}, fmt.Errorf("%w: do request: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	raw := rawResponse{status: resp.StatusCode, body: data}

	// 5xx без разборчивого тела считается недоступностью провайдера.
	if resp.StatusCode >= http.StatusInternalServerError && !json.Valid(data) {
		return raw, fmt.Errorf("%w: unexpected status: %d", ErrTransport, resp.StatusCode)
	}

	return raw, nil
}

func parseResponse(raw rawResponse) (Result, error) {
	var env envelope
	if err := json.Unmarshal(raw.body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}

	data := decodeSlipData(env.Data)
	ok := raw.status >= 200 && raw.status < 300

	if ok && env.Code == 0 && (env.Success == nil || *env.Success) && !dataRejected(env.Data) {
		res := Success{Raw: raw.body}
		if data != nil {
			res.Data = *data
		}
		return res, nil
	}

	msg := env.Message
	if msg == "" && data != nil {
		msg = data.Message
	}
	if msg == "" && !ok {
		msg = http.StatusText(raw.status)
	}

	return Failure{
		Code:    env.Code,
		Message: msg,
		Data:    data,
		Raw:     raw.body,
	}, nil
}

// dataRejected сообщает, что вложенный объект data явно содержит success=false.
func dataRejected(raw json.RawMessage) bool {
	var flag struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &flag); err != nil {
		return false
	}
	return flag.Success != nil && !*flag.Success
}

func decodeSlipData(raw json.RawMessage) *SlipData {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var d SlipData
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return nil
	}
	if d.TransRef == "" && d.Amount.IsZero() {
		return nil
	}
	return &d
}
