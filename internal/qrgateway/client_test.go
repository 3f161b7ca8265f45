package qrgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront-payments/internal/signature"
)

func validRequest() DepositRequest {
	return DepositRequest{
		RefID:       "ORD-1001",
		Amount:      decimal.RequireFromString("500.00"),
		UserID:      "u-1",
		AccountName: "Somchai",
		AccountNo:   "1234567890",
		BankCode:    "KBANK",
	}
}

func newTestClient(baseURL string) *Client {
	c := NewClient(Config{
		BaseURL:   baseURL,
		APIKey:    "api-key",
		SecretKey: "secret",
		PartnerID: "P001",
		Timeout:   time.Second,
	})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestRequestDepositQR_SignsAndParses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment/deposit/qrcode" {
			t.Fatalf("path = %s, want /payment/deposit/qrcode", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "api-key" {
			t.Fatalf("x-api-key = %q", got)
		}

		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var payload map[string]any
		if err := dec.Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, ok := payload["extendParams"]; ok {
			t.Fatalf("empty extendParams must be dropped")
		}
		if payload["timestamp"] != json.Number("1700000000000") {
			t.Fatalf("timestamp = %v", payload["timestamp"])
		}

		ok, err := signature.Verify(payload, "secret", "P001", r.Header.Get("x-signature"))
		if err != nil || !ok {
			t.Fatalf("signature does not verify: ok=%v err=%v", ok, err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"code":0,"msg":"ok","data":{"status":"PENDING","transactionId":"TX-1","qrcode":"000201...","fee":5.5,"expiredAt":"soon"}}`)
	}))
	defer ts.Close()

	res, err := newTestClient(ts.URL).RequestDepositQR(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "TX-1", res.TransactionID)
	assert.Equal(t, "000201...", res.QRCode)
	assert.Equal(t, "PENDING", res.Status)
	assert.True(t, res.Fee.Equal(decimal.RequireFromString("5.5")))
	assert.Contains(t, string(res.Data), "expiredAt")
}

func TestRequestDepositQR_InvalidInputFailsBeforeNetwork(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)

	tests := []struct {
		name   string
		mutate func(*DepositRequest)
	}{
		{"missing refId", func(r *DepositRequest) { r.RefID = "" }},
		{"zero amount", func(r *DepositRequest) { r.Amount = decimal.Zero }},
		{"negative amount", func(r *DepositRequest) { r.Amount = decimal.NewFromInt(-1) }},
		{"blank userId", func(r *DepositRequest) { r.UserID = "  " }},
		{"missing accountName", func(r *DepositRequest) { r.AccountName = "" }},
		{"missing accountNo", func(r *DepositRequest) { r.AccountNo = "" }},
		{"missing bankCode", func(r *DepositRequest) { r.BankCode = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			_, err := client.RequestDepositQR(context.Background(), req)

			var gwErr *GatewayError
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, http.StatusBadRequest, gwErr.Status)
		})
	}

	assert.False(t, called, "no request must reach the gateway")
}

func TestRequestDepositQR_MissingSecret(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost", APIKey: "k", Timeout: time.Second})

	_, err := client.RequestDepositQR(context.Background(), validRequest())

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusInternalServerError, gwErr.Status)
	assert.ErrorIs(t, err, signature.ErrMissingSecretKey)
}

func TestRequestDepositQR_ErrorNormalization(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantStatus  int
		wantCode    int
		wantMessage string
		wantCause   string
	}{
		{
			name:        "application error on 200",
			status:      http.StatusOK,
			body:        `{"code":40012,"msg":"duplicate refId","cause":"refId already used"}`,
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    40012,
			wantMessage: "duplicate refId",
			wantCause:   "refId already used",
		},
		{
			name:        "provider envelope on 400",
			status:      http.StatusBadRequest,
			body:        `{"code":40001,"msg":"bad signature","cause":{"field":"x-signature"}}`,
			wantStatus:  http.StatusBadRequest,
			wantCode:    40001,
			wantMessage: "bad signature",
			wantCause:   `{"field":"x-signature"}`,
		},
		{
			name:        "non json 401",
			status:      http.StatusUnauthorized,
			body:        `denied`,
			wantStatus:  http.StatusUnauthorized,
			wantCode:    http.StatusUnauthorized,
			wantMessage: "Unauthorized",
		},
		{
			name:        "server error",
			status:      http.StatusServiceUnavailable,
			body:        `{"code":50300,"msg":"maintenance"}`,
			wantStatus:  http.StatusServiceUnavailable,
			wantCode:    50300,
			wantMessage: "maintenance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			_, err := newTestClient(ts.URL).RequestDepositQR(context.Background(), validRequest())

			var gwErr *GatewayError
			require.True(t, errors.As(err, &gwErr), "got %v", err)
			assert.Equal(t, tt.wantStatus, gwErr.Status)
			assert.Equal(t, tt.wantCode, gwErr.Code)
			assert.Equal(t, tt.wantMessage, gwErr.Message)
			assert.Equal(t, tt.wantCause, gwErr.Cause)
		})
	}
}

func TestRequestDepositQR_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	client.httpClient.Timeout = 50 * time.Millisecond

	_, err := client.RequestDepositQR(context.Background(), validRequest())

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusGatewayTimeout, gwErr.Status)
	assert.Equal(t, "connection error", gwErr.Message)
}

func TestRequestDepositQR_CallerCancellationKeepsBreakerClosed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":0,"msg":"ok","data":{"status":"PENDING","transactionId":"TX-2"}}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		_, err := client.RequestDepositQR(canceled, validRequest())
		assert.ErrorIs(t, err, context.Canceled)
	}

	res, err := client.RequestDepositQR(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "TX-2", res.TransactionID)
}

func signedBody(t *testing.T, payload map[string]any) ([]byte, string) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var decoded map[string]any
	require.NoError(t, dec.Decode(&decoded))

	sig, err := signature.Sign(decoded, "secret", "P001")
	require.NoError(t, err)
	return body, sig
}

func TestParseCallback(t *testing.T) {
	client := newTestClient("http://gateway")

	body, sig := signedBody(t, map[string]any{
		"refId":         "ORD-1001",
		"transactionId": "TX-1",
		"status":        "PAID",
		"amount":        500.0,
	})

	t.Run("valid", func(t *testing.T) {
		ev, err := client.ParseCallback("api-key", sig, body)
		require.NoError(t, err)
		assert.Equal(t, "ORD-1001", ev.RefID)
		assert.Equal(t, StatusPaid, ev.Status)
		assert.True(t, ev.Amount.Equal(decimal.NewFromInt(500)))
	})

	t.Run("wrong api key", func(t *testing.T) {
		_, err := client.ParseCallback("other", sig, body)
		assert.ErrorIs(t, err, ErrInvalidCallback)
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := bytes.Replace(body, []byte("500"), []byte("5"), 1)
		_, err := client.ParseCallback("api-key", sig, tampered)
		assert.ErrorIs(t, err, ErrInvalidCallback)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := client.ParseCallback("api-key", sig, []byte("nope"))
		assert.ErrorIs(t, err, ErrInvalidCallback)
	})

	t.Run("not configured", func(t *testing.T) {
		_, err := NewClient(Config{}).ParseCallback("api-key", sig, body)
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}
