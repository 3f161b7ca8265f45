package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

// SlipPaymentCommit описывает успешную проверку слипа, которую нужно зафиксировать.
type SlipPaymentCommit struct {
	Slip model.SlipHistory
	// OrderID задаёт заказ для перевода из pending в confirmed. Пусто, если заказ не указан.
	OrderID string
	Note    string
}

func insertSlipHistory(ctx context.Context, q querier, rec model.SlipHistory) (int64, error) {
	var amount *string
	if rec.Amount != nil {
		v := rec.Amount.StringFixed(2)
		amount = &v
	}

	var response *string
	if len(rec.ProviderResponse) > 0 && json.Valid(rec.ProviderResponse) {
		v := string(rec.ProviderResponse)
		response = &v
	}

	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO slip_history
			(user_id, order_id, trans_ref, amount, qr_payload, status, error_message, overridden, slipok_response)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9::jsonb)
		 RETURNING id`,
		rec.UserID, rec.OrderID, rec.TransRef, amount, rec.QRPayload,
		string(rec.Status), rec.ErrorMessage, rec.Overridden, response,
	).Scan(&id)
	if err != nil {
		if isPgError(err, pgerrcode.UniqueViolation) {
			return 0, ErrSlipAlreadyUsed
		}
		return 0, fmt.Errorf("insert slip history: %w", err)
	}
	return id, nil
}

// AppendSlipHistory добавляет запись о попытке проверки слипа.
func (r *PostgresRepository) AppendSlipHistory(ctx context.Context, rec model.SlipHistory) error {
	return r.withRetry(ctx, func() error {
		_, err := insertSlipHistory(ctx, r.pool, rec)
		return err
	})
}

// FindSlipHistoryByTransactionOrPayload ищет запись с указанным статусом, у
// которой совпадает номер транзакции или исходное содержимое QR.
func (r *PostgresRepository) FindSlipHistoryByTransactionOrPayload(ctx context.Context, transRef, qrPayload string, status model.SlipStatus) (*model.SlipHistory, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id::text, order_id::text, trans_ref, amount::text, qr_payload,
				status, error_message, overridden, slipok_response, created_at
		 FROM slip_history
		 WHERE status = $3
		   AND (($1 <> '' AND trans_ref = $1) OR md5(qr_payload) = md5($2))
		 ORDER BY id
		 LIMIT 1`,
		transRef, qrPayload, string(status),
	)

	var (
		h        model.SlipHistory
		amount   *string
		st       string
		response []byte
	)
	err := row.Scan(&h.ID, &h.UserID, &h.OrderID, &h.TransRef, &amount, &h.QRPayload,
		&st, &h.ErrorMessage, &h.Overridden, &response, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlipHistoryNotFound
		}
		return nil, fmt.Errorf("select slip history: %w", err)
	}

	if amount != nil {
		v, err := decimal.NewFromString(*amount)
		if err != nil {
			return nil, fmt.Errorf("parse slip amount %q: %w", *amount, err)
		}
		h.Amount = &v
	}
	h.Status = model.SlipStatus(st)
	h.ProviderResponse = response

	return &h, nil
}

// CommitSlipPayment в одной транзакции сохраняет успешную запись слипа и,
// если указан заказ, переводит его из pending в confirmed с записью в журнал
// статусов. Уникальные индексы slip_history исключают повторное использование
// слипа даже при одновременных запросах.
//
// Возвращает ErrSlipAlreadyUsed, если слип уже засчитан, и ErrOrderNotPending,
// если заказ успели подтвердить. В обоих случаях ничего не сохраняется.
func (r *PostgresRepository) CommitSlipPayment(ctx context.Context, c SlipPaymentCommit) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := insertSlipHistory(ctx, tx, c.Slip); err != nil {
			return err
		}

		if c.OrderID == "" {
			return nil
		}

		ok, err := compareAndSetOrderStatus(ctx, tx, c.OrderID, model.OrderStatusPending, model.OrderStatusConfirmed)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOrderNotPending
		}

		return appendStatusHistory(ctx, tx, c.OrderID, model.OrderStatusConfirmed, c.Note)
	})
}

// GetSlipSettings возвращает настройки провайдера проверки слипов.
func (r *PostgresRepository) GetSlipSettings(ctx context.Context, provider string) (*model.SlipVerificationSettings, error) {
	var (
		s        model.SlipVerificationSettings
		minimum  string
		accounts []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT provider, branch_id, api_key, minimum_topup_amount::text, bank_accounts, is_active
		 FROM slip_verification_settings
		 WHERE provider = $1`,
		provider,
	).Scan(&s.Provider, &s.BranchID, &s.APIKey, &minimum, &accounts, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("select slip settings: %w", err)
	}

	if s.MinimumAmount, err = decimal.NewFromString(minimum); err != nil {
		return nil, fmt.Errorf("parse minimum amount %q: %w", minimum, err)
	}

	if len(accounts) > 0 {
		if err := json.Unmarshal(accounts, &s.BankAccounts); err != nil {
			return nil, fmt.Errorf("decode bank accounts: %w", err)
		}
	}

	return &s, nil
}
