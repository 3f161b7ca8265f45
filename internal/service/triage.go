package service

import (
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/slipok"
	"github.com/mmeshcher/storefront-payments/internal/validation"
)

type outcome int

const (
	outcomeRejected outcome = iota
	outcomeOverridden
	outcomeUnambiguous
)

func (o outcome) String() string {
	switch o {
	case outcomeRejected:
		return "rejected"
	case outcomeOverridden:
		return "overridden"
	default:
		return "unambiguous"
	}
}

// triageResult описывает итог разбора ответа провайдера.
//
// rejected: reason заполнен, data может содержать данные слипа для истории.
// overridden: отказ провайдера снят локальными правилами, providerMessage
// хранит исходное сообщение. unambiguous: провайдер подтвердил слип.
type triageResult struct {
	outcome         outcome
	data            *slipok.SlipData
	reason          *Error
	providerMessage string
	raw             []byte
}

// triage разбирает ответ провайдера. Коды несовпадения суммы и счёта,
// сопровождаемые данными слипа, перепроверяются по локальным настройкам.
func triage(res slipok.Result, settings *model.SlipVerificationSettings) triageResult {
	switch r := res.(type) {
	case slipok.Success:
		data := r.Data
		return triageResult{outcome: outcomeUnambiguous, data: &data, raw: r.Raw}

	case slipok.Failure:
		reject := func(kind Kind, msg string, err error) triageResult {
			return triageResult{
				outcome:         outcomeRejected,
				data:            r.Data,
				reason:          newError(kind, msg, err),
				providerMessage: r.Message,
				raw:             r.Raw,
			}
		}
		override := triageResult{
			outcome:         outcomeOverridden,
			data:            r.Data,
			providerMessage: r.Message,
			raw:             r.Raw,
		}

		switch r.Code.Category() {
		case slipok.CategoryUnrecoverable:
			return reject(KindProviderRejection, providerMessage(r), nil)

		case slipok.CategoryAccountMismatch:
			if r.Data == nil {
				return reject(KindProviderRejection, providerMessage(r), nil)
			}
			if err := validation.ValidateBankAccount(r.Data, settings.BankAccounts); err != nil {
				return reject(KindProviderRejection, msgBankMismatch, err)
			}
			return override

		case slipok.CategoryAmountMismatch:
			if r.Data == nil {
				return reject(KindProviderRejection, providerMessage(r), nil)
			}
			if err := validation.ValidateAmount(r.Data.Amount, settings.MinimumAmount); err != nil {
				return reject(KindProviderRejection, msgAmountTooLow, err)
			}
			return override

		default:
			return reject(KindProviderRejection, providerMessage(r), nil)
		}
	}

	return triageResult{
		outcome: outcomeRejected,
		reason:  newError(KindInvariant, msgVerifyFailed, nil),
	}
}

func providerMessage(f slipok.Failure) string {
	if f.Message != "" {
		return f.Message
	}
	return msgVerifyFailed
}
