// Package validation содержит правила проверки данных банковского слипа.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/slipok"
)

// ErrAmountBelowMinimum возвращается, если сумма перевода меньше минимальной.
var ErrAmountBelowMinimum = errors.New("amount below minimum")

// ErrAccountMismatch возвращается, если счёт получателя не совпал ни с одним настроенным счётом.
var ErrAccountMismatch = errors.New("receiving account mismatch")

// ValidateAmount проверяет, что сумма не меньше минимальной.
func ValidateAmount(amount, minimum decimal.Decimal) error {
	if amount.LessThan(minimum) {
		return fmt.Errorf("%w: %s < %s", ErrAmountBelowMinimum, amount.StringFixed(2), minimum.StringFixed(2))
	}
	return nil
}

// MatchAccountPattern сравнивает настроенный номер счёта с номером от
// провайдера, в котором часть цифр может быть замаскирована символами x/X.
//
// Из настроенного номера удаляются все нецифровые символы, из номера
// провайдера удаляются только дефисы. При равной длине сравнение
// позиционное: x/X совпадает с любой цифрой, цифра должна совпасть точно,
// прочие символы не учитываются. При разной длине номер провайдера сводится к цифрам и ищется
// как подстрока настроенного номера.
func MatchAccountPattern(accountNo, pattern string) bool {
	digits := []rune(digitsOnly(accountNo))
	masked := []rune(strings.ReplaceAll(pattern, "-", ""))

	if len(digits) != len(masked) {
		patternDigits := digitsOnly(pattern)
		if patternDigits == "" {
			return false
		}
		return strings.Contains(string(digits), patternDigits)
	}

	for i, ch := range masked {
		switch {
		case ch == 'x' || ch == 'X':
		case isDigit(ch):
			if digits[i] != ch {
				return false
			}
		}
	}
	return true
}

// ValidateBankAccount проверяет, что получатель перевода совпадает хотя бы с
// одним из настроенных счетов. Пустой список счетов разрешает любой перевод.
func ValidateBankAccount(slip *slipok.SlipData, accounts []model.BankAccount) error {
	if len(accounts) == 0 {
		return nil
	}

	receiver := slip.ReceiverAccount()
	for _, acc := range accounts {
		if !bankMatches(acc.BankCode, slip.ReceivingBank) {
			continue
		}
		if MatchAccountPattern(acc.AccountNo, receiver) {
			return nil
		}
		// Счёт в настройках может быть сохранён уже замаскированным.
		if strings.ContainsAny(acc.AccountNo, "xX") && MatchAccountPattern(receiver, acc.AccountNo) {
			return nil
		}
	}

	return fmt.Errorf("%w: account %q bank %q", ErrAccountMismatch, receiver, slip.ReceivingBank)
}

func bankMatches(configured, actual string) bool {
	return configured == "" || configured == actual || strings.Contains(actual, configured)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if isDigit(ch) {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
