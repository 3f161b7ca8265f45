// Package signature реализует каноническую подпись HMAC-SHA256 для платёжного шлюза.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMissingSecretKey возвращается, если секретный ключ подписи не задан.
var ErrMissingSecretKey = errors.New("signature secret key is not configured")

// Sign вычисляет подпись полезной нагрузки в виде hex-строки в нижнем регистре.
func Sign(payload map[string]any, secretKey, partnerID string) (string, error) {
	if secretKey == "" {
		return "", ErrMissingSecretKey
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(Canonical(payload, partnerID)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify сравнивает переданную подпись с вычисленной за постоянное время.
func Verify(payload map[string]any, secretKey, partnerID, signature string) (bool, error) {
	expected, err := Sign(payload, secretKey, partnerID)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))), nil
}

// Canonical строит подписываемую строку: ключи без nil-значений, вложенные
// объекты развёрнуты в ключи через точку, пары key=value отсортированы по
// ключу и соединены через &. При наличии partnerID строка получает префикс
// "partnerID:".
func Canonical(payload map[string]any, partnerID string) string {
	flat := make(map[string]string, len(payload))
	flatten("", payload, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if partnerID != "" {
		b.WriteString(partnerID)
		b.WriteByte(':')
	}
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(flat[k])
	}
	return b.String()
}

func flatten(prefix string, m map[string]any, out map[string]string) {
	for k, v := range m {
		if v == nil {
			continue
		}

		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch nested := v.(type) {
		case map[string]any:
			flatten(key, nested, out)
		case map[string]string:
			for nk, nv := range nested {
				out[key+"."+nk] = nv
			}
		default:
			out[key] = formatValue(v)
		}
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case json.Number:
		// Числа из входящего JSON приводятся к той же форме, что и числа,
		// подписанные отправителем: 500.00 -> 500, 1e3 -> 1000.
		if f, err := val.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return val.String()
	case decimal.Decimal:
		return val.String()
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprint(val)
	}
}
