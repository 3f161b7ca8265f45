// Package middleware содержит HTTP middleware платёжного сервиса.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const userIDKey contextKey = "userID"

const bearerPrefix = "Bearer "

// AuthMiddleware проверяет bearer-токен вида "<userID>.<hex hmac>", выданный
// сервисом аутентификации с тем же секретом.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным секретным ключом.
// Пустой секрет заменяется случайным, и ни один внешний токен не пройдёт проверку.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет заголовок Authorization и добавляет идентификатор
// пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, ok := a.parseToken(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// IssueToken подписывает идентификатор пользователя.
func (a *AuthMiddleware) IssueToken(userID string) string {
	return userID + "." + hex.EncodeToString(a.sign(userID))
}

func (a *AuthMiddleware) sign(userID string) []byte {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(userID))
	return mac.Sum(nil)
}

func (a *AuthMiddleware) parseToken(token string) (string, bool) {
	idStr, sigHex, found := strings.Cut(token, ".")
	if !found || strings.Contains(sigHex, ".") {
		return "", false
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", false
	}

	if !hmac.Equal(sig, a.sign(idStr)) {
		return "", false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return "", false
	}

	return id.String(), true
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithUserID возвращает контекст с идентификатором пользователя.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
