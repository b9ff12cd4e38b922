// Package middleware содержит HTTP middleware сервиса аренды ячеек.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const operatorKey contextKey = "operator"

const (
	authCookieName = "admin_token"
	bearerPrefix   = "Bearer "
)

// AuthMiddleware проверяет подписанный токен оператора из заголовка
// Authorization: Bearer или из cookie.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом секрете используется случайный ключ: выданные токены не переживут перезапуск.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// Middleware проверяет токен и добавляет имя оператора в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if cookie, err := r.Cookie(authCookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		operator, ok := a.parseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(h[len(bearerPrefix):])
}

// IssueToken выдаёт токен оператора со сроком действия ttl.
func (a *AuthMiddleware) IssueToken(operator string, ttl time.Duration) string {
	expires := strconv.FormatInt(a.now().Add(ttl).Unix(), 10)
	payload := operator + "." + expires
	return payload + "." + a.sign(payload)
}

// SetAuthCookie устанавливает cookie с токеном оператора.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, operator string, ttl time.Duration) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.IssueToken(operator, ttl),
		Path:     "/",
		Expires:  a.now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (string, bool) {
	sigAt := strings.LastIndexByte(token, '.')
	if sigAt <= 0 {
		return "", false
	}
	payload, signature := token[:sigAt], token[sigAt+1:]

	if !hmac.Equal([]byte(signature), []byte(a.sign(payload))) {
		return "", false
	}

	expAt := strings.LastIndexByte(payload, '.')
	if expAt <= 0 {
		return "", false
	}
	operator := payload[:expAt]

	expires, err := strconv.ParseInt(payload[expAt+1:], 10, 64)
	if err != nil {
		return "", false
	}
	if a.now().Unix() >= expires {
		return "", false
	}

	return operator, true
}

// OperatorFromContext извлекает имя оператора из контекста запроса.
func OperatorFromContext(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(operatorKey).(string)
	return op, ok
}
