package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

type contextKey string

const telegramIDKey contextKey = "telegramID"

const (
	telegramIDHeader       = "X-Telegram-Id"
	telegramInitDataHeader = "X-Telegram-Init-Data"
)

// IdentityMiddleware извлекает идентификатор пользователя Telegram Mini App
// из заголовков запроса. Если задан токен бота и передан init data, подпись
// init data проверяется; запрос с неверной подписью отклоняется.
type IdentityMiddleware struct {
	botToken []byte
}

// NewIdentityMiddleware создаёт middleware идентификации с указанным токеном бота.
// Пустой токен отключает проверку подписи: идентификатор берётся из заголовка как есть.
func NewIdentityMiddleware(botToken string) *IdentityMiddleware {
	return &IdentityMiddleware{botToken: []byte(botToken)}
}

// Middleware добавляет Telegram ID пользователя в контекст запроса.
// Идентификация необязательна: запрос без заголовков проходит дальше без ID.
func (m *IdentityMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		telegramID := strings.TrimSpace(r.Header.Get(telegramIDHeader))

		if initData := r.Header.Get(telegramInitDataHeader); initData != "" && len(m.botToken) > 0 {
			if !m.verifyInitData(initData) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"success":false,"error":"Недействительные данные авторизации"}`))
				return
			}
		}

		if telegramID == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), telegramIDKey, telegramID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyInitData проверяет подпись init data Telegram Mini App:
// HMAC-SHA256 от отсортированных пар key=value с ключом HMAC("WebAppData", botToken).
func (m *IdentityMiddleware) verifyInitData(initData string) bool {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return false
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return false
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	dataCheckString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write(m.botToken)
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(dataCheckString))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(gotHash))
}

// GetTelegramIDFromContext извлекает Telegram ID пользователя из контекста запроса.
func GetTelegramIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(telegramIDKey).(string)
	return id, ok
}
