// Package middleware содержит HTTP middleware сервиса заказов.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/mmeshcher/stallorder/internal/model"
)

type contextKey string

const actorKey contextKey = "actor"

const authCookieName = "auth_token"

// AuthMiddleware проверяет подписанный токен участника из cookie или заголовка Authorization.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт middleware с указанным секретом. Пустой секрет заменяется случайным.
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
	}
}

// Middleware извлекает участника из токена и кладёт его в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if cookie, err := r.Cookie(authCookieName); err == nil {
				token = cookie.Value
			}
		}

		actor, ok := a.ParseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole пропускает только участников с одной из указанных ролей.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// IssueToken подписывает идентичность участника: id|role|verified.
func (a *AuthMiddleware) IssueToken(actor model.Actor) string {
	payload := actor.ID + "|" + string(actor.Role) + "|" + strconv.FormatBool(actor.EmailVerified)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + a.sign(encoded)
}

func (a *AuthMiddleware) sign(encoded string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseToken проверяет подпись токена и восстанавливает участника.
func (a *AuthMiddleware) ParseToken(token string) (model.Actor, bool) {
	encoded, signature, found := strings.Cut(token, ".")
	if !found || encoded == "" {
		return model.Actor{}, false
	}

	if !hmac.Equal([]byte(signature), []byte(a.sign(encoded))) {
		return model.Actor{}, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return model.Actor{}, false
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 || parts[0] == "" {
		return model.Actor{}, false
	}

	role := model.Role(parts[1])
	switch role {
	case model.RoleCustomer, model.RoleVendor, model.RoleAdmin:
	default:
		return model.Actor{}, false
	}

	verified, err := strconv.ParseBool(parts[2])
	if err != nil {
		return model.Actor{}, false
	}

	return model.Actor{ID: parts[0], Role: role, EmailVerified: verified}, true
}

// ActorFromContext извлекает участника из контекста запроса.
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(model.Actor)
	return actor, ok
}

// WithActor кладёт участника в контекст.
func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}
