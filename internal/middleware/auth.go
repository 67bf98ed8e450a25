package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const deviceKey ctxKey = iota

var ErrInvalidToken = errors.New("invalid token")

// DeviceID returns the device attached by Auth, or ""
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey).(string)
	return id
}

// WithDeviceID attaches a device id to ctx
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceKey, id)
}

// Auth verifies HS256 bearer tokens carrying a deviceId claim.
// With an empty secret every request passes and the device comes from X-Device-ID or ?deviceId=.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Enabled reports whether tokens are verified
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			device := r.Header.Get("X-Device-ID")
			if device == "" {
				device = r.URL.Query().Get("deviceId")
			}
			next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), device)))
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing access token")
			return
		}

		device, err := a.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), device)))
	})
}

// Verify checks a token and returns its deviceId claim
func (a *Auth) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	device, ok := claims["deviceId"].(string)
	if !ok || device == "" {
		return "", ErrInvalidToken
	}
	return device, nil
}

// IssueToken signs a device token. Used by tooling; the server does not issue credentials.
func IssueToken(secret, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"deviceId": deviceID,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// bearerToken reads the Authorization header, falling back to ?token= for EventSource clients
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	return r.URL.Query().Get("token")
}
