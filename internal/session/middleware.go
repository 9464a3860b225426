package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName carries the signed session token for browsers.
const CookieName = "tumor_session"

type contextKey string

const sessionIDKey contextKey = "sessionID"

// GetSessionID retrieves the session identifier from context.
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(sessionIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithSessionID returns a context carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// Issuer signs and verifies session tokens. Sessions are anonymous: the token only
// proves the server handed out this identifier.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer for an HMAC secret.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue creates a new session and its signed token.
func (i *Issuer) Issue() (sessionID, token string, err error) {
	sessionID = uuid.NewString()
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", err
	}
	return sessionID, token, nil
}

// Verify returns the session ID carried by a valid token.
func (i *Issuer) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", errors.New("malformed subject")
	}
	return claims.Subject, nil
}

// Middleware resolves the session from a bearer token or the session cookie, issuing a
// fresh session when neither is valid, and injects the session ID into the request context.
func Middleware(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := ""
		if tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization")); err == nil {
			sessionID, _ = issuer.Verify(tokenString)
		}
		if sessionID == "" {
			if cookie, err := c.Cookie(CookieName); err == nil {
				sessionID, _ = issuer.Verify(cookie)
			}
		}

		if sessionID == "" {
			id, token, err := issuer.Issue()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unable to start session"})
				return
			}
			sessionID = id
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(CookieName, token, int(issuer.ttl.Seconds()), "/", "", c.Request.TLS != nil, true)
			c.Header("X-Session-Token", token)
		}

		c.Request = c.Request.WithContext(WithSessionID(c.Request.Context(), sessionID))
		c.Set(string(sessionIDKey), sessionID)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}
