package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	userIDKey = "userID"
	scopesKey = "scopes"

	ScopeInternal = "internal"
)

var errBadClaims = errors.New("invalid token claims")

// Auth verifies an HS256 bearer token and stores the `sub` claim as the
// acting user. Websocket clients may pass the token as ?token= instead,
// since browsers cannot set headers on the upgrade request.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := Bearer(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		userID, scopes, err := VerifyToken(raw, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Set(scopesKey, scopes)
		c.Next()
	}
}

// RequireScope rejects tokens that lack scope. It must run after Auth.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes, _ := c.Get(scopesKey)
		list, _ := scopes.([]string)
		if HasScope(list, scope) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing scope " + scope})
	}
}

// UserID returns the authenticated caller.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// HasScope reports whether scopes contains want.
func HasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// Bearer extracts the token from an "Authorization: Bearer <token>" value.
func Bearer(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// VerifyToken checks an HS256 token and returns its subject and scopes.
func VerifyToken(raw string, secret []byte) (uuid.UUID, []string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, nil, errBadClaims
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, nil, err
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, nil, errBadClaims
	}
	return id, scopeList(claims["scope"]), nil
}

// scopeList accepts either a space separated string or a JSON array.
func scopeList(v any) []string {
	switch s := v.(type) {
	case string:
		return strings.Fields(s)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Sign issues a token for tests and local tooling.
func Sign(secret []byte, userID uuid.UUID, scopes ...string) (string, error) {
	claims := jwt.MapClaims{"sub": userID.String()}
	if len(scopes) > 0 {
		claims["scope"] = strings.Join(scopes, " ")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
