// Package auth gates the operator surface (C11): a bearer token identifies
// an operator and the role they were issued, and the role decides which
// parts of the live dashboard/API they can reach. internal/opsapi gates
// /stats and /ws at RoleViewer; no endpoint in this repository requires
// RoleOperator or RoleAdmin.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var SecretKey = []byte("SUPER_SECRET_KEY_CHANGE_IN_PROD")

// Role ranks what an operator token is allowed to reach on the operator
// surface. Roles are ordered: a higher role satisfies any lower requirement.
type Role string

const (
	RoleViewer   Role = "viewer"   // read-only: /stats, the /ws lifecycle feed
	RoleOperator Role = "operator" // may also mutate live records (SetVar, SetUserField)
	RoleAdmin    Role = "admin"    // may also register/unregister backends
)

// rank orders roles for RequireRole's comparison; unknown roles rank below
// RoleViewer so a malformed/blank role in a token never satisfies anything.
func (r Role) rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// satisfies reports whether r meets the minimum required role.
func (r Role) satisfies(min Role) bool {
	return r.rank() >= min.rank()
}

type Claims struct {
	OperatorID   int    `json:"operator_id"`
	OperatorName string `json:"operator_name"`
	Role         Role   `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a new JWT token for an operator holding role.
func GenerateToken(operatorID int, operatorName string, role Role) (string, error) {
	expirationTime := time.Now().Add(24 * time.Hour)
	claims := &Claims{
		OperatorID:   operatorID,
		OperatorName: operatorName,
		Role:         role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			Issuer:    "cdrengine",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(SecretKey)
}

// VerifyPassword checks hashed password
func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// HashPassword hashes a password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	return string(bytes), err
}

type contextKey int

const claimsContextKey contextKey = 0

// Middleware verifies the JWT token and stashes its claims on the request
// context. It does not itself enforce a role; handlers that need more than
// "any operator" use RequireRole on top of it.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		tokenStr := parts[1]
		claims := &Claims{}

		token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
			return SecretKey, nil
		})

		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole wraps next so it only runs when the token Middleware already
// authenticated carries at least min. Must be mounted inside Middleware.
func RequireRole(min Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetOperatorFromContext(r.Context())
		if err != nil {
			http.Error(w, "no authenticated operator", http.StatusUnauthorized)
			return
		}
		if !claims.Role.satisfies(min) {
			http.Error(w, "operator role does not permit this action", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetOperatorFromContext retrieves the authenticated operator's claims.
func GetOperatorFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	if !ok {
		return nil, errors.New("no operator in context")
	}
	return claims, nil
}
