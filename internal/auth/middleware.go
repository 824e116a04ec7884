package auth

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

// SubjectKey holds the verified token subject (the calling service's name).
const SubjectKey contextKey = "auth_subject"

func jwtSecretFromEnv() ([]byte, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET not configured")
	}
	return []byte(secret), nil
}

// Middleware validates a service bearer token. Tokens are minted offline for
// the scheduler; there is no end-user login surface.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")

		// Operators may also authenticate with the raw admin secret.
		if adminHeader := c.Request().Header.Get("X-Admin-Secret"); adminHeader != "" {
			if VerifyAdminSecret(adminHeader) {
				c.Set(string(SubjectKey), "admin")
				return next(c)
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid admin secret")
		}

		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}

		secretKey, err := jwtSecretFromEnv()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Server auth configuration error")
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secretKey, nil
		})
		if err != nil || !token.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token subject")
		}

		c.Set(string(SubjectKey), sub)
		return next(c)
	}
}

// VerifyAdminSecret compares a presented secret against the bcrypt hash in
// ADMIN_SECRET_HASH. An unset hash means the header path is disabled.
func VerifyAdminSecret(presented string) bool {
	hash := strings.TrimSpace(os.Getenv("ADMIN_SECRET_HASH"))
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
}
