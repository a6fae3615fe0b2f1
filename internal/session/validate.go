package session

import (
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/heritage-client/internal/api"
	"github.com/nhle/heritage-client/internal/model"
)

const minPasswordLength = 8

func validateEmail(op, email string) error {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return api.Validation(op, "Please enter a valid email address.")
	}
	return nil
}

func validateNewPassword(op, password string) error {
	if len(password) < minPasswordLength {
		return api.Validation(op, "Password must be at least 8 characters long.")
	}
	return nil
}

func validateCredentials(c model.Credentials) error {
	if strings.TrimSpace(c.Identifier) == "" {
		return api.Validation("login", "Please enter your email or username.")
	}
	if c.Secret == "" {
		return api.Validation("login", "Please enter your password.")
	}
	return nil
}

func validateRegistration(r model.Registration) error {
	if strings.TrimSpace(r.Username) == "" {
		return api.Validation("register", "Username is required.")
	}
	if err := validateEmail("register", r.Email); err != nil {
		return err
	}
	return validateNewPassword("register", r.Password)
}

// tokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens report ok == false and are validated against the backend.
func tokenExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// extractToken accepts either field name the backend has used.
func extractToken(body map[string]any) string {
	for _, key := range []string{"access_token", "token"} {
		if s, ok := body[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
