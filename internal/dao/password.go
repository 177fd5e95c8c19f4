package dao

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultBcryptCost = 12
	minPasswordLength = 12
	maxPasswordLength = 20

	specialChars = "!@#$%^&*()-_=+"
)

// passwordManager hashes and validates account passwords. Adapted
// from the teacher's internal/auth.PasswordManager, narrowed to the
// three operations UserDAO actually needs (hash, verify,
// validateStrength).
type passwordManager struct {
	bcryptCost int
}

func newPasswordManager() *passwordManager {
	return &passwordManager{bcryptCost: defaultBcryptCost}
}

func (p *passwordManager) hash(password string) (string, error) {
	if len(password) > maxPasswordLength {
		return "", fmt.Errorf("password too long")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func (p *passwordManager) verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateStrength enforces the registration password policy exactly:
// 12-20 characters, at least one uppercase letter, one lowercase
// letter, one digit, and one of specialChars.
func (p *passwordManager) validateStrength(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return fmt.Errorf("password must be %d-%d characters", minPasswordLength, maxPasswordLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsNumber(c):
			hasNumber = true
		case strings.ContainsRune(specialChars, c):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasNumber || !hasSpecial {
		return fmt.Errorf("password must contain an uppercase letter, a lowercase letter, a digit, and one of %q", specialChars)
	}
	return nil
}
