package auth

import (
	"strings"
	"unicode/utf8"

	"pwm-go/internal/kdf"
	"pwm-go/internal/model"
)

const specialChars = `!@#$%^&*(),.?":{}|<>`

// minStrength is the number of satisfied requirements for a valid password.
const minStrength = 3

// ValidatePasswordStrength scores password against five independent checks.
// Letter and digit checks are ASCII only. The result is advisory; it does not
// gate CreateMasterPassword beyond the length rule.
func ValidatePasswordStrength(password string) model.PasswordStrength {
	req := model.PasswordRequirements{
		MinLength: utf8.RuneCountInString(password) >= kdf.MinPasswordLength,
	}
	for i := 0; i < len(password); i++ {
		c := password[i]
		switch {
		case c >= 'A' && c <= 'Z':
			req.HasUpperCase = true
		case c >= 'a' && c <= 'z':
			req.HasLowerCase = true
		case c >= '0' && c <= '9':
			req.HasNumbers = true
		case strings.IndexByte(specialChars, c) >= 0:
			req.HasSpecial = true
		}
	}

	strength := 0
	for _, ok := range []bool{req.MinLength, req.HasUpperCase, req.HasLowerCase, req.HasNumbers, req.HasSpecial} {
		if ok {
			strength++
		}
	}

	return model.PasswordStrength{
		Requirements: req,
		Strength:     strength,
		IsValid:      strength >= minStrength,
	}
}
