package auth

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 14
	MinPasswordLen = 8
	MaxPasswordLen = 128
)

// PasswordValidationError lists every rule a password broke. Error() stays generic so the
// response never teaches a caller the policy.
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	return "invalid password"
}

// PasswordPolicy describes an acceptable primary credential
type PasswordPolicy struct {
	MinLength int
	MaxLength int
	// RequireClasses demands upper, lower, digit and symbol characters
	RequireClasses bool
	Denylist       map[string]struct{}
}

// DefaultPasswordPolicy is applied to administrator and staff credentials
var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:      MinPasswordLen,
	MaxLength:      MaxPasswordLen,
	RequireClasses: true,
	Denylist: denylist(
		"password", "password1", "password123", "password123!", "passw0rd", "12345678", "123456",
		"qwerty", "abc123", "admin", "letmein", "welcome", "welcome1", "changeme",
		"salon", "salon123", "salon2024", "parlour", "parlour123", "beauty123", "booking123",
	),
}

func denylist(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// denied matches case-insensitively, also with trailing symbols stripped ("Salon123!" hits "salon123")
func (p PasswordPolicy) denied(password string) bool {
	lower := strings.ToLower(password)
	if _, ok := p.Denylist[lower]; ok {
		return true
	}
	trimmed := strings.TrimRightFunc(lower, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	_, ok := p.Denylist[trimmed]
	return ok
}

// ValidatePassword checks a password against DefaultPasswordPolicy
func ValidatePassword(password string) error {
	return DefaultPasswordPolicy.Validate(password)
}

// Validate collects every violated rule
func (p PasswordPolicy) Validate(password string) error {
	var problems []string

	if n := len(password); n < p.MinLength {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", p.MinLength))
	} else if p.MaxLength > 0 && n > p.MaxLength {
		problems = append(problems, fmt.Sprintf("must be at most %d characters", p.MaxLength))
	}

	if p.RequireClasses {
		problems = append(problems, missingClasses(password)...)
	}

	if p.denied(password) {
		problems = append(problems, "is too common")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Errors: problems}
	}
	return nil
}

func missingClasses(password string) []string {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	var missing []string
	for _, c := range []struct {
		ok   bool
		name string
	}{{upper, "an uppercase letter"}, {lower, "a lowercase letter"}, {digit, "a digit"}, {symbol, "a symbol"}} {
		if !c.ok {
			missing = append(missing, "must contain "+c.name)
		}
	}
	return missing
}

func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, BcryptCost)
}

// HashPasswordWithCost lets tests and tooling trade strength for speed
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// CompareDummy burns the same bcrypt work as a real comparison. Used for unknown identities
// so that response time does not reveal whether an account exists.
func CompareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("parlourguard-dummy-password"), BcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
