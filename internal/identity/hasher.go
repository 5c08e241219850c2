package identity

import (
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/glucotrack/internal/model"
)

// DefaultPasswordMinLength はパスワードの最小文字数のデフォルト値。
const DefaultPasswordMinLength = 6

// HashPassword は平文パスワードをbcryptでハッシュ化する。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword は平文パスワードとハッシュを比較する。一致しない場合はエラーを返す。
func VerifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// NormalizeEmail はメールアドレスの前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateCredentials はメールアドレスとパスワードの形式を検証する。
// emailはNormalizeEmail済みであることを前提とする。
func ValidateCredentials(email, password string, minLength int) error {
	if email == "" {
		return model.NewValidationError("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return model.NewValidationError(fmt.Sprintf("malformed email: %s", email))
	}
	if len(password) < minLength {
		return model.NewValidationError(fmt.Sprintf("password must be at least %d characters", minLength))
	}
	// bcryptは72バイトを超える入力を扱えない
	if len(password) > 72 {
		return model.NewValidationError("password must be at most 72 bytes")
	}
	return nil
}
