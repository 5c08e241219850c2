package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/glucotrack/internal/model"
)

// Claims はアクセストークンのクレーム。SubjectにidentityのIDを持つ。
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256署名のアクセストークンを発行・検証する。
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		key: []byte(secret),
		ttl: ttl,
		now: time.Now,
	}
}

// Issue はidentityのアクセストークンと有効期限を返す。
func (i *TokenIssuer) Issue(identity *model.Identity) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse はアクセストークンを検証してクレームを返す。
// 期限切れの場合はjwt.ErrTokenExpiredをラップしたエラーを返す。
func (i *TokenIssuer) Parse(token string) (*Claims, error) {
	return i.parse(token, jwt.WithTimeFunc(i.now))
}

// parseIgnoringExpiry は署名のみを検証し、有効期限は検証しない。
// リフレッシュトークンによるローテーション時に期限切れトークンの主体を確認するために使う。
func (i *TokenIssuer) parseIgnoringExpiry(token string) (*Claims, error) {
	return i.parse(token, jwt.WithoutClaimsValidation())
}

func (i *TokenIssuer) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// IsExpired はerrがトークン期限切れによるものかを返す。
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

// generateRefreshToken は暗号的に安全なリフレッシュトークンを生成する。
func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashRefreshToken はリフレッシュトークンの保存用ハッシュを返す。
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
