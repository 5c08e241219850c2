package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/glucotrack/internal/model"
)

// RedisRefreshTokenRepo はRedisを使用したリフレッシュトークンリポジトリ。
// トークンはTTL付きで保存し、ユーザー単位の失効のためにユーザーごとのハッシュ集合を持つ。
type RedisRefreshTokenRepo struct {
	client *redis.Client
	prefix string
}

// NewRedisRefreshTokenRepo はRedisRefreshTokenRepoを生成する。
func NewRedisRefreshTokenRepo(client *redis.Client) *RedisRefreshTokenRepo {
	return &RedisRefreshTokenRepo{
		client: client,
		prefix: "refresh:",
	}
}

// NewRedisClient はRedis URLからクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (r *RedisRefreshTokenRepo) tokenKey(tokenHash string) string {
	return r.prefix + "token:" + tokenHash
}

func (r *RedisRefreshTokenRepo) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

// Create はリフレッシュトークンを有効期限までのTTLで保存する。
func (r *RedisRefreshTokenRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("failed to create refresh token: expires_at must be in the future")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.tokenKey(token.TokenHash), data, ttl)
	pipe.SAdd(ctx, r.userKey(token.UserID), token.TokenHash)
	// 集合のTTLは最後に発行したトークンに合わせる
	pipe.Expire(ctx, r.userKey(token.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// FindByHash はハッシュでリフレッシュトークンを取得する。期限切れ・未登録の場合はnilを返す。
func (r *RedisRefreshTokenRepo) FindByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	val, err := r.client.Get(ctx, r.tokenKey(tokenHash)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	var token model.RefreshToken
	if err := json.Unmarshal(val, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	if !token.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return &token, nil
}

// Consume はGETDELでトークンを取り出す。GETDELは原子的なので、同じトークンを受け取れるのは1件だけ。
func (r *RedisRefreshTokenRepo) Consume(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	val, err := r.client.GetDel(ctx, r.tokenKey(tokenHash)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	var token model.RefreshToken
	if err := json.Unmarshal(val, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	if err := r.client.SRem(ctx, r.userKey(token.UserID), tokenHash).Err(); err != nil {
		return nil, fmt.Errorf("failed to unlink consumed refresh token: %w", err)
	}
	if !token.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return &token, nil
}

// DeleteByHash は指定ハッシュのリフレッシュトークンを削除する。
func (r *RedisRefreshTokenRepo) DeleteByHash(ctx context.Context, tokenHash string) error {
	token, err := r.FindByHash(ctx, tokenHash)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.tokenKey(tokenHash))
	if token != nil {
		pipe.SRem(ctx, r.userKey(token.UserID), tokenHash)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全リフレッシュトークンを削除する。
func (r *RedisRefreshTokenRepo) DeleteByUserID(ctx context.Context, userID string) error {
	hashes, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to list user refresh tokens: %w", err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, r.tokenKey(h))
	}
	keys = append(keys, r.userKey(userID))

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete user refresh tokens: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RefreshTokenRepository = (*RedisRefreshTokenRepo)(nil)
