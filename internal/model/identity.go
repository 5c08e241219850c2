// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証可能なアカウントを表す。
// 認証基盤（identityパッケージ）が所有し、プロフィールとは別に管理される。
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Session はアクセストークンとリフレッシュトークンの組を表す。
// 1つのSessionは常に1つのIdentityに紐づく。
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	ExpiresAt    time.Time // アクセストークンの有効期限
}

// Credentials はクライアントから受け取るトークンの組。
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Credentials はSessionのトークンの組を返す。
func (s *Session) Credentials() Credentials {
	return Credentials{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

// RefreshToken は永続化されたリフレッシュトークンを表す。
// トークン本体は保存せず、SHA-256ハッシュのみを保持する。
type RefreshToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Actor はストア操作を行う主体を表す。
// 行レベルの可視性ルールはActorに基づいて評価される。
type Actor struct {
	UserID     string
	Privileged bool // サービスロール
}

// ServiceActor はサービスロールのActorを返す。
func ServiceActor() Actor {
	return Actor{Privileged: true}
}

// UserActor は指定ユーザーのActorを返す。
func UserActor(userID string) Actor {
	return Actor{UserID: userID}
}

// IsAnonymous はActorが未認証かどうかを返す。
func (a Actor) IsAnonymous() bool {
	return !a.Privileged && a.UserID == ""
}
