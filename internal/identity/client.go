package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/glucotrack/internal/model"
)

// Client は1つのアンビエントセッションを保持するクライアントコンテキスト。
// SignUp・SignInWithPassword・SetSessionはいずれもアンビエントセッションを置き換える。
// 並行利用は安全ではない。リクエストごとに1つ生成すること。
type Client struct {
	backend Backend
	session *model.Session
	user    *model.Identity
}

// NewClient はセッションを持たないClientを生成する。
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// SetSession はトークンの組でアンビエントセッションを確立する。
// 失敗した場合はアンビエントセッションを破棄する。
func (c *Client) SetSession(ctx context.Context, creds model.Credentials) error {
	identity, session, err := c.backend.ExchangeSession(ctx, creds)
	if err != nil {
		c.clear()
		return err
	}
	c.bind(identity, session)
	return nil
}

// GetUser はアンビエントセッションのアクセストークンを認証基盤で検証し、identityを返す。
// セッションがない場合はnilを返す。
func (c *Client) GetUser(ctx context.Context) (*model.Identity, error) {
	if c.session == nil {
		return nil, nil
	}
	identity, err := c.backend.GetUser(ctx, c.session.AccessToken)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// Session は現在のアンビエントセッションのコピーを返す。セッションがない場合はnil。
func (c *Client) Session() *model.Session {
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// SignUp はアカウントを作成し、アンビエントセッションを新しいアカウントに切り替える。
// それまでのセッションはこのClientからは失われる。
func (c *Client) SignUp(ctx context.Context, email, password string) (*model.Identity, error) {
	identity, session, err := c.backend.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.bind(identity, session)
	return identity, nil
}

// SignInWithPassword はログインし、アンビエントセッションを置き換える。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, *model.Session, error) {
	identity, session, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	c.bind(identity, session)
	return identity, c.Session(), nil
}

// SignOut はリフレッシュトークンを失効させ、アンビエントセッションを破棄する。
func (c *Client) SignOut(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	err := c.backend.SignOut(ctx, c.session.RefreshToken)
	c.clear()
	return err
}

// Actor はアンビエントセッションのActorを返す。セッションがない場合は匿名。
func (c *Client) Actor() model.Actor {
	if c.user == nil {
		return model.Actor{}
	}
	return model.UserActor(c.user.ID)
}

func (c *Client) bind(identity *model.Identity, session *model.Session) {
	c.user = identity
	c.session = session
}

func (c *Client) clear() {
	c.user = nil
	c.session = nil
}

// Establish はトークンの組でセッションを確立したClientと、検証済みのidentityを返す。
// 認証基盤のAPIErrorはそのまま返し、それ以外のエラーはラップする。
func Establish(ctx context.Context, backend Backend, creds model.Credentials) (*Client, *model.Identity, error) {
	client := NewClient(backend)
	if err := client.SetSession(ctx, creds); err != nil {
		return nil, nil, sessionError(err)
	}
	user, err := client.GetUser(ctx)
	if err != nil {
		return nil, nil, sessionError(err)
	}
	if user == nil {
		return nil, nil, model.NewSessionInvalidError("please sign in again")
	}
	return client, user, nil
}

func sessionError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return fmt.Errorf("failed to establish session: %w", err)
}
