package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionTokenIssuer はセッショントークンのiss。
const sessionTokenIssuer = "todoman"

// ErrInvalidSessionToken はセッショントークンの署名、形式、有効期限のいずれかが不正であることを表す。
var ErrInvalidSessionToken = errors.New("invalid session token")

// sessionClaims はセッションCookieに格納するクレーム。
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionTokenCodec はセッションIDをHS256署名付きトークンとして発行・検証する。
// サーバー側のsessionsテーブルが正であり、トークンはセッションIDの改ざん防止に使う。
type SessionTokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewSessionTokenCodec はSessionTokenCodecを生成する。
func NewSessionTokenCodec(secret []byte) *SessionTokenCodec {
	return &SessionTokenCodec{secret: secret, now: time.Now}
}

// Sign はセッションIDとその有効期限からトークンを発行する。
func (c *SessionTokenCodec) Sign(sessionID string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、セッションIDを返す。
// 検証に失敗した場合はErrInvalidSessionTokenを返す。
func (c *SessionTokenCodec) Verify(token string) (string, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if claims.SessionID == "" {
		return "", ErrInvalidSessionToken
	}
	return claims.SessionID, nil
}
