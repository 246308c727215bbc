// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/tracing"
)

// OAuthUserInfo はOAuthプロバイダーから取得した検証済みのユーザー情報を表す。
type OAuthUserInfo struct {
	Subject string
	Email   string
	Name    string
	Nonce   string // IDトークンに含まれていたnonce
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL はstate、nonce、PKCE verifierに対応する認可URLを生成する。
	AuthCodeURL(state, nonce, verifier string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code, verifier string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge time.Duration // セッション有効期間
	StateTTL      time.Duration // ログイン開始からコールバックまでの有効期間
	SessionSecret []byte        // セッショントークンの署名鍵
}

// LoginRequest はログイン開始時の結果を表す。
type LoginRequest struct {
	URL       string    // プロバイダーの認可URL
	State     string    // ブラウザに結び付けるstate
	ExpiresAt time.Time // stateの有効期限
}

// CallbackParams はOAuthコールバックで受け取る値を表す。
type CallbackParams struct {
	State       string // クエリのstate
	Code        string // クエリのcode
	Error       string // クエリのerror（プロバイダー側で拒否された場合）
	CookieState string // ログイン開始時にブラウザへ保存したstate
}

// LoginResult はログイン完了時の結果を表す。
type LoginResult struct {
	User    *model.User
	Created bool // 初回ログインでユーザーを作成したかどうか
	Session *model.Session
	Token   string // セッションCookieに設定する署名付きトークン
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	stateRepo   repository.OAuthStateRepository
	tokens      *SessionTokenCodec
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	stateRepo repository.OAuthStateRepository,
	config ServiceConfig,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		stateRepo:   stateRepo,
		tokens:      NewSessionTokenCodec(config.SessionSecret),
		metrics:     collector,
		config:      config,
		now:         time.Now,
	}
}

// BeginLogin はstate、nonce、PKCE verifierを生成して保存し、認可URLを返す。
func (s *Service) BeginLogin(ctx context.Context) (*LoginRequest, error) {
	state, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := randomToken(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	now := s.now()
	oauthState := &model.OAuthState{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		ExpiresAt:    now.Add(s.config.StateTTL),
		CreatedAt:    now,
	}
	if err := s.stateRepo.Create(ctx, oauthState); err != nil {
		return nil, fmt.Errorf("failed to save oauth state: %w", err)
	}

	return &LoginRequest{
		URL:       s.oauth.AuthCodeURL(state, nonce, verifier),
		State:     state,
		ExpiresAt: oauthState.ExpiresAt,
	}, nil
}

// CompleteLogin はOAuthコールバックを処理し、ユーザーの特定または作成とセッション発行を行う。
// ハンドシェイクに失敗した場合はAUTH_EXCHANGE_FAILEDを返し、ユーザーもセッションも作成しない。
func (s *Service) CompleteLogin(ctx context.Context, params CallbackParams) (result *LoginResult, err error) {
	ctx, span := tracing.Start(ctx, "auth.CompleteLogin")
	defer func() {
		tracing.RecordError(span, err)
		span.End()
		s.recordLogin(result, err)
	}()

	// 1. コールバックパラメータとブラウザに結び付けたstateを検証
	if params.Error != "" {
		slog.Warn("oauth provider returned error", slog.String("error", params.Error))
		return nil, model.NewAuthExchangeError("provider denied the request")
	}
	if params.State == "" || params.Code == "" {
		return nil, model.NewAuthExchangeError("missing state or code")
	}
	if params.CookieState == "" || subtle.ConstantTimeCompare([]byte(params.CookieState), []byte(params.State)) != 1 {
		return nil, model.NewAuthExchangeError("state mismatch")
	}

	// 2. stateを消費し、コードを交換してIDトークンを検証
	info, err := s.ExchangeIdentity(ctx, params.State, params.Code)
	if err != nil {
		return nil, err
	}

	// 3. ユーザーを特定または作成
	user, created, err := s.FindOrCreateUser(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create user: %w", err)
	}

	// 4. セッションを発行
	session, token, err := s.EstablishSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}

	span.SetAttributes(attribute.Int64("user_id", user.ID), attribute.Bool("created", created))

	return &LoginResult{
		User:    user,
		Created: created,
		Session: session,
		Token:   token,
	}, nil
}

// ExchangeIdentity はstateを1回だけ消費し、認可コードを交換して検証済みのユーザー情報を返す。
// stateが未知・期限切れ・消費済みの場合、交換に失敗した場合、nonceが一致しない場合は
// AUTH_EXCHANGE_FAILEDを返す。
func (s *Service) ExchangeIdentity(ctx context.Context, state, code string) (*OAuthUserInfo, error) {
	stored, err := s.stateRepo.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if stored == nil {
		return nil, model.NewAuthExchangeError("unknown or expired state")
	}

	info, err := s.oauth.ExchangeCode(ctx, code, stored.CodeVerifier)
	if err != nil {
		slog.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		return nil, model.NewAuthExchangeError("code exchange failed")
	}

	if info.Nonce == "" || subtle.ConstantTimeCompare([]byte(info.Nonce), []byte(stored.Nonce)) != 1 {
		return nil, model.NewAuthExchangeError("nonce mismatch")
	}
	if info.Subject == "" || info.Email == "" {
		return nil, model.NewAuthExchangeError("incomplete profile")
	}

	return info, nil
}

// FindOrCreateUser はsubject IDで、次にメールアドレスでユーザーを検索し、
// 見つからなければ作成する。2番目の戻り値は作成したかどうか。
// 同時作成で一意制約違反となった場合は、先に作成された行を取得し直す。
func (s *Service) FindOrCreateUser(ctx context.Context, info *OAuthUserInfo) (*model.User, bool, error) {
	user, err := s.findExisting(ctx, info)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		slog.Info("existing user logged in", slog.Int64("user_id", user.ID))
		return user, false, nil
	}

	newUser := &model.User{
		GoogleID: info.Subject,
		Email:    info.Email,
		Name:     info.Name,
	}
	err = s.userRepo.Create(ctx, newUser)
	if errors.Is(err, repository.ErrDuplicate) {
		user, err := s.findExisting(ctx, info)
		if err != nil {
			return nil, false, err
		}
		if user == nil {
			return nil, false, fmt.Errorf("user vanished after duplicate insert")
		}
		return user, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created", slog.Int64("user_id", newUser.ID))
	return newUser, true, nil
}

func (s *Service) findExisting(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	user, err := s.userRepo.FindByGoogleID(ctx, info.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google id: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = s.userRepo.FindByEmail(ctx, info.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// EstablishSession はセッションを作成し、セッションCookie用の署名付きトークンを返す。
func (s *Service) EstablishSession(ctx context.Context, userID int64) (*model.Session, string, error) {
	sessionID, err := randomToken(32)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.SessionMaxAge),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to save session: %w", err)
	}

	token, err := s.tokens.Sign(session.ID, session.ExpiresAt)
	if err != nil {
		return nil, "", err
	}

	return session, token, nil
}

// CurrentUser はセッショントークンから現在のユーザーを取得する。
// トークンが不正、セッションが存在しないか期限切れ、ユーザーが削除済みの場合はUNAUTHENTICATEDを返す。
func (s *Service) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.NewUnauthenticatedError()
	}

	sessionID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, model.NewUnauthenticatedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || !session.ExpiresAt.After(s.now()) {
		return nil, model.NewUnauthenticatedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}

	return user, nil
}

// Logout はトークンが指すセッションを破棄する。
// トークンが不正な場合は破棄するセッションがないため何もしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	sessionID, err := s.tokens.Verify(token)
	if err != nil {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

func (s *Service) recordLogin(result *LoginResult, err error) {
	switch {
	case err == nil && result.Created:
		s.metrics.RecordLogin(metrics.LoginOutcomeNewUser)
	case err == nil:
		s.metrics.RecordLogin(metrics.LoginOutcomeSuccess)
	case model.HasCode(err, model.ErrCodeAuthExchangeFailed):
		s.metrics.RecordLogin(metrics.LoginOutcomeRejected)
	default:
		s.metrics.RecordLogin(metrics.LoginOutcomeError)
	}
}

// randomToken は暗号的に安全なランダム文字列をURLセーフなBase64で返す。
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
