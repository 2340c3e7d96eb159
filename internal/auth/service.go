// Package auth はパスワード認証、2要素認証（TOTP）、セッショントークン発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaibhavij20/Welldoc/internal/model"
	"github.com/vaibhavij20/Welldoc/internal/password"
	"github.com/vaibhavij20/Welldoc/internal/repository"
	"github.com/vaibhavij20/Welldoc/internal/totp"
)

// ログイン結果のラベル。メトリクスに使用する。
const (
	LoginResultSuccess            = "success"
	LoginResultInvalidCredentials = "invalid_credentials"
	LoginResultTwoFactorRequired  = "two_factor_required"
	LoginResultInvalidTwoFactor   = "invalid_two_factor"
)

// 2FAイベントのラベル。メトリクスに使用する。
const (
	TwoFactorEventSetup          = "setup"
	TwoFactorEventEnabled        = "enabled"
	TwoFactorEventDisabled       = "disabled"
	TwoFactorEventBackupCodeUsed = "backup_code_used"
	TwoFactorEventReplayRejected = "replay_rejected"
)

// PasswordHasher はパスワードハッシュの生成・照合を行う。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// TOTPEngine はTOTPシークレットの生成とコード検証を行う。
type TOTPEngine interface {
	GenerateSecret(accountName string) (*totp.Secret, error)
	GenerateBackupCodes() ([]string, error)
	VerifyAt(secret, code string, t time.Time) (bool, int64)
	RenderQRCode(otpauthURL string) (string, error)
}

// TokenIssuer はセッショントークンを発行する。
type TokenIssuer interface {
	Issue(userID, email string) (string, time.Time, error)
}

// Sanitizer は入力テキストからマークアップを除去する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Recorder は認証イベントを記録する。
type Recorder interface {
	RecordSignup()
	RecordLogin(result string)
	RecordTwoFactorEvent(event string)
}

// Config は認証サービスの設定。
type Config struct {
	// DummyPasswordHash は未登録メールアドレスでのログイン時に照合するハッシュ。
	// 登録済みかどうかで応答時間が変わらないようにする。空の場合は照合しない。
	DummyPasswordHash string
}

// SignupInput は新規登録の入力。
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput はログインの入力。TwoFactorTokenはTOTPコードまたはバックアップコード。
type LoginInput struct {
	Email          string
	Password       string
	TwoFactorToken string
}

// AuthResult はトークン発行を伴う認証の結果。
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      model.PublicUser
}

// LoginResult はログインの結果。
// RequiresTwoFactorがtrueの場合、Resultはnilでトークンは発行されていない。
type LoginResult struct {
	RequiresTwoFactor bool
	Result            *AuthResult
}

// TwoFactorSetup は2FAセットアップの結果。BackupCodesは平文で、この応答でのみ返す。
type TwoFactorSetup struct {
	Secret      string
	QRCode      string
	BackupCodes []string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	totp      TOTPEngine
	issuer    TokenIssuer
	sanitizer Sanitizer
	recorder  Recorder
	config    Config
	now       func() time.Time
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(
	users repository.UserRepository,
	hasher PasswordHasher,
	totpEngine TOTPEngine,
	issuer TokenIssuer,
	sanitizer Sanitizer,
	recorder Recorder,
	config Config,
) *Service {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Service{
		users:     users,
		hasher:    hasher,
		totp:      totpEngine,
		issuer:    issuer,
		sanitizer: sanitizer,
		recorder:  recorder,
		config:    config,
		now:       time.Now,
	}
}

// Signup はユーザーを登録し、セッショントークンを発行する。
// 検証は 必須項目 → メール形式 → パスワード強度 → 重複 の順に行う。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return nil, model.NewMissingFieldsError("Name, email, and password are required")
	}

	if !password.ValidateEmail(email) {
		return nil, model.NewInvalidEmailError()
	}

	if res := password.Validate(in.Password); !res.IsValid {
		return nil, model.NewWeakPasswordError(res.Errors)
	}

	name = s.sanitizer.Sanitize(name)
	if name == "" {
		return nil, model.NewMissingFieldsError("Name, email, and password are required")
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, model.NewUserExistsError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, model.NewUserExistsError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	s.recorder.RecordSignup()
	slog.Info("user signed up", slog.String("user_id", user.ID))

	return result, nil
}

// Login はパスワードと、2FAが有効な場合は2つ目の要素を検証してトークンを発行する。
// 2FAが有効でコードが無い場合はトークンを発行せずRequiresTwoFactorを返す。
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" {
		return nil, model.NewMissingFieldsError("Email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		if s.config.DummyPasswordHash != "" {
			s.hasher.Compare(s.config.DummyPasswordHash, in.Password)
		}
		s.recorder.RecordLogin(LoginResultInvalidCredentials)
		return nil, model.NewInvalidCredentialsError()
	}

	if !s.hasher.Compare(user.PasswordHash, in.Password) {
		s.recorder.RecordLogin(LoginResultInvalidCredentials)
		slog.Info("login rejected", slog.String("user_id", user.ID), slog.String("reason", LoginResultInvalidCredentials))
		return nil, model.NewInvalidCredentialsError()
	}

	if user.TwoFactorEnabled {
		code := strings.TrimSpace(in.TwoFactorToken)
		if code == "" {
			s.recorder.RecordLogin(LoginResultTwoFactorRequired)
			return &LoginResult{RequiresTwoFactor: true}, nil
		}

		ok, err := s.checkSecondFactor(ctx, user, code)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.recorder.RecordLogin(LoginResultInvalidTwoFactor)
			slog.Info("login rejected", slog.String("user_id", user.ID), slog.String("reason", LoginResultInvalidTwoFactor))
			return nil, model.NewInvalidTwoFactorCodeError()
		}
	}

	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	s.recorder.RecordLogin(LoginResultSuccess)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.Bool("two_factor", user.TwoFactorEnabled),
	)

	return &LoginResult{Result: result}, nil
}

// checkSecondFactor はTOTPコード、次にバックアップコードとして照合する。
// TOTPは受理済みのタイムステップ以前のコードを再利用として拒否する。
// バックアップコードは照合と同時に消費する。
func (s *Service) checkSecondFactor(ctx context.Context, user *model.User, code string) (bool, error) {
	if ok, counter := s.totp.VerifyAt(user.TwoFactorSecret, code, s.now()); ok {
		advanced, err := s.users.AdvanceTwoFactorCounter(ctx, user.ID, counter)
		if err != nil {
			return false, fmt.Errorf("failed to record two-factor counter: %w", err)
		}
		if !advanced {
			s.recorder.RecordTwoFactorEvent(TwoFactorEventReplayRejected)
			slog.Warn("two-factor code reuse rejected", slog.String("user_id", user.ID))
		}
		return advanced, nil
	}

	consumed, err := s.users.ConsumeBackupCode(ctx, user.ID, totp.HashBackupCode(code))
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	if consumed {
		s.recorder.RecordTwoFactorEvent(TwoFactorEventBackupCodeUsed)
		slog.Info("backup code used", slog.String("user_id", user.ID))
	}
	return consumed, nil
}

// SetupTwoFactor は新しいシークレットとバックアップコードを生成して未検証として保存する。
// 有効化状態は変更せず、VerifyTwoFactorの成功で初めて有効になる。
func (s *Service) SetupTwoFactor(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	secret, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	codes, err := s.totp.GenerateBackupCodes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate backup codes: %w", err)
	}

	qr, err := s.totp.RenderQRCode(secret.OTPAuthURL)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}

	saved, err := s.users.SaveTwoFactorSetup(ctx, user.ID, secret.Base32, totp.HashBackupCodes(codes))
	if err != nil {
		return nil, fmt.Errorf("failed to save two-factor setup: %w", err)
	}
	if !saved {
		return nil, model.NewUserNotFoundError()
	}

	s.recorder.RecordTwoFactorEvent(TwoFactorEventSetup)
	slog.Info("two-factor setup started", slog.String("user_id", user.ID))

	return &TwoFactorSetup{
		Secret:      secret.Base32,
		QRCode:      qr,
		BackupCodes: codes,
	}, nil
}

// VerifyTwoFactor は未検証のシークレットに対するコードを検証し、成功すれば2FAを有効にする。
func (s *Service) VerifyTwoFactor(ctx context.Context, userID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.NewMissingFieldsError("Token is required")
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorPendingSecret == "" {
		if user.TwoFactorEnabled && user.TwoFactorSecret != "" {
			return s.reconfirmActiveSecret(ctx, user, code)
		}
		return model.NewTwoFactorNotSetUpError()
	}

	ok, counter := s.totp.VerifyAt(user.TwoFactorPendingSecret, code, s.now())
	if !ok {
		return model.NewInvalidCodeError()
	}

	promoted, err := s.users.PromoteTwoFactor(ctx, user.ID, user.TwoFactorPendingSecret, counter)
	if err != nil {
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}
	if !promoted {
		// 検証中に再セットアップされ、未検証シークレットが入れ替わった
		slog.Warn("two-factor secret changed during verification", slog.String("user_id", user.ID))
		return model.NewInvalidCodeError()
	}

	s.recorder.RecordTwoFactorEvent(TwoFactorEventEnabled)
	slog.Info("two-factor enabled", slog.String("user_id", user.ID))

	return nil
}

// reconfirmActiveSecret は有効化済みで再セットアップ中でないユーザーのコードを
// 有効なシークレットで照合する。状態は変えず、受理したステップだけ記録する。
func (s *Service) reconfirmActiveSecret(ctx context.Context, user *model.User, code string) error {
	ok, counter := s.totp.VerifyAt(user.TwoFactorSecret, code, s.now())
	if !ok {
		return model.NewInvalidCodeError()
	}

	advanced, err := s.users.AdvanceTwoFactorCounter(ctx, user.ID, counter)
	if err != nil {
		return fmt.Errorf("failed to record two-factor counter: %w", err)
	}
	if !advanced {
		s.recorder.RecordTwoFactorEvent(TwoFactorEventReplayRejected)
		return model.NewInvalidCodeError()
	}
	return nil
}

// DisableTwoFactor は2FAを無効にし、シークレットとバックアップコードを消去する。
// 再認証は求めない。
func (s *Service) DisableTwoFactor(ctx context.Context, userID string) error {
	if err := s.users.DisableTwoFactor(ctx, userID); err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}

	s.recorder.RecordTwoFactorEvent(TwoFactorEventDisabled)
	slog.Info("two-factor disabled", slog.String("user_id", userID))

	return nil
}

// TwoFactorStatus は2FAが有効かどうかを返す。
func (s *Service) TwoFactorStatus(ctx context.Context, userID string) (bool, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.TwoFactorEnabled, nil
}

// CurrentUser はユーザーの公開情報を返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.PublicUser, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	pub := user.Public()
	return &pub, nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) issue(user *model.User) (*AuthResult, error) {
	tok, expiresAt, err := s.issuer.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &AuthResult{
		Token:     tok,
		ExpiresAt: expiresAt,
		User:      user.Public(),
	}, nil
}

type noopRecorder struct{}

func (noopRecorder) RecordSignup()               {}
func (noopRecorder) RecordLogin(string)          {}
func (noopRecorder) RecordTwoFactorEvent(string) {}
