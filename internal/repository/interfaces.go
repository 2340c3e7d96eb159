// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/vaibhavij20/Welldoc/internal/model"
)

// ErrEmailTaken はメールアドレスが既に登録済みであることを表す。
var ErrEmailTaken = errors.New("email already registered")

// UserRepository はユーザーデータと2FA状態の永続化インターフェース。
// 2FA状態を変更するメソッドはいずれも単一のUPDATE文で実行され、部分的な状態を残さない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrEmailTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// SaveTwoFactorSetup は未検証のシークレットとバックアップコードを保存する。
	// 有効化フラグは変更しない。ユーザーが存在しない場合はfalseを返す。
	SaveTwoFactorSetup(ctx context.Context, userID, secret string, backupCodeHashes []string) (bool, error)

	// PromoteTwoFactor は未検証のシークレットが pendingSecret と一致する場合に限り
	// それを有効化済みに昇格し、2FAを有効にする。一致しない場合はfalseを返す。
	PromoteTwoFactor(ctx context.Context, userID, pendingSecret string, counter int64) (bool, error)

	// AdvanceTwoFactorCounter は最後に受理したタイムステップが counter より小さい場合に限り更新する。
	// 既に同じかそれ以降のステップが受理済みの場合はfalseを返す。
	AdvanceTwoFactorCounter(ctx context.Context, userID string, counter int64) (bool, error)

	// ConsumeBackupCode は有効なバックアップコードのダイジェストを1つ取り除く。
	// 該当するコードがない場合はfalseを返す。
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)

	// DisableTwoFactor は2FAを無効にし、シークレットとバックアップコードをすべて消去する。
	DisableTwoFactor(ctx context.Context, userID string) error
}

// EventRepository は操作イベントの永続化インターフェース。
type EventRepository interface {
	// Create はイベントを保存し、採番されたIDを返す。
	Create(ctx context.Context, event *model.Event) (int64, error)
}

// ConsentRepository は同意記録の永続化インターフェース。
type ConsentRepository interface {
	// Create は同意記録を保存し、採番されたIDを返す。
	Create(ctx context.Context, consent *model.Consent) (int64, error)
}

// FitTokenRepository はGoogle Fit連携トークンの永続化インターフェース。
type FitTokenRepository interface {
	// FindByOwnerKey はオーナーキーに紐づくトークンを取得する。見つからない場合はnilを返す。
	FindByOwnerKey(ctx context.Context, ownerKey string) (*model.FitToken, error)

	// Upsert はトークンを作成または更新する。
	// RefreshTokenが空の場合は既存のリフレッシュトークンを保持する。
	Upsert(ctx context.Context, token *model.FitToken) error
}
