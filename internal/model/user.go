// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーと認証情報を表す。
// TwoFactorEnabledがtrueの場合、TwoFactorSecretは必ず空でない。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Category     *string

	TwoFactorEnabled     bool
	TwoFactorSecret      string   // 有効化済みのbase32シークレット
	TwoFactorBackupCodes []string // 有効化済みバックアップコードのSHA-256ダイジェスト

	// セットアップ済みだが未検証のシークレットとバックアップコード。
	// verifyが成功した時点で有効化済みの値に昇格する。
	TwoFactorPendingSecret      string
	TwoFactorPendingBackupCodes []string

	// 最後に受理したTOTPのタイムステップ。これ以下のステップのコードは再利用とみなす。
	TwoFactorLastCounter int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicUser はクライアントに返すユーザーの射影。
// パスワードハッシュや2FAシークレットを含まない。
type PublicUser struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Email            string  `json:"email"`
	Category         *string `json:"category"`
	TwoFactorEnabled bool    `json:"twoFactorEnabled"`
}

// Public はUserからPublicUserを生成する。
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		Category:         u.Category,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}
