package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vaibhavij20/Welldoc/internal/model"
)

// PostgresFitTokenRepo はPostgreSQLを使用したGoogle Fitトークンリポジトリ。
type PostgresFitTokenRepo struct {
	db *sql.DB
}

// NewPostgresFitTokenRepo はPostgresFitTokenRepoを生成する。
func NewPostgresFitTokenRepo(db *sql.DB) *PostgresFitTokenRepo {
	return &PostgresFitTokenRepo{db: db}
}

// FindByOwnerKey はオーナーキーに紐づくトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresFitTokenRepo) FindByOwnerKey(ctx context.Context, ownerKey string) (*model.FitToken, error) {
	tok := &model.FitToken{}
	var expiry sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT owner_key, access_token, refresh_token, token_type, expiry, created_at, updated_at
		 FROM fit_tokens WHERE owner_key = $1`,
		ownerKey,
	).Scan(&tok.OwnerKey, &tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry, &tok.CreatedAt, &tok.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find fit token: %w", err)
	}

	if expiry.Valid {
		tok.Expiry = &expiry.Time
	}
	return tok, nil
}

// Upsert はトークンを作成または更新する。
// Googleは再同意時にリフレッシュトークンを返さないことがあるため、空なら既存値を残す。
func (r *PostgresFitTokenRepo) Upsert(ctx context.Context, token *model.FitToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fit_tokens (owner_key, access_token, refresh_token, token_type, expiry, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (owner_key) DO UPDATE SET
		     access_token = EXCLUDED.access_token,
		     refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), fit_tokens.refresh_token),
		     token_type = EXCLUDED.token_type,
		     expiry = EXCLUDED.expiry,
		     updated_at = now()`,
		token.OwnerKey, token.AccessToken, token.RefreshToken, token.TokenType, token.Expiry,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fit token: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FitTokenRepository = (*PostgresFitTokenRepo)(nil)
