package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vaibhavij20/Welldoc/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

const userColumns = `id, name, email, password_hash, category,
	two_factor_enabled, two_factor_secret, two_factor_backup_codes,
	two_factor_pending_secret, two_factor_pending_backup_codes,
	two_factor_last_counter, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// 事前の重複チェックをすり抜けた同時登録も一意制約違反としてErrEmailTakenに変換する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, category, two_factor_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6, $7)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Category, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// SaveTwoFactorSetup は未検証のシークレットとバックアップコードを保存する。
func (r *PostgresUserRepo) SaveTwoFactorSetup(ctx context.Context, userID, secret string, backupCodeHashes []string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET two_factor_pending_secret = $2,
		     two_factor_pending_backup_codes = $3,
		     updated_at = now()
		 WHERE id = $1`,
		userID, secret, pq.Array(backupCodeHashes),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save two-factor setup: %w", err)
	}
	return affectedOne(result)
}

// PromoteTwoFactor は未検証のシークレットを有効化済みに昇格する。
// WHERE句で未検証シークレットを比較し、検証中に再セットアップされた場合は更新しない。
func (r *PostgresUserRepo) PromoteTwoFactor(ctx context.Context, userID, pendingSecret string, counter int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET two_factor_enabled = true,
		     two_factor_secret = two_factor_pending_secret,
		     two_factor_backup_codes = two_factor_pending_backup_codes,
		     two_factor_pending_secret = NULL,
		     two_factor_pending_backup_codes = NULL,
		     two_factor_last_counter = $3,
		     updated_at = now()
		 WHERE id = $1 AND two_factor_pending_secret = $2`,
		userID, pendingSecret, counter,
	)
	if err != nil {
		return false, fmt.Errorf("failed to promote two-factor secret: %w", err)
	}
	return affectedOne(result)
}

// AdvanceTwoFactorCounter は最後に受理したタイムステップを前進させる。
func (r *PostgresUserRepo) AdvanceTwoFactorCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET two_factor_last_counter = $2, updated_at = now()
		 WHERE id = $1 AND two_factor_enabled AND two_factor_last_counter < $2`,
		userID, counter,
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance two-factor counter: %w", err)
	}
	return affectedOne(result)
}

// ConsumeBackupCode はバックアップコードのダイジェストを取り除く。
func (r *PostgresUserRepo) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET two_factor_backup_codes = array_remove(two_factor_backup_codes, $2),
		     updated_at = now()
		 WHERE id = $1 AND two_factor_enabled AND $2 = ANY(two_factor_backup_codes)`,
		userID, codeHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	return affectedOne(result)
}

// DisableTwoFactor は2FAを無効にし、関連する値をすべて消去する。
func (r *PostgresUserRepo) DisableTwoFactor(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET two_factor_enabled = false,
		     two_factor_secret = NULL,
		     two_factor_backup_codes = NULL,
		     two_factor_pending_secret = NULL,
		     two_factor_pending_backup_codes = NULL,
		     two_factor_last_counter = 0,
		     updated_at = now()
		 WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		user          model.User
		category      sql.NullString
		secret        sql.NullString
		pendingSecret sql.NullString
	)

	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &category,
		&user.TwoFactorEnabled, &secret, pq.Array(&user.TwoFactorBackupCodes),
		&pendingSecret, pq.Array(&user.TwoFactorPendingBackupCodes),
		&user.TwoFactorLastCounter, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if category.Valid {
		user.Category = &category.String
	}
	user.TwoFactorSecret = secret.String
	user.TwoFactorPendingSecret = pendingSecret.String

	return &user, nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
