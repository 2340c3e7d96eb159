package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vaibhavij20/Welldoc/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

// Create はイベントを保存し、採番されたIDを返す。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO events (user_id, session_id, event_type, scenario, timestamp, details)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		event.UserID, event.SessionID, event.EventType, event.Scenario, event.Timestamp, []byte(event.Details),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

// PostgresConsentRepo はPostgreSQLを使用した同意記録リポジトリ。
type PostgresConsentRepo struct {
	db *sql.DB
}

// NewPostgresConsentRepo はPostgresConsentRepoを生成する。
func NewPostgresConsentRepo(db *sql.DB) *PostgresConsentRepo {
	return &PostgresConsentRepo{db: db}
}

// Create は同意記録を保存し、採番されたIDを返す。
func (r *PostgresConsentRepo) Create(ctx context.Context, consent *model.Consent) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO consents (user_id, consent, granted_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		consent.UserID, []byte(consent.Consent), consent.GrantedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert consent: %w", err)
	}
	return id, nil
}

// compile-time interface check
var (
	_ EventRepository   = (*PostgresEventRepo)(nil)
	_ ConsentRepository = (*PostgresConsentRepo)(nil)
)
