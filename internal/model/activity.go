package model

import (
	"encoding/json"
	"time"
)

// Event はクライアントから送信された操作イベントを表す。
type Event struct {
	ID        int64
	UserID    *string
	SessionID *string
	EventType string
	Scenario  *string
	Timestamp time.Time
	Details   json.RawMessage
}

// Consent はユーザーのデータ利用同意の記録を表す。
type Consent struct {
	ID        int64
	UserID    *string
	Consent   json.RawMessage
	GrantedAt time.Time
}

// FitToken はGoogle Fit連携で取得したOAuthトークンを表す。
// OwnerKeyはユーザーに紐づく場合 "user:<id>"、未ログインの連携フローでは "anon:<random>" となる。
type FitToken struct {
	OwnerKey     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
