// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: auth, validation, integration, system
	Action   string   // ユーザー向け対処方法
	Details  []string // 検証エラーの内訳など（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingFields        = "MISSING_FIELDS"
	ErrCodeInvalidEmail         = "INVALID_EMAIL"
	ErrCodeWeakPassword         = "WEAK_PASSWORD"
	ErrCodeUserExists           = "USER_EXISTS"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeInvalidTwoFactorCode = "INVALID_TWO_FACTOR_CODE"
	ErrCodeTwoFactorNotSetUp    = "TWO_FACTOR_NOT_SET_UP"
	ErrCodeInvalidCode          = "INVALID_CODE"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidToken         = "INVALID_TOKEN"
	ErrCodeTokenExpired         = "TOKEN_EXPIRED"
	ErrCodeEventTypeRequired    = "EVENT_TYPE_REQUIRED"
	ErrCodeConsentRequired      = "CONSENT_REQUIRED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeFitNotConnected      = "FIT_NOT_CONNECTED"
	ErrCodeProviderError        = "PROVIDER_ERROR"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewMissingFieldsError は必須項目が欠けている場合のエラーを生成する。
func NewMissingFieldsError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingFields,
		Message:  message,
		Category: "validation",
		Action:   "Fill in all required fields and try again.",
	}
}

// NewInvalidEmailError はメールアドレス形式が不正な場合のエラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "Invalid email format",
		Category: "validation",
		Action:   "Enter an address such as name@example.com.",
	}
}

// NewWeakPasswordError はパスワードが強度要件を満たさない場合のエラーを生成する。
// detailsには満たしていない要件がすべて含まれる。
func NewWeakPasswordError(details []string) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  "Password does not meet requirements",
		Category: "validation",
		Action:   "Choose a password that satisfies every listed requirement.",
		Details:  details,
	}
}

// NewUserExistsError はメールアドレスが登録済みの場合のエラーを生成する。
func NewUserExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserExists,
		Message:  "User already exists",
		Category: "validation",
		Action:   "Log in instead, or sign up with a different email.",
	}
}

// NewInvalidCredentialsError は認証情報が一致しない場合のエラーを生成する。
// アカウント列挙を防ぐため、未登録と不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewInvalidTwoFactorCodeError はログイン時の2FAコードが不正な場合のエラーを生成する。
func NewInvalidTwoFactorCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTwoFactorCode,
		Message:  "Invalid two-factor authentication code",
		Category: "auth",
		Action:   "Enter the current code from your authenticator app or an unused backup code.",
	}
}

// NewTwoFactorNotSetUpError は2FAセットアップ前にverifyが呼ばれた場合のエラーを生成する。
func NewTwoFactorNotSetUpError() *APIError {
	return &APIError{
		Code:     ErrCodeTwoFactorNotSetUp,
		Message:  "2FA not set up. Please run setup first.",
		Category: "auth",
		Action:   "Start two-factor setup before verifying a code.",
	}
}

// NewInvalidCodeError は2FA有効化時のコードが不正な場合のエラーを生成する。
func NewInvalidCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "Invalid token",
		Category: "auth",
		Action:   "Enter the 6-digit code currently shown in your authenticator app.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewUnauthorizedError はBearerトークンが無い場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "No token provided",
		Category: "auth",
		Action:   "Log in to continue.",
	}
}

// NewInvalidTokenError はBearerトークンの署名や形式が不正な場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "Invalid token",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewTokenExpiredError はBearerトークンが期限切れの場合のエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "Token expired",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewEventTypeRequiredError はeventTypeが無い場合のエラーを生成する。
func NewEventTypeRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeEventTypeRequired,
		Message:  "eventType required",
		Category: "validation",
		Action:   "Include eventType in the request body.",
	}
}

// NewConsentRequiredError はconsentが無い場合のエラーを生成する。
func NewConsentRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeConsentRequired,
		Message:  "consent required",
		Category: "validation",
		Action:   "Include consent in the request body.",
	}
}

// NewInvalidRequestError はリクエストボディやクエリが解釈できない場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request format.",
	}
}

// NewFitNotConnectedError はGoogle Fitが未連携の場合のエラーを生成する。
func NewFitNotConnectedError() *APIError {
	return &APIError{
		Code:     ErrCodeFitNotConnected,
		Message:  "Google Fit is not connected",
		Category: "integration",
		Action:   "Connect Google Fit from the dashboard.",
	}
}

// NewProviderError は外部IdP・外部APIの失敗を表すエラーを生成する。
// プロバイダーからの詳細は診断用にそのまま渡す。
func NewProviderError(provider string, details ...string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderError,
		Message:  fmt.Sprintf("%s request failed", provider),
		Category: "integration",
		Action:   "Try again later. Reconnect the integration if the problem persists.",
		Details:  details,
	}
}
