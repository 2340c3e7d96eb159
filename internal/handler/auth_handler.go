package handler

import (
	"context"
	"net/http"

	"github.com/vaibhavij20/Welldoc/internal/auth"
	"github.com/vaibhavij20/Welldoc/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) (*auth.AuthResult, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	SetupTwoFactor(ctx context.Context, userID string) (*auth.TwoFactorSetup, error)
	VerifyTwoFactor(ctx context.Context, userID, code string) error
	DisableTwoFactor(ctx context.Context, userID string) error
	TwoFactorStatus(ctx context.Context, userID string) (bool, error)
	CurrentUser(ctx context.Context, userID string) (*model.PublicUser, error)
}

// AuthHandler はパスワード認証と2FA関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	TwoFactorToken string `json:"twoFactorToken"`
}

type verifyTwoFactorRequest struct {
	Token string `json:"token"`
}

// authResponse はトークン発行を伴う認証成功時のレスポンス。
type authResponse struct {
	Success bool             `json:"success"`
	Token   string           `json:"token"`
	User    model.PublicUser `json:"user"`
}

// twoFactorRequiredResponse は2FAコードの入力が必要な場合のレスポンス。
// HTTPステータスは200で、トークンは発行しない。
type twoFactorRequiredResponse struct {
	Success           bool   `json:"success"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	Message           string `json:"message"`
}

type twoFactorSetupResponse struct {
	Success     bool     `json:"success"`
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type twoFactorStatusResponse struct {
	Success          bool `json:"success"`
	TwoFactorEnabled bool `json:"twoFactorEnabled"`
}

type meResponse struct {
	User *model.PublicUser `json:"user"`
}

// Signup はユーザー登録を処理する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Signup(r.Context(), auth.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		Token:   result.Token,
		User:    result.User,
	})
}

// Login はログインを処理する。
// 2FA有効ユーザーがコードを送っていない場合は requiresTwoFactor を返す。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Email:          req.Email,
		Password:       req.Password,
		TwoFactorToken: req.TwoFactorToken,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if result.RequiresTwoFactor {
		writeJSON(w, http.StatusOK, twoFactorRequiredResponse{
			Success:           false,
			RequiresTwoFactor: true,
			Message:           "Two-factor authentication required",
		})
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		Token:   result.Result.Token,
		User:    result.Result.User,
	})
}

// SetupTwoFactor は2FAのシークレットとQRコード、バックアップコードを生成する。
// POST /auth/2fa/setup
func (h *AuthHandler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	setup, err := h.service.SetupTwoFactor(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// バックアップコードを平文で返すのはこの応答のみ
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, twoFactorSetupResponse{
		Success:     true,
		Secret:      setup.Secret,
		QRCode:      setup.QRCode,
		BackupCodes: setup.BackupCodes,
	})
}

// VerifyTwoFactor はコードを検証して2FAを有効化する。
// POST /auth/2fa/verify
func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req verifyTwoFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.VerifyTwoFactor(r.Context(), userID, req.Token); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "2FA enabled successfully"})
}

// DisableTwoFactor は2FAを無効化する。
// POST /auth/2fa/disable
func (h *AuthHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DisableTwoFactor(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "2FA disabled successfully"})
}

// TwoFactorStatus は2FAの有効状態を返す。
// GET /auth/2fa/status
func (h *AuthHandler) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	enabled, err := h.service.TwoFactorStatus(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, twoFactorStatusResponse{Success: true, TwoFactorEnabled: enabled})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: user})
}
