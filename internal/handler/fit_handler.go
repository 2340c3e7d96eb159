package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vaibhavij20/Welldoc/internal/googlefit"
	"github.com/vaibhavij20/Welldoc/internal/middleware"
	"github.com/vaibhavij20/Welldoc/internal/model"
)

const (
	fitConnectionCookie = "fit_connection"
	// fitNonceCookie は連携を開始したブラウザを識別するnonce。stateにも同じ値を載せる。
	fitNonceCookie = "fit_oauth_nonce"
	fitCookiePath  = "/auth/google-fit"
	fitStateTTL    = 10 * time.Minute
	defaultFitDays = 7
)

// FitServiceInterface はGoogle Fitハンドラーが必要とするサービスインターフェース。
type FitServiceInterface interface {
	AuthURL(state string) string
	Connect(ctx context.Context, ownerKey, code string) error
	Status(ctx context.Context, ownerKey string) bool
	DailyMetrics(ctx context.Context, ownerKey string, days int) ([]googlefit.DailyMetric, error)
}

// StateSigner はOAuthのstate値の発行と検証を行うインターフェース。
type StateSigner interface {
	IssueState(ownerKey, nonce string, ttl time.Duration) (string, error)
	VerifyState(state string) (ownerKey, nonce string, err error)
}

// FitHandlerConfig はGoogle Fitハンドラーの設定。
type FitHandlerConfig struct {
	BaseURL      string
	SuccessPath  string
	CookieSecure bool
	CookieMaxAge int // 未ログイン連携Cookieの有効期間（秒）
}

// FitHandler はGoogle Fit連携のHTTPハンドラー。
type FitHandler struct {
	service FitServiceInterface
	states  StateSigner
	config  FitHandlerConfig
}

// NewFitHandler はFitHandlerを生成する。
func NewFitHandler(service FitServiceInterface, states StateSigner, config FitHandlerConfig) *FitHandler {
	return &FitHandler{
		service: service,
		states:  states,
		config:  config,
	}
}

type fitURLResponse struct {
	URL string `json:"url"`
}

type fitStatusResponse struct {
	Connected bool `json:"connected"`
}

type fitMetricsResponse struct {
	Days    int                     `json:"days"`
	Metrics []googlefit.DailyMetric `json:"metrics"`
}

// Login はGoogle Fitの認可画面へリダイレクトする。
// GET /auth/google-fit/login
func (h *FitHandler) Login(w http.ResponseWriter, r *http.Request) {
	authURL, ok := h.authURL(w, r)
	if !ok {
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// URL はGoogle Fitの認可URLをJSONで返す。
// GET /auth/google-fit/url
func (h *FitHandler) URL(w http.ResponseWriter, r *http.Request) {
	authURL, ok := h.authURL(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, fitURLResponse{URL: authURL})
}

// Callback はOAuthコールバックを処理し、トークンを保存してフロントエンドへリダイレクトする。
// stateは連携を開始したブラウザのnonce Cookieと一致しなければならない。
// GET /auth/google-fit/callback?code=xxx&state=yyy
func (h *FitHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ownerKey, nonce, err := h.states.VerifyState(q.Get("state"))
	if err != nil {
		slog.Warn("google fit state verification failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid state parameter"))
		return
	}
	if !h.startedByThisBrowser(r, ownerKey, nonce) {
		slog.Warn("google fit callback from a different browser",
			slog.Bool("anonymous", googlefit.IsAnonymousOwnerKey(ownerKey)),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid state parameter"))
		return
	}
	h.clearNonceCookie(w)

	// ユーザーが同意を拒否した場合
	if providerErr := q.Get("error"); providerErr != "" {
		slog.Info("google fit authorization denied", slog.String("reason", providerErr))
		http.Redirect(w, r, h.successURL(url.Values{"error": {providerErr}}), http.StatusTemporaryRedirect)
		return
	}

	if err := h.service.Connect(r.Context(), ownerKey, q.Get("code")); err != nil {
		handleServiceError(w, err)
		return
	}

	http.Redirect(w, r, h.successURL(nil), http.StatusTemporaryRedirect)
}

// Status は連携状態を返す。
// GET /auth/google-fit/status
func (h *FitHandler) Status(w http.ResponseWriter, r *http.Request) {
	ownerKey := h.existingOwnerKey(r)
	writeJSON(w, http.StatusOK, fitStatusResponse{
		Connected: ownerKey != "" && h.service.Status(r.Context(), ownerKey),
	})
}

// Metrics は直近N日分の日次メトリクスを返す。
// GET /api/fit/metrics?days=N
func (h *FitHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	days := defaultFitDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > googlefit.MaxDays {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("days must be an integer between 1 and "+strconv.Itoa(googlefit.MaxDays)))
			return
		}
		days = n
	}

	ownerKey := h.existingOwnerKey(r)
	if ownerKey == "" {
		handleServiceError(w, model.NewFitNotConnectedError())
		return
	}

	metrics, err := h.service.DailyMetrics(r.Context(), ownerKey, days)
	if err != nil {
		if errors.Is(err, googlefit.ErrNotConnected) {
			err = model.NewFitNotConnectedError()
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, fitMetricsResponse{Days: days, Metrics: metrics})
}

// authURL はオーナーキーを確定させ、署名済みstateを含む認可URLを返す。
// 未ログインかつCookieが無い場合は新しい匿名キーを発行してCookieに保存する。
func (h *FitHandler) authURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerKey := h.existingOwnerKey(r)
	if ownerKey == "" {
		key, err := googlefit.NewAnonymousOwnerKey()
		if err != nil {
			slog.Error("failed to generate owner key", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return "", false
		}
		ownerKey = key
		h.setConnectionCookie(w, ownerKey)
	}

	nonce, err := newFlowNonce()
	if err != nil {
		slog.Error("failed to generate state nonce", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return "", false
	}

	state, err := h.states.IssueState(ownerKey, nonce, fitStateTTL)
	if err != nil {
		slog.Error("failed to issue google fit state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return "", false
	}

	h.setNonceCookie(w, nonce)
	return h.service.AuthURL(state), true
}

// startedByThisBrowser はコールバックを受けたブラウザが連携を開始したブラウザかを判定する。
// 匿名キーの場合は連携Cookieもstateのオーナーキーと一致しなければならない。
func (h *FitHandler) startedByThisBrowser(r *http.Request, ownerKey, nonce string) bool {
	c, err := r.Cookie(fitNonceCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(c.Value), []byte(nonce)) != 1 {
		return false
	}
	if googlefit.IsAnonymousOwnerKey(ownerKey) {
		conn, err := r.Cookie(fitConnectionCookie)
		if err != nil || subtle.ConstantTimeCompare([]byte(conn.Value), []byte(ownerKey)) != 1 {
			return false
		}
	}
	return true
}

func newFlowNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// existingOwnerKey はログインユーザーのキー、次に連携Cookieの匿名キーを返す。
// どちらも無い場合は空文字を返す。
func (h *FitHandler) existingOwnerKey(r *http.Request) string {
	if userID, err := middleware.UserIDFromContext(r.Context()); err == nil {
		return googlefit.UserOwnerKey(userID)
	}
	if c, err := r.Cookie(fitConnectionCookie); err == nil && googlefit.IsAnonymousOwnerKey(c.Value) {
		return c.Value
	}
	return ""
}

func (h *FitHandler) setConnectionCookie(w http.ResponseWriter, ownerKey string) {
	http.SetCookie(w, &http.Cookie{
		Name:     fitConnectionCookie,
		Value:    ownerKey,
		Path:     "/",
		MaxAge:   h.config.CookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *FitHandler) setNonceCookie(w http.ResponseWriter, nonce string) {
	http.SetCookie(w, &http.Cookie{
		Name:     fitNonceCookie,
		Value:    nonce,
		Path:     fitCookiePath,
		MaxAge:   int(fitStateTTL / time.Second),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *FitHandler) clearNonceCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     fitNonceCookie,
		Value:    "",
		Path:     fitCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *FitHandler) successURL(params url.Values) string {
	u := h.config.BaseURL + h.config.SuccessPath
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}
