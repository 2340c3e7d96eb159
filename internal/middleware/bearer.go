// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vaibhavij20/Welldoc/internal/model"
	"github.com/vaibhavij20/Welldoc/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// TokenVerifier はBearerトークンの検証に必要なインターフェース。
// token.Issuerの部分集合として定義する。
type TokenVerifier interface {
	Verify(tok string) (*token.Claims, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
// トークンが無い、不正、期限切れの場合は401を返す。
func NewBearerAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				if errors.Is(err, token.ErrExpired) {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenExpiredError())
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
				return
			}

			next.ServeHTTP(w, r.WithContext(withAuthenticatedUser(r.Context(), claims.UserID)))
		})
	}
}

// NewOptionalBearerMiddleware はBearerトークンがあれば検証してユーザーIDを注入するミドルウェアを返す。
// トークンが無い、または検証に失敗した場合は未ログインとして処理を続行する。
func NewOptionalBearerMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw != "" {
				if claims, err := verifier.Verify(raw); err == nil {
					r = r.WithContext(withAuthenticatedUser(r.Context(), claims.UserID))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークン部分を取り出す。
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

// withAuthenticatedUser はユーザーIDをコンテキストに注入し、ログ用の保持領域にも記録する。
func withAuthenticatedUser(ctx context.Context, userID string) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// Bearerミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
